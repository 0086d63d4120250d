// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	err := Configure("not-a-level", "", 10, 1, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestConfigureToStdoutSetsGlobalLevel(t *testing.T) {
	err := Configure("warn", "", 10, 1, true)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestConfigureToFileWritesLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlm.log")

	err := Configure("info", path, 1, 1, false)
	require.NoError(t, err)

	log.Logger.Info().Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
