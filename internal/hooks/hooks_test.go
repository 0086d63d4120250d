// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/domain"
)

func TestRunIsNoOpWithNoCommandConfigured(t *testing.T) {
	t.Parallel()

	h := New("")
	h.Run(context.Background(), domain.TrackedTorrent{})
}

func TestRunIsNoOpOnNilHook(t *testing.T) {
	t.Parallel()

	var h *Hook
	h.Run(context.Background(), domain.TrackedTorrent{})
}

func TestRunExecutesConfiguredCommandWithTorrentEnv(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "hook.out")
	h := New(`sh -c 'echo $MLM_HASH:$MLM_TITLE > ` + outFile + `'`)

	tt := domain.TrackedTorrent{TorrentMeta: domain.TorrentMeta{
		InfoHash: "abc123",
		Title:    "The Way of Kings",
	}}
	h.Run(context.Background(), tt)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "abc123:The Way of Kings\n", string(data))
}

func TestRunLogsAndSurvivesNonZeroExit(t *testing.T) {
	t.Parallel()

	h := New("false")
	h.Run(context.Background(), domain.TrackedTorrent{TorrentMeta: domain.TorrentMeta{InfoHash: "abc"}})
}

func TestRunLogsAndSurvivesUnparsableCommand(t *testing.T) {
	t.Parallel()

	h := New(`echo "unterminated`)
	h.Run(context.Background(), domain.TrackedTorrent{})
}
