// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logging configures the package-level zerolog logger once at
// startup, per SPEC_FULL.md §10.1. No teacher bootstrap file survived
// retrieval, so this is built directly against the zerolog/lumberjack
// APIs the rest of the tree already logs through.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Configure sets the global zerolog logger and level from the daemon's
// config. When path is empty, logs go to stdout in zerolog's console
// (human-readable) format, colored only when color is true (the caller
// decides this from a TTY check — a piped/redirected stdout gets plain
// text); otherwise logs go to a rotating file via lumberjack, sized by
// maxSizeMB/maxBackups.
func Configure(level, path string, maxSizeMB, maxBackups int, color bool) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	var writer io.Writer
	if path == "" {
		writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.NoColor = !color
		})
	} else {
		writer = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}

	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return nil
}
