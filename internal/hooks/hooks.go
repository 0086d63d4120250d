// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hooks implements the optional post-link external-program hook
// (SPEC_FULL.md §11/§12): a user-configured shell command run after L6
// successfully materializes a torrent into the library, with the linked
// torrent's identity passed in as environment variables. Adapted from the
// teacher's internal/externalprograms, scaled down from qBittorrent's full
// per-torrent-program allowlist/terminal-emulator machinery to the single
// command spec.md's README-level "extension point" calls for.
package hooks

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	shellquote "github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/domain"
)

// timeout bounds a stuck hook so it can never wedge a scheduler tick
// indefinitely; the scheduler's own singleflight guarantee only protects
// against overlapping ticks of the *same* task, not a hung child process.
const timeout = 30 * time.Second

// Hook runs a configured shell command after a successful L6 link.
type Hook struct {
	command string
}

// New returns a Hook for the given shell command line. An empty command
// means "no hook configured"; Run is then a no-op.
func New(command string) *Hook {
	return &Hook{command: command}
}

// Run executes the configured command, if any, with the linked torrent's
// identity in its environment. Errors are logged, never returned to the
// linker: a broken hook must not stop L6 from recording the link.
func (h *Hook) Run(ctx context.Context, t domain.TrackedTorrent) {
	if h == nil || h.command == "" {
		return
	}

	args, err := shellquote.Split(h.command)
	if err != nil {
		log.Warn().Err(err).Str("command", h.command).Msg("hooks: split post-link command")
		return
	}
	if len(args) == 0 {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), envFor(t)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		log.Warn().
			Err(err).
			Str("hash", t.InfoHash).
			Str("command", h.command).
			Str("stderr", stderr.String()).
			Dur("duration", duration).
			Msg("hooks: post-link hook exited with error")
		return
	}

	log.Debug().
		Str("hash", t.InfoHash).
		Str("command", h.command).
		Dur("duration", duration).
		Msg("hooks: post-link hook completed")
}

// envFor builds the MLM_-prefixed environment a post-link hook sees,
// alongside the process's inherited environment.
func envFor(t domain.TrackedTorrent) []string {
	return []string{
		"MLM_HASH=" + t.InfoHash,
		"MLM_TITLE=" + t.Title,
		"MLM_MAIN_CAT=" + string(t.MainCat),
		"MLM_CATEGORY=" + t.Category,
		"MLM_LIBRARY_PATH=" + t.LibraryPath,
		"MLM_AUTHORS=" + joinComma(t.Authors),
	}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
