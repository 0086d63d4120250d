// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package update implements SPEC_FULL.md §10.7's optional, off-by-default
// startup update check: log when a newer release exists, never install
// one. Adapted from the teacher's internal/update, which used the same
// github.com/creativeprojects/go-selfupdate detection to replace its own
// running binary in place — that install path has no place in a daemon a
// process supervisor restarts on exit, so it is dropped; only the
// detect-and-report half survives.
package update

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/rs/zerolog/log"
)

// Config identifies the release to check against.
type Config struct {
	Repository string // "owner/repo" slug on GitHub
	Version    string // the running binary's version, e.g. buildinfo.Version
}

// Checker detects whether a newer release exists.
type Checker struct {
	config Config
}

func NewChecker(config Config) *Checker {
	return &Checker{config: config}
}

// Check reports whether config.Repository has a release newer than
// config.Version, logging the outcome either way. It never downloads or
// installs anything.
func (c *Checker) Check(ctx context.Context) (newer bool, err error) {
	if _, err := semver.NewVersion(c.config.Version); err != nil {
		return false, fmt.Errorf("parse current version %q: %w", c.config.Version, err)
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(c.config.Repository))
	if err != nil {
		return false, fmt.Errorf("detect latest release for %s: %w", c.config.Repository, err)
	}
	if !found {
		log.Debug().Str("repository", c.config.Repository).Msg("update: no releases found")
		return false, nil
	}

	if latest.LessOrEqual(c.config.Version) {
		log.Debug().Str("version", c.config.Version).Msg("update: already running the latest version")
		return false, nil
	}

	log.Info().
		Str("current", c.config.Version).
		Str("latest", latest.Version()).
		Str("url", latest.AssetURL).
		Msg("update: a newer release is available")
	return true, nil
}
