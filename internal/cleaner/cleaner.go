// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cleaner implements the L7 supersession cleaner: given a
// just-linked torrent, it finds every other tracked torrent sharing its
// identity key, compares formats, and retires whichever loses, per spec
// §4.6. It satisfies internal/linker's Superseder interface and is invoked
// once per successful link, never on its own schedule.
package cleaner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/linker"
	"github.com/s0up/mlm/internal/store"
)

// Store is the subset of *store.Store a cleaning run needs.
type Store interface {
	IterTracked(ctx context.Context, filter store.TrackedFilter) ([]domain.TrackedTorrent, error)
	MarkReplaced(ctx context.Context, oldHash, newHash string) error
	SetLibrary(ctx context.Context, hash, path string, files []string) error
	AppendEvent(ctx context.Context, rec domain.EventRecord) error
}

// ClientMutator applies a library rule's on_cleaned action. Satisfied by
// *qbitclient.Pool.
type ClientMutator interface {
	ApplyOnCleaned(ctx context.Context, instance, hash, category string, tags []string) error
}

// Cleaner runs L7 against one just-linked torrent at a time.
type Cleaner struct {
	store  Store
	client ClientMutator
	rules  []domain.LibraryRule
	cfg    domain.Config

	inflight singleflight.Group
}

func New(st Store, client ClientMutator, rules []domain.LibraryRule, cfg domain.Config) *Cleaner {
	return &Cleaner{store: st, client: client, rules: rules, cfg: cfg}
}

// Supersede implements internal/linker.Superseder. It is the single
// entrypoint into L7: given the torrent L6 just linked, find every tracked
// torrent sharing its identity key and retire whichever loses the format
// comparison, per spec §4.6. At most one cleaning per identity key runs at
// a time: a call made while another for the same key is in flight is
// collapsed into it by singleflight and returns that call's result
// without running its own comparison.
func (c *Cleaner) Supersede(ctx context.Context, linked domain.TrackedTorrent) error {
	key := linked.IdentityKey()
	keyStr := identityKeyString(key)

	_, err, _ := c.inflight.Do(keyStr, func() (any, error) {
		return nil, c.supersedeLocked(ctx, linked, key)
	})
	return err
}

func (c *Cleaner) supersedeLocked(ctx context.Context, linked domain.TrackedTorrent, key domain.IdentityKey) error {
	others, err := c.store.IterTracked(ctx, store.TrackedFilter{
		IdentityKey:      &key,
		ReplacedWithNull: true,
	})
	if err != nil {
		return fmt.Errorf("cleaner: list tracked for identity key: %w", err)
	}

	newRank := formatRankOf(c.cfg, linked)
	if newRank == domain.NoRank {
		// The torrent L6 just linked has no ranked format of its own; it
		// cannot supersede anything under spec §4.6's rule.
		return nil
	}

	for _, old := range others {
		if old.InfoHash == linked.InfoHash {
			continue
		}
		if !supersedes(newRank, linked, formatRankOf(c.cfg, old), old) {
			continue
		}
		if err := c.retire(ctx, old, linked.InfoHash); err != nil {
			log.Warn().Err(err).Str("old_hash", old.InfoHash).Str("new_hash", linked.InfoHash).
				Msg("cleaner: retire superseded torrent")
		}
	}
	return nil
}

// supersedes reports whether new (with rank newRank) supersedes old (with
// rank oldRank), per spec §4.6 step 2: old has no ranked format but new
// does, or new's rank is strictly better; ties broken by larger size_bytes,
// then by older created_at.
func supersedes(newRank domain.FormatRank, new domain.TrackedTorrent, oldRank domain.FormatRank, old domain.TrackedTorrent) bool {
	if oldRank == domain.NoRank {
		return true
	}
	if newRank < oldRank {
		return true
	}
	if newRank > oldRank {
		return false
	}
	if new.SizeBytes != old.SizeBytes {
		return new.SizeBytes > old.SizeBytes
	}
	return new.CreatedAt.Before(old.CreatedAt)
}

// retire removes old's materialized files, marks it replaced, and applies
// its rule's on_cleaned action, per spec §4.6 step 3.
func (c *Cleaner) retire(ctx context.Context, old domain.TrackedTorrent, newHash string) error {
	rule := linker.MatchRule(c.rules, old.Category, old.SourceDownloadDir, old.Tags)

	removedFiles := old.LibraryFiles
	if old.LibraryPath != "" {
		root := old.LibraryPath
		if rule != nil {
			root = rule.LibraryDir
		}
		linker.RemoveLibraryFiles(old.LibraryPath, old.LibraryFiles, root)
	}

	if err := c.store.MarkReplaced(ctx, old.InfoHash, newHash); err != nil {
		return fmt.Errorf("mark replaced: %w", err)
	}
	if err := c.store.SetLibrary(ctx, old.InfoHash, "", nil); err != nil {
		return fmt.Errorf("clear library state: %w", err)
	}

	if rule != nil && rule.QBitInstance != "" {
		if err := c.client.ApplyOnCleaned(ctx, rule.QBitInstance, old.InfoHash, rule.OnCleanedCategory, rule.OnCleanedTags); err != nil {
			log.Warn().Err(err).Str("hash", old.InfoHash).Str("instance", rule.QBitInstance).
				Msg("cleaner: apply on_cleaned action")
		}
	}

	if err := c.store.AppendEvent(ctx, domain.EventRecord{
		Kind:        domain.EventCleaned,
		SubjectHash: old.InfoHash,
		Payload: map[string]any{
			"files":       removedFiles,
			"replacement": newHash,
		},
	}); err != nil {
		log.Warn().Err(err).Str("hash", old.InfoHash).Msg("cleaner: append cleaned event")
	}

	return nil
}

// formatRankOf returns the FormatRank of t's single linked content suffix
// within the preference list matching t.MainCat, or NoRank if t isn't
// linked or its suffix isn't in that list.
func formatRankOf(cfg domain.Config, t domain.TrackedTorrent) domain.FormatRank {
	if len(t.LibraryFiles) == 0 {
		return domain.NoRank
	}
	prefList := cfg.AudioTypes
	if t.MainCat == domain.CatEbook {
		prefList = cfg.EbookTypes
	}

	suffixes := make([]string, 0, len(t.LibraryFiles))
	for _, f := range t.LibraryFiles {
		suffixes = append(suffixes, strings.TrimPrefix(filepath.Ext(f), "."))
	}
	_, rank := domain.PreferredSuffix(prefList, suffixes)
	return rank
}

func identityKeyString(k domain.IdentityKey) string {
	return k.Authors + "\x00" + k.Title + "\x00" + k.Series + "\x00" + string(k.MainCat)
}
