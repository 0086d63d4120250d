// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package selector implements the L5 selector loop: consumes L3 candidates
// for one SearchSpec at a time, applies the dedup (L4) and budget (L2)
// checks, and commits grabs transactionally through L1, per spec §4.4.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/budget"
	"github.com/s0up/mlm/internal/candidates"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/store"
	"github.com/s0up/mlm/pkg/torrentfile"
)

// Store is the subset of *store.Store a selector tick needs.
type Store interface {
	FindByMam(ctx context.Context, mamID int64) (*domain.TrackedTorrent, error)
	IterTracked(ctx context.Context, filter store.TrackedFilter) ([]domain.TrackedTorrent, error)
	UpsertMeta(ctx context.Context, meta domain.TorrentMeta) error
	AppendEvent(ctx context.Context, rec domain.EventRecord) error
	ReadLedger(ctx context.Context, mamID int64) (*domain.LedgerEntry, error)
	WriteLedger(ctx context.Context, entry domain.LedgerEntry) error
}

// Tracker is the subset of *tracker.Client a selector tick needs.
type Tracker interface {
	candidates.Searcher
	GetTorrentFile(ctx context.Context, mamID int64) ([]byte, error)
	ApplyWedge(ctx context.Context, mamID int64) error
}

// TorrentClient is the subset of *qbitclient.Client a selector tick needs
// to hand off a freshly grabbed torrent.
type TorrentClient interface {
	AddTorrent(ctx context.Context, torrentBytes []byte, category string, tags []string, paused bool) error
}

// ActiveCounter reports how many torrents are currently active for a named
// spec, for spec.max_active_downloads enforcement.
type ActiveCounter func(ctx context.Context, specName string) (int, error)

// Selector runs one tick of the L5 loop for a single SearchSpec.
type Selector struct {
	store         Store
	tracker       Tracker
	oracle        *budget.Oracle
	activeCounter ActiveCounter
	globalConfig  domain.Config
	tagRules      []domain.TagRule
}

func New(st Store, trk Tracker, oracle *budget.Oracle, activeCounter ActiveCounter, cfg domain.Config, tagRules []domain.TagRule) *Selector {
	return &Selector{
		store:         st,
		tracker:       trk,
		oracle:        oracle,
		activeCounter: activeCounter,
		globalConfig:  cfg,
		tagRules:      tagRules,
	}
}

// Result summarizes one tick, for logging/metrics.
type Result struct {
	Grabbed int
	Skipped int
	Errored int
}

// Run executes one tick of spec against client, which owns the torrents
// this spec's grabs are added to.
func (sel *Selector) Run(ctx context.Context, spec *domain.SearchSpec, client TorrentClient) Result {
	var res Result

	if spec.MaxActiveDownloads > 0 && sel.activeCounter != nil {
		active, err := sel.activeCounter(ctx, spec.Name)
		if err != nil {
			log.Warn().Err(err).Str("spec", spec.Name).Msg("count active downloads")
		} else if active >= spec.MaxActiveDownloads {
			log.Debug().Str("spec", spec.Name).Int("active", active).Msg("max_active_downloads reached")
			return res
		}
	}

	src := candidates.New(ctx, sel.tracker, spec)
	for src.Next() {
		if ctx.Err() != nil {
			return res
		}

		cand := src.Candidate()
		outcome := sel.considerCandidate(ctx, spec, cand, client)
		switch outcome {
		case outcomeGrabbed:
			res.Grabbed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeErrored:
			res.Errored++
		case outcomeBudgetDenied:
			// spec §4.4 step 4: stop this spec's tick early, move to next spec.
			return res
		}
	}
	if err := src.Err(); err != nil {
		log.Warn().Err(err).Str("spec", spec.Name).Msg("candidate source error")
		res.Errored++
	}
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeGrabbed
	outcomeErrored
	outcomeBudgetDenied
)

func (sel *Selector) considerCandidate(ctx context.Context, spec *domain.SearchSpec, cand domain.CandidateTorrent, client TorrentClient) outcome {
	// 3a: skip if already selected/tracked.
	if _, err := sel.store.ReadLedger(ctx, cand.MamID); err == nil {
		return outcomeSkipped
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("read ledger")
		return outcomeErrored
	}
	if _, err := sel.store.FindByMam(ctx, cand.MamID); err == nil {
		return outcomeSkipped
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("find by mam_id")
		return outcomeErrored
	}

	// 3b: identity + format dominance check against already-owned torrents.
	key := candidateIdentityKey(cand)
	owned, err := sel.store.IterTracked(ctx, store.TrackedFilter{IdentityKey: &key, ReplacedWithNull: true})
	if err != nil {
		log.Warn().Err(err).Msg("iter tracked for identity check")
		return outcomeErrored
	}
	if ownsEqualOrBetter(owned, cand, sel.preferenceListFor(cand.MainCat)) {
		return outcomeSkipped
	}

	// 3c: choose cost kind.
	costKind, ok := sel.oracle.MayGrabForSpec(spec, cand.SizeBytes)
	if !ok {
		return outcomeBudgetDenied
	}

	// 3d: re-check may_grab for the chosen kind (may_grab_for_spec already
	// checked it, but re-check makes the deny-reason explicit and future
	// proofs against a race between the two calls).
	decision := sel.oracle.MayGrab(costKind, spec, cand.SizeBytes)
	if !decision.Allowed {
		log.Debug().Str("spec", spec.Name).Str("reason", decision.Reason).Msg("budget deny")
		return outcomeBudgetDenied
	}

	if spec.DryRun {
		sel.appendGrabbedEvent(ctx, cand, true)
		return outcomeGrabbed
	}

	return sel.commitGrab(ctx, spec, cand, costKind, client)
}

func (sel *Selector) commitGrab(ctx context.Context, spec *domain.SearchSpec, cand domain.CandidateTorrent, costKind domain.CostKind, client TorrentClient) outcome {
	effectiveCost := costKind
	if costKind == domain.CostWedge {
		if err := sel.tracker.ApplyWedge(ctx, cand.MamID); err != nil {
			if spec.CostPolicy == domain.CostPolicyTryWedge {
				// downgrade to Ratio per spec §4.4 step 3f.
				if sel.oracle.MayGrab(domain.CostRatio, spec, cand.SizeBytes).Allowed {
					effectiveCost = domain.CostRatio
				} else {
					return outcomeBudgetDenied
				}
			} else {
				log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("apply wedge failed")
				return outcomeErrored
			}
		}
	}

	torrentBytes, err := sel.tracker.GetTorrentFile(ctx, cand.MamID)
	if err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("fetch torrent file")
		return outcomeErrored
	}

	infoHash, err := torrentfile.InfoHash(torrentBytes)
	if err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("compute info_hash")
		return outcomeErrored
	}

	meta := domain.TorrentMeta{
		MamID:     cand.MamID,
		InfoHash:  infoHash,
		MainCat:   cand.MainCat,
		Title:     cand.Title,
		Authors:   cand.Authors,
		Narrators: cand.Narrators,
		Series:    cand.Series,
		Language:  cand.Language,
		FileTypes: cand.FileTypes,
		SizeBytes: cand.SizeBytes,
		Flags:     cand.Flags,
		CostKind:  effectiveCost,
		CreatedAt: time.Now().UTC(),
	}

	if err := sel.store.UpsertMeta(ctx, meta); err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("upsert meta")
		return outcomeErrored
	}
	if err := sel.store.WriteLedger(ctx, domain.LedgerEntry{
		MamID:  cand.MamID,
		At:     time.Now().UTC(),
		Cost:   effectiveCost,
		Reason: spec.Name,
	}); err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("write ledger")
		return outcomeErrored
	}
	sel.appendGrabbedEvent(ctx, cand, false)

	category, tags := sel.resolveCategoryAndTags(spec, cand.MainCat, cand.Tags)
	if err := client.AddTorrent(ctx, torrentBytes, category, tags, sel.globalConfig.AddTorrentsStopped); err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("add torrent to client")
		return outcomeErrored
	}

	sel.oracle.Reserve(effectiveCost, cand.SizeBytes)
	return outcomeGrabbed
}

func (sel *Selector) appendGrabbedEvent(ctx context.Context, cand domain.CandidateTorrent, dryRun bool) {
	err := sel.store.AppendEvent(ctx, domain.EventRecord{
		Kind:        domain.EventGrabbed,
		SubjectHash: fmt.Sprintf("mam:%d", cand.MamID),
		Payload:     map[string]any{"dry_run": dryRun, "title": cand.Title},
	})
	if err != nil {
		log.Warn().Err(err).Int64("mam_id", cand.MamID).Msg("append grabbed event")
	}
}

// resolveCategoryAndTags applies spec §4.4's category/tag resolution: the
// category is the spec's own (if set), else the first matching [[tag]]
// rule's category; tags are the union of every matching rule's tag list.
func (sel *Selector) resolveCategoryAndTags(spec *domain.SearchSpec, mainCat domain.MainCat, candTags []string) (string, []string) {
	category := ""
	tagSet := map[string]struct{}{}
	for _, t := range candTags {
		tagSet[t] = struct{}{}
	}

	for _, rule := range sel.tagRules {
		if len(rule.MainCats) > 0 {
			if _, ok := rule.MainCats[mainCat]; !ok {
				continue
			}
		}
		if category == "" && rule.Category != "" {
			category = rule.Category
		}
		for _, t := range rule.Tags {
			tagSet[t] = struct{}{}
		}
	}

	// spec's own category wins over any matching [[tag]] rule (DESIGN.md
	// Open Question 3).
	if spec.AssignCategory != "" {
		category = spec.AssignCategory
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	return category, tags
}

func (sel *Selector) preferenceListFor(mainCat domain.MainCat) []string {
	if mainCat == domain.CatEbook {
		return sel.globalConfig.EbookTypes
	}
	return sel.globalConfig.AudioTypes
}

func candidateIdentityKey(cand domain.CandidateTorrent) domain.IdentityKey {
	meta := domain.TorrentMeta{
		MainCat: cand.MainCat,
		Title:   cand.Title,
		Authors: cand.Authors,
		Series:  cand.Series,
	}
	return meta.IdentityKey()
}

// ownsEqualOrBetter reports whether owned already contains a linked torrent
// whose format rank is the same or better than cand's best rank, per spec
// §4.4 step 3b.
func ownsEqualOrBetter(owned []domain.TrackedTorrent, cand domain.CandidateTorrent, preferenceList []string) bool {
	_, candRank := domain.PreferredSuffix(preferenceList, cand.FileTypes)
	if candRank == domain.NoRank {
		// Nothing in the candidate matches the preference list at all;
		// it can never be linked, so treat any existing owned copy as
		// equal-or-better. With nothing owned the candidate is not
		// skipped here.
		return len(owned) > 0
	}

	for _, t := range owned {
		if !t.IsLinked() {
			continue
		}
		_, ownedRank := domain.PreferredSuffix(preferenceList, t.FileTypes)
		if ownedRank == domain.NoRank {
			continue
		}
		if ownedRank <= candRank {
			return true
		}
	}
	return false
}
