// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package candidates implements the L3 candidate source: turns a
// SearchSpec into a finite, lazily produced, non-restartable sequence of
// CandidateTorrent records ordered by spec.Sort, applying every coarse
// filter spec §4.3 names before a candidate is ever yielded.
package candidates

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/pkg/titles"
)

// Searcher is the tracker capability this package needs; satisfied by
// *internal/tracker.Client.
type Searcher interface {
	Search(ctx context.Context, spec *domain.SearchSpec, page int) ([]domain.CandidateTorrent, error)
}

const pageSize = 50

// Source yields CandidateTorrent records for one SearchSpec. It is
// single-use: once exhausted (or Next returns false), it cannot be
// restarted — callers build a fresh Source per tick.
type Source struct {
	searcher Searcher
	spec     *domain.SearchSpec
	titles   *titles.Parser

	buf     []domain.CandidateTorrent
	bufIdx  int
	page    int
	maxPage int
	done    bool

	ctx context.Context
	cur domain.CandidateTorrent
	err error
}

// New builds a Source for spec. ctx bounds every underlying tracker call.
func New(ctx context.Context, searcher Searcher, spec *domain.SearchSpec) *Source {
	return &Source{
		searcher: searcher,
		spec:     spec,
		titles:   titles.NewParser(),
		ctx:      ctx,
		maxPage:  spec.DefaultMaxPages(),
	}
}

// Next advances to the next candidate, fetching and filtering additional
// pages as needed. It returns false when the spec is exhausted, max_pages
// is reached, or an error occurred (check Err).
func (s *Source) Next() bool {
	for {
		if s.bufIdx < len(s.buf) {
			s.cur = s.buf[s.bufIdx]
			s.bufIdx++
			return true
		}
		if s.done {
			return false
		}
		if !s.fetchPage() {
			return false
		}
	}
}

func (s *Source) fetchPage() bool {
	s.page++
	if s.page > s.maxPage {
		s.done = true
		return false
	}

	raw, err := s.searcher.Search(s.ctx, s.spec, s.page)
	if err != nil {
		s.err = fmt.Errorf("fetch page %d for spec %q: %w", s.page, s.spec.Name, err)
		s.done = true
		return false
	}
	if len(raw) == 0 {
		s.done = true
		return false
	}

	for i := range raw {
		s.inferMissingFlags(&raw[i])
	}

	filtered := applyCoarseFilters(raw, s.spec)
	filtered = applyQueryFilter(filtered, s.spec)
	sortCandidates(filtered, s.spec.Sort)

	s.buf = filtered
	s.bufIdx = 0
	return true
}

// Candidate returns the value Next most recently made current.
func (s *Source) Candidate() domain.CandidateTorrent {
	return s.cur
}

// Err returns the first error encountered, if any.
func (s *Source) Err() error {
	return s.err
}

// inferMissingFlags fills c.Flags["abridged"] from the raw title when the
// tracker's search result left it unset, so spec.Flags filters and the
// selector's stored TorrentMeta still see a value for older or
// sparsely-tagged listings.
func (s *Source) inferMissingFlags(c *domain.CandidateTorrent) {
	if _, ok := c.Flags["abridged"]; ok {
		return
	}
	inferred := s.titles.InferAbridged(c.Title)
	if inferred == nil {
		return
	}
	if c.Flags == nil {
		c.Flags = make(map[string]bool, 1)
	}
	c.Flags["abridged"] = *inferred
}

// applyQueryFilter applies spec.Query against the fields named in
// spec.SearchIn, tried as an exact substring match first and falling back
// to a fuzzy match so minor tracker-side punctuation differences don't
// silently drop a relevant candidate.
func applyQueryFilter(in []domain.CandidateTorrent, spec *domain.SearchSpec) []domain.CandidateTorrent {
	if spec.Query == "" || len(spec.SearchIn) == 0 {
		return in
	}

	query := strings.ToLower(spec.Query)
	out := in[:0:0]
	for _, c := range in {
		if matchesQuery(c, spec.SearchIn, query) {
			out = append(out, c)
		}
	}
	return out
}

func matchesQuery(c domain.CandidateTorrent, fields map[domain.SearchField]struct{}, query string) bool {
	for field := range fields {
		for _, value := range fieldValues(c, field) {
			lower := strings.ToLower(value)
			if strings.Contains(lower, query) || fuzzy.MatchFold(query, lower) {
				return true
			}
		}
	}
	return false
}

func fieldValues(c domain.CandidateTorrent, field domain.SearchField) []string {
	switch field {
	case domain.SearchInTitle:
		return []string{c.Title}
	case domain.SearchInAuthor:
		return c.Authors
	case domain.SearchInNarrator:
		return c.Narrators
	case domain.SearchInSeries:
		values := make([]string, len(c.Series))
		for i, entry := range c.Series {
			values[i] = entry.Name
		}
		return values
	case domain.SearchInTags:
		return c.Tags
	case domain.SearchInFiletypes:
		return c.FileTypes
	default:
		return nil
	}
}

func applyCoarseFilters(in []domain.CandidateTorrent, spec *domain.SearchSpec) []domain.CandidateTorrent {
	out := in[:0:0]
	for _, c := range in {
		if matchesSpec(c, spec) {
			out = append(out, c)
		}
	}
	return out
}

func matchesSpec(c domain.CandidateTorrent, spec *domain.SearchSpec) bool {
	if spec.MinSize > 0 && c.SizeBytes < spec.MinSize {
		return false
	}
	if spec.MaxSize > 0 && c.SizeBytes > spec.MaxSize {
		return false
	}
	if !spec.UploadedAfter.IsZero() && c.UploadedAt.Before(spec.UploadedAfter) {
		return false
	}
	if !spec.UploadedBefore.IsZero() && c.UploadedAt.After(spec.UploadedBefore) {
		return false
	}
	if spec.MinSeeders > 0 && c.Seeders < spec.MinSeeders {
		return false
	}
	if spec.MaxSeeders > 0 && c.Seeders > spec.MaxSeeders {
		return false
	}
	if spec.MinLeechers > 0 && c.Leechers < spec.MinLeechers {
		return false
	}
	if spec.MaxLeechers > 0 && c.Leechers > spec.MaxLeechers {
		return false
	}
	if spec.MinSnatched > 0 && c.Snatched < spec.MinSnatched {
		return false
	}
	if spec.MaxSnatched > 0 && c.Snatched > spec.MaxSnatched {
		return false
	}
	if len(spec.Categories) > 0 {
		if _, ok := spec.Categories[c.Category]; !ok {
			return false
		}
	}
	if len(spec.Languages) > 0 {
		if _, ok := spec.Languages[c.Language]; !ok {
			return false
		}
	}
	if len(spec.ExcludeUploader) > 0 {
		if _, ok := spec.ExcludeUploader[c.Uploader]; ok {
			return false
		}
	}
	if len(spec.Flags) > 0 {
		for flag, want := range spec.Flags {
			if c.Flags[flag] != want {
				return false
			}
		}
	}
	return true
}

func sortCandidates(c []domain.CandidateTorrent, order domain.SortOrder) {
	switch order {
	case domain.SortOldest:
		sort.SliceStable(c, func(i, j int) bool { return c[i].UploadedAt.Before(c[j].UploadedAt) })
	case domain.SortLowSeeders:
		sort.SliceStable(c, func(i, j int) bool { return c[i].Seeders < c[j].Seeders })
	case domain.SortLowSnatches:
		sort.SliceStable(c, func(i, j int) bool { return c[i].Snatched < c[j].Snatched })
	case domain.SortRandom:
		// Determinism (spec §4.3) takes priority over true randomness: the
		// tracker's own result order is treated as the "random" ordering,
		// so repeated runs against the same upstream state are stable.
	case domain.SortNewest, "":
		sort.SliceStable(c, func(i, j int) bool { return c[i].UploadedAt.After(c[j].UploadedAt) })
	}
}
