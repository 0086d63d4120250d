// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/budget"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/store"
)

// fakeStore is a minimal in-memory Store double.
type fakeStore struct {
	byMam   map[int64]*domain.TrackedTorrent
	ledger  map[int64]*domain.LedgerEntry
	tracked []domain.TrackedTorrent
	events  []domain.EventRecord
	metas   []domain.TorrentMeta

	errIterTracked error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byMam:  map[int64]*domain.TrackedTorrent{},
		ledger: map[int64]*domain.LedgerEntry{},
	}
}

func (s *fakeStore) FindByMam(_ context.Context, mamID int64) (*domain.TrackedTorrent, error) {
	if t, ok := s.byMam[mamID]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) IterTracked(_ context.Context, _ store.TrackedFilter) ([]domain.TrackedTorrent, error) {
	if s.errIterTracked != nil {
		return nil, s.errIterTracked
	}
	return s.tracked, nil
}

func (s *fakeStore) UpsertMeta(_ context.Context, meta domain.TorrentMeta) error {
	s.metas = append(s.metas, meta)
	return nil
}

func (s *fakeStore) AppendEvent(_ context.Context, rec domain.EventRecord) error {
	s.events = append(s.events, rec)
	return nil
}

func (s *fakeStore) ReadLedger(_ context.Context, mamID int64) (*domain.LedgerEntry, error) {
	if e, ok := s.ledger[mamID]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) WriteLedger(_ context.Context, entry domain.LedgerEntry) error {
	s.ledger[entry.MamID] = &entry
	return nil
}

// fakeTracker is a minimal Tracker double.
type fakeTracker struct {
	candidates  [][]domain.CandidateTorrent
	torrentFile []byte
	wedgeErr    error
	wedgeCalls  int
}

// Search serves candidates[page-1], since paging starts at 1.
func (t *fakeTracker) Search(_ context.Context, _ *domain.SearchSpec, page int) ([]domain.CandidateTorrent, error) {
	if page < 1 || page > len(t.candidates) {
		return nil, nil
	}
	return t.candidates[page-1], nil
}

func (t *fakeTracker) GetTorrentFile(_ context.Context, _ int64) ([]byte, error) {
	if t.torrentFile != nil {
		return t.torrentFile, nil
	}
	return []byte("d8:announce3:abc4:infod6:lengthi1e4:name1:xee"), nil
}

func (t *fakeTracker) ApplyWedge(_ context.Context, _ int64) error {
	t.wedgeCalls++
	return t.wedgeErr
}

type fakeTorrentClient struct {
	calls []addTorrentCall
	err   error
}

type addTorrentCall struct {
	category string
	tags     []string
}

func (c *fakeTorrentClient) AddTorrent(_ context.Context, _ []byte, category string, tags []string, _ bool) error {
	c.calls = append(c.calls, addTorrentCall{category: category, tags: tags})
	return c.err
}

func testSpec() *domain.SearchSpec {
	return &domain.SearchSpec{
		Name:       "test",
		Type:       domain.SearchNew,
		CostPolicy: domain.CostPolicyAll,
		MaxPages:   1,
	}
}

func testSnapshot() budget.Snapshot {
	return budget.Snapshot{
		UnsatUsed:       0,
		UnsatLimit:      100,
		Wedges:          10,
		UploadedBytes:   1_000_000,
		DownloadedBytes: 10_000,
		MinRatio:        2.0,
	}
}

func newTestSelector(st Store, trk Tracker) *Selector {
	return New(st, trk, budget.New(testSnapshot()), nil, *domain.DefaultConfig(), nil)
}

func TestConsiderCandidateSkipsWhenLedgerHasEntry(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.ledger[42] = &domain.LedgerEntry{MamID: 42}
	sel := newTestSelector(st, &fakeTracker{})

	cand := domain.CandidateTorrent{MamID: 42, MainCat: domain.CatAudio}
	got := sel.considerCandidate(context.Background(), testSpec(), cand, &fakeTorrentClient{})
	assert.Equal(t, outcomeSkipped, got)
}

func TestConsiderCandidateSkipsWhenAlreadyTrackedByMamID(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.byMam[7] = &domain.TrackedTorrent{TorrentMeta: domain.TorrentMeta{MamID: 7}}
	sel := newTestSelector(st, &fakeTracker{})

	cand := domain.CandidateTorrent{MamID: 7, MainCat: domain.CatAudio}
	got := sel.considerCandidate(context.Background(), testSpec(), cand, &fakeTorrentClient{})
	assert.Equal(t, outcomeSkipped, got)
}

func TestConsiderCandidateSkipsOnFormatDominance(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.tracked = []domain.TrackedTorrent{
		{
			TorrentMeta: domain.TorrentMeta{
				Title:     "The Book",
				Authors:   []string{"Author"},
				MainCat:   domain.CatAudio,
				FileTypes: []string{"m4b"},
			},
			LibraryPath: "/library/the-book",
		},
	}
	sel := newTestSelector(st, &fakeTracker{})
	sel.globalConfig.AudioTypes = []string{"m4b", "mp3"}

	cand := domain.CandidateTorrent{
		MamID:     99,
		MainCat:   domain.CatAudio,
		Title:     "The Book",
		Authors:   []string{"Author"},
		FileTypes: []string{"mp3"}, // worse rank than already-owned m4b
	}
	got := sel.considerCandidate(context.Background(), testSpec(), cand, &fakeTorrentClient{})
	assert.Equal(t, outcomeSkipped, got)
}

func TestConsiderCandidateGrabsBetterFormatOverExistingWorseOne(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.tracked = []domain.TrackedTorrent{
		{
			TorrentMeta: domain.TorrentMeta{
				Title:     "The Book",
				Authors:   []string{"Author"},
				MainCat:   domain.CatAudio,
				FileTypes: []string{"mp3"},
			},
			LibraryPath: "/library/the-book",
		},
	}
	trk := &fakeTracker{}
	sel := newTestSelector(st, trk)
	sel.globalConfig.AudioTypes = []string{"m4b", "mp3"}

	cand := domain.CandidateTorrent{
		MamID:     100,
		MainCat:   domain.CatAudio,
		Title:     "The Book",
		Authors:   []string{"Author"},
		FileTypes: []string{"m4b"}, // better rank than owned mp3
		SizeBytes: 1024,
	}
	got := sel.considerCandidate(context.Background(), testSpec(), cand, &fakeTorrentClient{})
	assert.Equal(t, outcomeGrabbed, got)
}

func TestConsiderCandidateBudgetDeniedWhenNoCostKindAllowed(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	sel := newTestSelector(st, &fakeTracker{})
	sel.oracle = budget.New(budget.Snapshot{
		UnsatUsed:  100,
		UnsatLimit: 100, // no headroom at all: unsat buffer check always denies
	})

	spec := testSpec()
	spec.CostPolicy = domain.CostPolicyRatio
	cand := domain.CandidateTorrent{MamID: 5, MainCat: domain.CatAudio, SizeBytes: 10}
	got := sel.considerCandidate(context.Background(), spec, cand, &fakeTorrentClient{})
	assert.Equal(t, outcomeBudgetDenied, got)
}

func TestConsiderCandidateDryRunAppendsSyntheticEventWithoutGrabbing(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	client := &fakeTorrentClient{}
	sel := newTestSelector(st, &fakeTracker{})

	spec := testSpec()
	spec.DryRun = true
	cand := domain.CandidateTorrent{MamID: 12, MainCat: domain.CatAudio, SizeBytes: 10, Title: "Dry Run Book"}

	got := sel.considerCandidate(context.Background(), spec, cand, client)
	assert.Equal(t, outcomeGrabbed, got)
	assert.Empty(t, client.calls, "dry_run must never call AddTorrent")
	require.Len(t, st.events, 1)
	assert.Equal(t, true, st.events[0].Payload["dry_run"])
	assert.Empty(t, st.metas, "dry_run must never upsert meta")
}

func TestCommitGrabDowngradesWedgeToRatioOnWedgeFailureUnderTryWedge(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	trk := &fakeTracker{wedgeErr: errors.New("insufficient wedges")}
	client := &fakeTorrentClient{}
	sel := newTestSelector(st, trk)

	spec := testSpec()
	spec.CostPolicy = domain.CostPolicyTryWedge
	cand := domain.CandidateTorrent{MamID: 30, MainCat: domain.CatAudio, SizeBytes: 10}

	got := sel.commitGrab(context.Background(), spec, cand, domain.CostWedge, client)
	assert.Equal(t, outcomeGrabbed, got)
	require.Len(t, st.metas, 1)
	assert.Equal(t, domain.CostRatio, st.metas[0].CostKind, "wedge failure must downgrade to ratio, not abort")
	assert.Equal(t, 1, trk.wedgeCalls)
}

func TestCommitGrabErrorsWhenWedgeFailsAndPolicyIsWedgeOnly(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	trk := &fakeTracker{wedgeErr: errors.New("insufficient wedges")}
	client := &fakeTorrentClient{}
	sel := newTestSelector(st, trk)

	spec := testSpec()
	spec.CostPolicy = domain.CostPolicyWedge
	cand := domain.CandidateTorrent{MamID: 31, MainCat: domain.CatAudio, SizeBytes: 10}

	got := sel.commitGrab(context.Background(), spec, cand, domain.CostWedge, client)
	assert.Equal(t, outcomeErrored, got)
	assert.Empty(t, st.metas)
}

func TestCommitGrabComputesInfoHashAndResolvesCategoryTags(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	client := &fakeTorrentClient{}
	sel := newTestSelector(st, &fakeTracker{})
	sel.tagRules = []domain.TagRule{
		{MainCats: map[domain.MainCat]struct{}{domain.CatAudio: {}}, Category: "audiobooks", Tags: []string{"auto"}},
	}

	spec := testSpec()
	cand := domain.CandidateTorrent{
		MamID:     40,
		MainCat:   domain.CatAudio,
		SizeBytes: 10,
		Tags:      []string{"fiction"},
	}

	got := sel.commitGrab(context.Background(), spec, cand, domain.CostVip, client)
	require.Equal(t, outcomeGrabbed, got)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "audiobooks", client.calls[0].category)
	assert.ElementsMatch(t, []string{"fiction", "auto"}, client.calls[0].tags)
	require.Len(t, st.metas, 1)
	assert.NotEmpty(t, st.metas[0].InfoHash)
}

func TestResolveCategoryAndTagsSpecOverrideWinsOverTagRule(t *testing.T) {
	t.Parallel()

	sel := newTestSelector(newFakeStore(), &fakeTracker{})
	sel.tagRules = []domain.TagRule{
		{Category: "from-rule", Tags: []string{"r1"}},
	}

	spec := testSpec()
	spec.AssignCategory = "from-spec"

	category, tags := sel.resolveCategoryAndTags(spec, domain.CatAudio, []string{"own"})
	assert.Equal(t, "from-spec", category)
	assert.ElementsMatch(t, []string{"own", "r1"}, tags)
}

func TestRunStopsEarlyOnBudgetDeniedAndLeavesLaterCandidatesUnconsidered(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	trk := &fakeTracker{
		candidates: [][]domain.CandidateTorrent{
			{
				{MamID: 1, MainCat: domain.CatAudio, SizeBytes: 10},
				{MamID: 2, MainCat: domain.CatAudio, SizeBytes: 10},
			},
		},
	}
	sel := newTestSelector(st, trk)
	sel.oracle = budget.New(budget.Snapshot{UnsatUsed: 100, UnsatLimit: 100})

	spec := testSpec()
	spec.CostPolicy = domain.CostPolicyRatio
	res := sel.Run(context.Background(), spec, &fakeTorrentClient{})

	assert.Equal(t, 0, res.Grabbed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Errored)
}

func TestRunRespectsMaxActiveDownloads(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	trk := &fakeTracker{
		candidates: [][]domain.CandidateTorrent{
			{{MamID: 1, MainCat: domain.CatAudio, SizeBytes: 10}},
		},
	}
	sel := newTestSelector(st, trk)
	sel.activeCounter = func(_ context.Context, _ string) (int, error) { return 3, nil }

	spec := testSpec()
	spec.MaxActiveDownloads = 3
	res := sel.Run(context.Background(), spec, &fakeTorrentClient{})

	assert.Equal(t, Result{}, res)
}
