// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/database"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/store"
)

func setupTestReader(t *testing.T) (*Reader, *store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "events.db")
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return NewReader(db), store.New(db)
}

func TestListReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := setupTestReader(t)

	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventGrabbed, SubjectHash: "a"}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventLinked, SubjectHash: "a"}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventGrabbed, SubjectHash: "b"}))

	got, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventGrabbed, got[0].Kind)
	assert.Equal(t, "b", got[0].SubjectHash)
	assert.Equal(t, "a", got[2].SubjectHash)
}

func TestListFiltersByKindAndSubject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := setupTestReader(t)

	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventGrabbed, SubjectHash: "a"}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventLinked, SubjectHash: "a"}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventLinked, SubjectHash: "b"}))

	kind := domain.EventLinked
	hash := "a"
	got, err := r.List(ctx, Filter{Kind: &kind, SubjectHash: &hash})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventLinked, got[0].Kind)
	assert.Equal(t, "a", got[0].SubjectHash)
}

func TestListRespectsLimitAndOffset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := setupTestReader(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{Kind: domain.EventGrabbed, SubjectHash: "x"}))
	}

	page1, err := r.List(ctx, Filter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := r.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)

	assert.NotEqual(t, page1[0].ID, page2[0].ID)
}

func TestErroredReturnsOnlyLatestEventPerSubject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := setupTestReader(t)

	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{
		Kind: domain.EventError, SubjectHash: "a", Payload: map[string]any{"message": "first failure"},
	}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{
		Kind: domain.EventError, SubjectHash: "a", Payload: map[string]any{"message": "second failure"},
	}))
	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{
		Kind: domain.EventGrabbed, SubjectHash: "b",
	}))

	got, err := r.Errored(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SubjectHash)
	assert.Equal(t, "second failure", got[0].Payload["message"])
}

func TestListPayloadRoundTripsJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, st := setupTestReader(t)

	require.NoError(t, st.AppendEvent(ctx, domain.EventRecord{
		Kind:        domain.EventCleaned,
		SubjectHash: "old-hash",
		Payload:     map[string]any{"files": []any{"a.mp3"}, "replacement": "new-hash"},
	}))

	got, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new-hash", got[0].Payload["replacement"])
}
