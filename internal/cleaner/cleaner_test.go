// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/store"
)

type fakeStore struct {
	tracked  []domain.TrackedTorrent
	replaced map[string]string
	library  map[string][2]any // hash -> [path, files]
	events   []domain.EventRecord
}

func newFakeStore(tracked ...domain.TrackedTorrent) *fakeStore {
	return &fakeStore{
		tracked:  tracked,
		replaced: map[string]string{},
		library:  map[string][2]any{},
	}
}

func (s *fakeStore) IterTracked(_ context.Context, filter store.TrackedFilter) ([]domain.TrackedTorrent, error) {
	var out []domain.TrackedTorrent
	for _, t := range s.tracked {
		if filter.IdentityKey != nil && t.IdentityKey() != *filter.IdentityKey {
			continue
		}
		if filter.ReplacedWithNull && t.ReplacedWith != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) MarkReplaced(_ context.Context, oldHash, newHash string) error {
	s.replaced[oldHash] = newHash
	for i := range s.tracked {
		if s.tracked[i].InfoHash == oldHash {
			s.tracked[i].ReplacedWith = &domain.ReplacedWith{InfoHash: newHash}
		}
	}
	return nil
}

func (s *fakeStore) SetLibrary(_ context.Context, hash, path string, files []string) error {
	s.library[hash] = [2]any{path, files}
	for i := range s.tracked {
		if s.tracked[i].InfoHash == hash {
			s.tracked[i].LibraryPath = path
			s.tracked[i].LibraryFiles = files
		}
	}
	return nil
}

func (s *fakeStore) AppendEvent(_ context.Context, rec domain.EventRecord) error {
	s.events = append(s.events, rec)
	return nil
}

type fakeClientMutator struct {
	calls []string
}

func (m *fakeClientMutator) ApplyOnCleaned(_ context.Context, instance, hash, category string, tags []string) error {
	m.calls = append(m.calls, instance+":"+hash+":"+category)
	return nil
}

func testCfg() domain.Config {
	cfg := *domain.DefaultConfig()
	return cfg
}

func audioTorrent(hash, title string, size int64, suffix string, createdAt time.Time) domain.TrackedTorrent {
	return domain.TrackedTorrent{
		TorrentMeta: domain.TorrentMeta{
			InfoHash:  hash,
			MainCat:   domain.CatAudio,
			Title:     title,
			Authors:   []string{"Brandon Sanderson"},
			SizeBytes: size,
			CreatedAt: createdAt,
		},
		LibraryPath:       "/lib/Brandon Sanderson/" + title,
		LibraryFiles:      []string{"a." + suffix},
		Category:          "audiobooks",
		SourceDownloadDir: "/data/audio",
	}
}

func TestSupersedeRetiresWorseFormat(t *testing.T) {
	t.Parallel()

	libRoot := t.TempDir()
	oldDir := filepath.Join(libRoot, "Brandon Sanderson", "Way of Kings")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "a.mp3"), []byte("x"), 0o644))

	old := audioTorrent("old-hash", "Way of Kings", 100, "mp3", time.Now().Add(-time.Hour))
	old.LibraryPath = oldDir
	newT := audioTorrent("new-hash", "Way of Kings", 200, "m4b", time.Now())

	st := newFakeStore(old, newT)
	mutator := &fakeClientMutator{}
	rule := domain.LibraryRule{Category: "audiobooks", LibraryDir: libRoot, QBitInstance: "qbt1", OnCleanedCategory: "archived"}
	c := New(st, mutator, []domain.LibraryRule{rule}, testCfg())

	err := c.Supersede(context.Background(), newT)
	require.NoError(t, err)

	assert.Equal(t, "new-hash", st.replaced["old-hash"])
	assert.Equal(t, "", st.library["old-hash"][0])
	require.Len(t, st.events, 1)
	assert.Equal(t, domain.EventCleaned, st.events[0].Kind)
	assert.Equal(t, "old-hash", st.events[0].SubjectHash)

	_, err = os.Stat(filepath.Join(oldDir, "a.mp3"))
	assert.True(t, os.IsNotExist(err), "superseded file should be removed")

	require.Len(t, mutator.calls, 1)
	assert.Equal(t, "qbt1:old-hash:archived", mutator.calls[0])
}

func TestSupersedeLeavesBetterFormatAlone(t *testing.T) {
	t.Parallel()

	existing := audioTorrent("existing-hash", "Elantris", 100, "m4b", time.Now())
	worseNew := audioTorrent("worse-new-hash", "Elantris", 50, "mp3", time.Now())

	st := newFakeStore(existing, worseNew)
	mutator := &fakeClientMutator{}
	c := New(st, mutator, nil, testCfg())

	err := c.Supersede(context.Background(), worseNew)
	require.NoError(t, err)

	assert.Empty(t, st.replaced)
	assert.Empty(t, st.events)
}

func TestSupersedeTieBreaksOnLargerSize(t *testing.T) {
	t.Parallel()

	older := audioTorrent("small-hash", "Mistborn", 100, "m4b", time.Now())
	bigger := audioTorrent("big-hash", "Mistborn", 500, "m4b", time.Now())

	st := newFakeStore(older, bigger)
	mutator := &fakeClientMutator{}
	c := New(st, mutator, nil, testCfg())

	err := c.Supersede(context.Background(), bigger)
	require.NoError(t, err)

	assert.Equal(t, "big-hash", st.replaced["small-hash"])
}

func TestSupersedeTieBreaksOnOlderCreatedAtWhenSizeEqual(t *testing.T) {
	t.Parallel()

	earlier := time.Now().Add(-48 * time.Hour)
	later := time.Now()

	olderEntry := audioTorrent("older-entry-hash", "Warbreaker", 100, "m4b", earlier)
	newerEntry := audioTorrent("newer-entry-hash", "Warbreaker", 100, "m4b", later)

	st := newFakeStore(olderEntry, newerEntry)
	mutator := &fakeClientMutator{}
	c := New(st, mutator, nil, testCfg())

	err := c.Supersede(context.Background(), newerEntry)
	require.NoError(t, err)

	assert.Empty(t, st.replaced, "newer-created entry must not supersede an older one on an exact tie")
}

func TestSupersedeSkipsWhenNewTorrentHasNoRankedFormat(t *testing.T) {
	t.Parallel()

	unranked := domain.TrackedTorrent{
		TorrentMeta:  domain.TorrentMeta{InfoHash: "unranked-hash", MainCat: domain.CatAudio, Title: "Oathbringer", Authors: []string{"Brandon Sanderson"}},
		LibraryPath:  "/lib/x",
		LibraryFiles: []string{"a.txt"},
	}
	st := newFakeStore(unranked)
	mutator := &fakeClientMutator{}
	c := New(st, mutator, nil, testCfg())

	err := c.Supersede(context.Background(), unranked)
	require.NoError(t, err)
	assert.Empty(t, st.replaced)
}
