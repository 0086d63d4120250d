// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// MainCat is the top-level category of a torrent, determining which
// preference list and default library root apply.
type MainCat string

const (
	CatAudio MainCat = "audio"
	CatEbook MainCat = "ebook"
)

// CostKind records how a torrent was (or would be) acquired.
type CostKind string

const (
	CostVip        CostKind = "vip"
	CostGlobalFL   CostKind = "global_fl"
	CostPersonalFL CostKind = "personal_fl"
	CostWedge      CostKind = "wedge"
	CostRatio      CostKind = "ratio"
)

// SeriesEntry is one (name, index?) pair in a torrent's series list.
type SeriesEntry struct {
	Name  string
	Index *float64
}

// TorrentMeta is the canonical record for one torrent, as described by the
// tracker at grab time. It never changes after creation except via
// upsert_meta (idempotent by MamID).
type TorrentMeta struct {
	MamID     int64
	InfoHash  string // 20-byte hash, hex-encoded (40 chars)
	MainCat   MainCat
	Title     string
	Authors   []string
	Narrators []string
	Series    []SeriesEntry
	Language  string
	// FileTypes is the set of lowercased, dot-less file suffixes present in
	// the torrent, as reported by the tracker search result.
	FileTypes []string
	SizeBytes int64
	Flags     map[string]bool
	CostKind  CostKind
	CreatedAt time.Time
}

// ReplacedWith records a terminal supersession transition, set only by the
// cleaner (L7).
type ReplacedWith struct {
	InfoHash string
	When     time.Time
}

// TrackedTorrent is a TorrentMeta plus the local state the daemon has
// observed or materialized for it.
type TrackedTorrent struct {
	TorrentMeta

	LibraryPath  string   // empty iff not linked
	LibraryFiles []string // relative paths under LibraryPath; empty iff LibraryPath is empty

	ReplacedWith *ReplacedWith

	SourceDownloadDir string
	Tags              []string
	Category          string
}

// IsLinked reports whether L6 has materialized a link tree for this torrent.
func (t *TrackedTorrent) IsLinked() bool {
	return t.LibraryPath != ""
}

// IsReplaced reports whether L7 has superseded this torrent.
func (t *TrackedTorrent) IsReplaced() bool {
	return t.ReplacedWith != nil
}

// IdentityKey computes the normalized (authors, title, series) triple used
// for dedup (L4) and supersession (L7) lookups. See NormalizeIdentity.
func (t *TorrentMeta) IdentityKey() IdentityKey {
	seriesNames := make([]string, 0, len(t.Series))
	for _, s := range t.Series {
		seriesNames = append(seriesNames, s.Name)
	}
	return IdentityKey{
		Authors: NormalizeIdentityJoin(t.Authors),
		Title:   NormalizeIdentity(t.Title),
		Series:  NormalizeIdentityJoin(seriesNames),
		MainCat: t.MainCat,
	}
}
