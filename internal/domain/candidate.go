// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// CandidateTorrent is one tracker search result, carrying enough to
// populate a TorrentMeta plus the fields L3's filters and L2's cost
// selection need, per spec §3/§4.3.
type CandidateTorrent struct {
	MamID int64
	// MainCat is the coarse audio-vs-ebook classification; Category is the
	// tracker's finer-grained sub-category name (e.g. "audiobooks/sci-fi"),
	// matched against SearchSpec.Categories.
	MainCat   MainCat
	Category  string
	Title     string
	Authors   []string
	Narrators []string
	Series    []SeriesEntry
	Language  string
	FileTypes []string
	SizeBytes int64
	Flags     map[string]bool
	Tags      []string

	Seeders    int
	Leechers   int
	Snatched   int
	UploadedAt time.Time
	Uploader   string

	// TorrentFileURL is fetched lazily via the tracker adapter's
	// get_torrent_file(mam_id); it is not part of the search payload
	// itself but recorded here for traceability in logs/ledger reasons.
	TorrentFileURL string
}
