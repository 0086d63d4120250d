// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// FormatRank is the position of a suffix in the configured preference list;
// lower is more preferred. NoRank means the suffix is not in the list (or
// there is no linked file of that kind at all).
type FormatRank int

const NoRank FormatRank = -1

// RankSuffix returns the FormatRank of suffix within an ordered preference
// list (audio_types or ebook_types), matching case-insensitively. Spec §9
// open question: list order wins, no codec-vs-container semantic tie-break.
func RankSuffix(preferenceList []string, suffix string) FormatRank {
	suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
	for i, candidate := range preferenceList {
		if strings.ToLower(candidate) == suffix {
			return FormatRank(i)
		}
	}
	return NoRank
}

// PreferredSuffix selects the lowest-ranked (most preferred) suffix present
// in a file set, per spec §4.5 "select at most one suffix from each
// partition". Returns ("", NoRank) if none of files' suffixes appear in the
// preference list.
func PreferredSuffix(preferenceList []string, suffixes []string) (string, FormatRank) {
	best := NoRank
	bestSuffix := ""
	for _, suffix := range suffixes {
		rank := RankSuffix(preferenceList, suffix)
		if rank == NoRank {
			continue
		}
		if best == NoRank || rank < best {
			best = rank
			bestSuffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
		}
	}
	return bestSuffix, best
}
