// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankSuffix(t *testing.T) {
	t.Parallel()

	prefs := []string{"m4b", "m4a", "mp3", "flac"}

	assert.Equal(t, FormatRank(0), RankSuffix(prefs, "m4b"))
	assert.Equal(t, FormatRank(2), RankSuffix(prefs, "MP3"))
	assert.Equal(t, FormatRank(2), RankSuffix(prefs, ".mp3"))
	assert.Equal(t, NoRank, RankSuffix(prefs, "wav"))
}

func TestPreferredSuffix(t *testing.T) {
	t.Parallel()

	prefs := []string{"epub", "mobi", "azw3", "pdf"}

	t.Run("picks lowest rank present", func(t *testing.T) {
		suffix, rank := PreferredSuffix(prefs, []string{"pdf", "epub", "mobi"})
		assert.Equal(t, "epub", suffix)
		assert.Equal(t, FormatRank(0), rank)
	})

	t.Run("ignores suffixes not in list", func(t *testing.T) {
		suffix, rank := PreferredSuffix(prefs, []string{"jpg", "pdf", "txt"})
		assert.Equal(t, "pdf", suffix)
		assert.Equal(t, FormatRank(3), rank)
	})

	t.Run("none present", func(t *testing.T) {
		suffix, rank := PreferredSuffix(prefs, []string{"jpg", "png"})
		assert.Equal(t, "", suffix)
		assert.Equal(t, NoRank, rank)
	})
}
