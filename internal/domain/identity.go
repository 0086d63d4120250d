// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/text/unicode/norm"
)

// IdentityKey is the normalized (authors, title, series) triple used for
// dedup (L4) lookups and supersession (L7) comparisons. It is comparable
// and safe to use as a map key.
type IdentityKey struct {
	Authors string
	Title   string
	Series  string
	MainCat MainCat
}

var leadingArticles = []string{"the ", "a ", "an "}

const identityCacheTTL = 5 * time.Minute

// identityNormalizer caches NormalizeIdentity results; the NFKC fold below
// is not free, and the same author/title/series strings are normalized
// repeatedly across ticks and candidates.
var identityNormalizer = ttlcache.New(ttlcache.Options[string, string]{}.
	SetDefaultTTL(identityCacheTTL))

// NormalizeIdentity implements the pure, pluggable identity normalization
// described in spec §9: NFKC, lowercase, strip punctuation other than '&',
// collapse whitespace, drop a single leading article ("the"/"a"/"an").
func NormalizeIdentity(s string) string {
	if cached, ok := identityNormalizer.Get(s); ok {
		return cached
	}
	result := normalizeIdentityUncached(s)
	identityNormalizer.Set(s, result, ttlcache.DefaultTTL)
	return result
}

func normalizeIdentityUncached(s string) string {
	folded := strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '&':
			b.WriteRune(r)
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	normalized := strings.Join(strings.Fields(b.String()), " ")

	for _, article := range leadingArticles {
		if strings.HasPrefix(normalized, article) {
			normalized = strings.TrimPrefix(normalized, article)
			break
		}
	}

	return normalized
}

// NormalizeIdentityJoin normalizes each element of an ordered list and joins
// them with a separator that cannot occur in a normalized string, so the
// result is safe to use as part of a comparable map key.
func NormalizeIdentityJoin(items []string) string {
	normalized := make([]string, len(items))
	for i, item := range items {
		normalized[i] = NormalizeIdentity(item)
	}
	return strings.Join(normalized, "\x1f")
}
