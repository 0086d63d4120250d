// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package titles infers an "abridged" edition hint from a raw torrent name
// when the tracker's own flags don't say one way or the other.
package titles

import (
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

// Parser wraps rls.ParseString with a TTL cache, since the same raw name is
// parsed repeatedly across a tick's coarse-filter pass.
type Parser struct {
	cache *ttlcache.Cache[string, *bool]
}

// NewParser creates a title parser with a short-lived cache sized for one
// or two ticks' worth of candidates.
func NewParser() *Parser {
	return &Parser{
		cache: ttlcache.New(ttlcache.Options[string, *bool]{}.SetDefaultTTL(5 * time.Minute)),
	}
}

// InferAbridged reports whether name's release tags mention "abridged" or
// "unabridged", returning nil when neither is present. Used only to fill a
// gap in the tracker's own abridged flag, never to override it.
func (p *Parser) InferAbridged(name string) *bool {
	if cached, found := p.cache.Get(name); found {
		return cached
	}

	release := rls.ParseString(name)
	result := abridgedFromTags(release.Edition, release.Other)
	p.cache.Set(name, result, ttlcache.DefaultTTL)
	return result
}

func abridgedFromTags(tagLists ...[]string) *bool {
	for _, tags := range tagLists {
		for _, tag := range tags {
			switch strings.ToLower(tag) {
			case "unabridged":
				no := false
				return &no
			case "abridged":
				yes := true
				return &yes
			}
		}
	}
	return nil
}
