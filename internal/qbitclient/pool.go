// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbitclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/s0up/mlm/internal/domain"
)

// Pool holds one Client per configured [[qbittorrent]] instance, keyed by
// its config name, and tracks per-instance backoff after a failure so the
// linker/cleaner loops skip an instance currently rate-limited or banned
// rather than hammer it every tick.
type Pool struct {
	mu             sync.RWMutex
	clients        map[string]*Client
	failureTracker map[string]*failureInfo
}

type failureInfo struct {
	attempts  int
	nextRetry time.Time
}

// InstanceConfig is the subset of a [[qbittorrent]] table Pool needs.
type InstanceConfig struct {
	Name          string
	Host          string
	Username      string
	Password      string
	BasicUsername *string
	BasicPassword *string
}

func NewPool() *Pool {
	return &Pool{
		clients:        make(map[string]*Client),
		failureTracker: make(map[string]*failureInfo),
	}
}

// Connect adds or replaces the client for cfg.Name.
func (p *Pool) Connect(cfg InstanceConfig) error {
	c, err := New(cfg.Name, cfg.Host, cfg.Username, cfg.Password, cfg.BasicUsername, cfg.BasicPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.clients[cfg.Name] = c
	p.mu.Unlock()
	return nil
}

// Get returns the named client, or false if it's unknown or currently in
// backoff.
func (p *Pool) Get(name string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.clients[name]
	if !ok {
		return nil, false
	}
	if p.isInBackoffLocked(name) {
		return nil, false
	}
	return c, true
}

// All returns every registered client name, for loops that fan out across
// every configured instance.
func (p *Pool) All() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	return names
}

// FindByHash searches every registered, not-currently-backed-off client for
// the torrent identified by hash, returning the owning instance's name
// alongside it. Used by the linker, which does not track which instance a
// tracked torrent was added to.
func (p *Pool) FindByHash(ctx context.Context, hash string) (instance string, torrent domain.ClientTorrent, found bool, err error) {
	for _, name := range p.All() {
		c, ok := p.Get(name)
		if !ok {
			continue
		}
		t, ok, gErr := c.GetByHash(ctx, hash)
		if gErr != nil {
			p.TrackFailure(name, gErr)
			continue
		}
		p.ResetFailureTracking(name)
		if ok {
			return name, t, true, nil
		}
	}
	return "", domain.ClientTorrent{}, false, nil
}

// ApplyOnCleaned runs a library rule's on_cleaned action against the named
// instance: set category (if non-empty) and union-add tags (if any), per
// spec §4.6. Used by the cleaner once it has decided a torrent lost a
// format-upgrade comparison; never deletes the torrent.
func (p *Pool) ApplyOnCleaned(ctx context.Context, instance, hash, category string, tags []string) error {
	c, ok := p.Get(instance)
	if !ok {
		return fmt.Errorf("apply on_cleaned for %s: instance %q unavailable", hash, instance)
	}

	if category != "" {
		if err := c.SetCategory(ctx, hash, category); err != nil {
			p.TrackFailure(instance, err)
			return err
		}
	}
	if len(tags) > 0 {
		if err := c.SetTags(ctx, hash, tags); err != nil {
			p.TrackFailure(instance, err)
			return err
		}
	}
	p.ResetFailureTracking(instance)
	return nil
}

func (p *Pool) isInBackoffLocked(name string) bool {
	info, ok := p.failureTracker[name]
	if !ok {
		return false
	}
	return time.Now().Before(info.nextRetry)
}

func (p *Pool) IsInBackoff(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isInBackoffLocked(name)
}

// TrackFailure records a failure against name and schedules its next
// retry with exponential backoff, escalating faster and further for
// ban/rate-limit errors than for ordinary connection failures.
func (p *Pool) TrackFailure(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, ok := p.failureTracker[name]
	if !ok {
		info = &failureInfo{}
		p.failureTracker[name] = info
	}
	info.attempts++

	var backoff time.Duration
	if isBanError(err) {
		minutes := 5 * (1 << (info.attempts - 1))
		if minutes > 60 {
			minutes = 60
		}
		backoff = time.Duration(minutes) * time.Minute
	} else {
		backoff = 30 * time.Second
	}
	info.nextRetry = time.Now().Add(backoff)
}

// ResetFailureTracking clears name's backoff state, called once a request
// against it succeeds again.
func (p *Pool) ResetFailureTracking(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failureTracker, name)
}

func isBanError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "ip is banned") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "403 forbidden")
}

// Close logs out of every registered instance.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, c := range p.clients {
		if err := c.LogoutCtx(context.Background()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("logout from %q: %w", name, err)
		}
	}
	return firstErr
}
