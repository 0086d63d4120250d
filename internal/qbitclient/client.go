// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbitclient adapts github.com/autobrr/go-qbittorrent to the five
// torrent-client operations spec §6 names: list_torrents, add_torrent,
// set_category, set_tags, delete_torrent. Everything else the underlying
// WebAPI exposes is deliberately not surfaced; the core reconciliation
// engine only ever needs this narrow view.
package qbitclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/pkg/hashutil"
)

// Client wraps one configured [[qbittorrent]] instance. It tracks health so
// the selector/linker/cleaner loops can skip an instance that's currently
// unreachable rather than fail every torrent routed to it.
type Client struct {
	*qbt.Client
	name          string
	webAPIVersion string

	mu              sync.RWMutex
	lastHealthCheck time.Time
	isHealthy       bool
}

// New logs into the named qBittorrent instance and probes its WebAPI
// version, mirroring the health-check-on-connect pattern used for every
// other external collaborator in this daemon.
func New(name, host, username, password string, basicUsername, basicPassword *string) (*Client, error) {
	cfg := qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  30,
	}
	if basicUsername != nil && *basicUsername != "" {
		cfg.BasicUser = *basicUsername
		if basicPassword != nil {
			cfg.BasicPass = *basicPassword
		}
	}

	qbtClient := qbt.NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("connect to qbittorrent instance %q: %w", name, err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}

	c := &Client{
		Client:          qbtClient,
		name:            name,
		webAPIVersion:   webAPIVersion,
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	log.Debug().Str("instance", name).Str("host", host).Str("webAPIVersion", webAPIVersion).
		Msg("qbittorrent client created")

	return c, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

// HealthCheck re-probes the instance, re-logging in on a transient auth
// expiry before giving up.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetWebAPIVersionCtx(ctx)
	if err != nil {
		if loginErr := c.LoginCtx(ctx); loginErr != nil {
			c.setHealthy(false)
			return fmt.Errorf("health check for %q: login error: %w", c.name, loginErr)
		}
		if _, err = c.GetWebAPIVersionCtx(ctx); err != nil {
			c.setHealthy(false)
			return fmt.Errorf("health check for %q: api error: %w", c.name, err)
		}
	}
	c.setHealthy(true)
	return nil
}

func (c *Client) setHealthy(v bool) {
	c.mu.Lock()
	c.isHealthy = v
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// supportsSetTags mirrors the teacher's webAPI-version gate: AddTagsCtx
// (union semantics) only exists from 2.11.4 onward; older instances need
// the full-replace SetTagsCtx call instead.
func (c *Client) supportsSetTags() bool {
	if c.webAPIVersion == "" {
		return false
	}
	v, err := semver.NewVersion(c.webAPIVersion)
	if err != nil {
		return false
	}
	return !v.LessThan(semver.MustParse("2.11.4"))
}

// ListTorrents returns every torrent the instance currently holds.
func (c *Client) ListTorrents(ctx context.Context) ([]domain.ClientTorrent, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("list torrents on %q: %w", c.name, err)
	}

	out := make([]domain.ClientTorrent, 0, len(torrents))
	for _, t := range torrents {
		out = append(out, c.toClientTorrent(ctx, t))
	}
	return out, nil
}

// GetByHash returns the single torrent identified by hash, if present.
// hash is normalized before the lookup since MLM's own store always keys
// tracked torrents by hashutil.Normalize's canonical form.
func (c *Client) GetByHash(ctx context.Context, hash string) (domain.ClientTorrent, bool, error) {
	hash = hashutil.Normalize(hash)
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return domain.ClientTorrent{}, false, fmt.Errorf("get torrent %s on %q: %w", hash, c.name, err)
	}
	if len(torrents) == 0 {
		return domain.ClientTorrent{}, false, nil
	}

	return c.toClientTorrent(ctx, torrents[0]), true, nil
}

// toClientTorrent fetches t's file listing and normalizes its info_hash,
// since qBittorrent's reported case can vary by version/platform while
// every hash MLM stores or compares is lowercased via hashutil.Normalize.
func (c *Client) toClientTorrent(ctx context.Context, t qbt.Torrent) domain.ClientTorrent {
	files, err := c.GetFilesInformationCtx(ctx, t.Hash)
	if err != nil {
		log.Warn().Err(err).Str("instance", c.name).Str("hash", t.Hash).Msg("list files for torrent")
		files = nil
	}

	clientFiles := make([]domain.ClientFile, 0, len(files))
	for _, f := range files {
		clientFiles = append(clientFiles, domain.ClientFile{Path: f.Name, SizeByte: f.Size})
	}

	return domain.ClientTorrent{
		InfoHash: hashutil.Normalize(t.Hash),
		Name:     t.Name,
		Category: t.Category,
		Tags:     splitTags(t.Tags),
		State:    string(t.State),
		SavePath: t.SavePath,
		Files:    clientFiles,
	}
}

// AddTorrent submits a .torrent file's raw bytes.
func (c *Client) AddTorrent(ctx context.Context, torrentBytes []byte, category string, tags []string, paused bool) error {
	opts := map[string]string{}
	if category != "" {
		opts["category"] = category
	}
	if len(tags) > 0 {
		opts["tags"] = joinTags(tags)
	}
	if paused {
		opts["paused"] = "true"
	}

	if err := c.AddTorrentFromMemoryCtx(ctx, torrentBytes, opts); err != nil {
		return fmt.Errorf("add torrent on %q: %w", c.name, err)
	}
	return nil
}

// SetCategory sets hash's category, replacing any existing one.
func (c *Client) SetCategory(ctx context.Context, hash, category string) error {
	if err := c.SetCategoryCtx(ctx, []string{hash}, category); err != nil {
		return fmt.Errorf("set category on %q for %s: %w", c.name, hash, err)
	}
	return nil
}

// SetTags adds tags to hash with union semantics (existing tags are kept),
// per spec §6. Instances whose WebAPI predates the union-add endpoint fall
// back to a full tag replace; this can drop a tag the daemon doesn't know
// about, but is the only option the older API offers.
func (c *Client) SetTags(ctx context.Context, hash string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	if c.supportsSetTags() {
		if err := c.AddTagsCtx(ctx, []string{hash}, joinTags(tags)); err != nil {
			return fmt.Errorf("add tags on %q for %s: %w", c.name, hash, err)
		}
		return nil
	}

	if err := c.SetTagsCtx(ctx, []string{hash}, joinTags(tags)); err != nil {
		return fmt.Errorf("set tags on %q for %s: %w", c.name, hash, err)
	}
	return nil
}

// DeleteTorrent removes a torrent from the client. Reserved per spec §6;
// the cleaner does not currently call this.
func (c *Client) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	if err := c.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return fmt.Errorf("delete torrent on %q for %s: %w", c.name, hash, err)
	}
	return nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == ',' {
			if tag := trimSpace(raw[start:i]); tag != "" {
				out = append(out, tag)
			}
			start = i + 1
		}
	}
	if tag := trimSpace(raw[start:]); tag != "" {
		out = append(out, tag)
	}
	return out
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
