// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package web implements SPEC_FULL.md §10.5's thin, read-only JSON API: a
// viewer onto the core's persisted state, never a second writer, per spec
// §1's non-goal of a full management UI. Adapted from the teacher's
// chi-mux wiring in internal/api, trimmed to the handful of endpoints the
// spec actually names.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/image/draw"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/events"
	"github.com/s0up/mlm/internal/scheduler"
	"github.com/s0up/mlm/internal/store"
)

// coverThumbnailSize is the square pixel dimension thumbnails are resized
// to for GET /api/library/:hash/cover.
const coverThumbnailSize = 256

// TrackedStore is the narrow store slice the status/torrents endpoints
// need: a read-only lookup by hash and a filtered listing.
type TrackedStore interface {
	FindByHash(ctx context.Context, infoHash string) (*domain.TrackedTorrent, error)
	IterTracked(ctx context.Context, filter store.TrackedFilter) ([]domain.TrackedTorrent, error)
}

// SchedulerStatus is the narrow scheduler slice GET /api/status needs.
type SchedulerStatus interface {
	Status() []scheduler.TaskStatus
}

type Handler struct {
	store     TrackedStore
	events    *events.Reader
	scheduler SchedulerStatus
}

func NewHandler(trackedStore TrackedStore, eventsReader *events.Reader, scheduler SchedulerStatus) *Handler {
	return &Handler{store: trackedStore, events: eventsReader, scheduler: scheduler}
}

// RegisterRoutes mounts every endpoint under r, wrapped in CORS and
// response compression exactly as the teacher wraps its own API mux.
func (h *Handler) RegisterRoutes(r chi.Router) error {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return err
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	})

	r.Use(corsMiddleware.Handler)
	r.Use(compress)

	r.Get("/api/status", h.handleStatus)
	r.Get("/api/torrents", h.handleTorrents)
	r.Get("/api/events", h.handleEvents)
	r.Get("/api/library/{hash}/cover", h.handleCover)
	return nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var tasks []scheduler.TaskStatus
	if h.scheduler != nil {
		tasks = h.scheduler.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleTorrents serves GET /api/torrents; ?errored=true returns spec §7's
// "errored" view (the latest Error event per subject) instead of a plain
// listing.
func (h *Handler) handleTorrents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("errored") == "true" {
		limit := parseLimit(r, 100)
		records, err := h.events.Errored(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"errored": records})
		return
	}

	filter := store.TrackedFilter{}
	if category := r.URL.Query().Get("category"); category != "" {
		filter.Category = &category
	}

	torrents, err := h.store.IterTracked(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"torrents": torrents})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := events.Filter{Limit: parseLimit(r, 100)}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		k := domain.EventKind(kind)
		filter.Kind = &k
	}
	if hash := r.URL.Query().Get("hash"); hash != "" {
		filter.SubjectHash = &hash
	}

	records, err := h.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// handleCover decodes and resizes a linked torrent's cover image. It is
// the one UI-facing feature beyond plain JSON, included because the
// teacher repo always ships a thumbnail/favicon-adjacent concern alongside
// its APIs (SPEC_FULL.md §10.5).
func (h *Handler) handleCover(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	torrent, err := h.store.FindByHash(r.Context(), hash)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !torrent.IsLinked() {
		http.Error(w, "not linked", http.StatusNotFound)
		return
	}

	coverPath, ok := findCoverFile(torrent.LibraryPath, torrent.LibraryFiles)
	if !ok {
		http.Error(w, "no cover image", http.StatusNotFound)
		return
	}

	thumb, err := resizeCoverThumbnail(coverPath, coverThumbnailSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(thumb)
}

func resizeCoverThumbnail(path string, size int) ([]byte, error) {
	src, err := decodeJPEG(path)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
