// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up/mlm/internal/domain"
)

func TestSearchSendsMamIDCookie(t *testing.T) {
	t.Parallel()

	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("mam_id"); err == nil {
			gotCookie = c.Value
		}
		_ = json.NewEncoder(w).Encode(searchResponsePayload{
			Data: []searchResultItem{
				{ID: 42, MainCat: mainCatEbook, Title: "Example Book", AuthorInfo: "Jane Doe", Filetypes: []string{"epub"}},
			},
		})
	}))
	t.Cleanup(server.Close)

	c := New("secret-session", WithBaseURL(server.URL))
	results, err := c.Search(context.Background(), &domain.SearchSpec{Type: domain.SearchNew}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "secret-session", gotCookie)
	assert.Equal(t, int64(42), results[0].MamID)
	assert.Equal(t, domain.CatEbook, results[0].MainCat)
	assert.Equal(t, []string{"Jane Doe"}, results[0].Authors)
}

func TestSearchRetriesOn5xx(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(searchResponsePayload{Data: nil})
	}))
	t.Cleanup(server.Close)

	c := New("secret-session", WithBaseURL(server.URL))
	results, err := c.Search(context.Background(), &domain.SearchSpec{}, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 3, attempts)
}

func TestGetTorrentFileReturnsBytes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "99", r.URL.Query().Get("tid"))
		_, _ = w.Write([]byte("d8:announce..."))
	}))
	t.Cleanup(server.Close)

	c := New("secret-session", WithBaseURL(server.URL))
	b, err := c.GetTorrentFile(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "d8:announce...", string(b))
}

func TestApplyWedgeDeniedSurfacesError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "no wedges left"})
	}))
	t.Cleanup(server.Close)

	c := New("secret-session", WithBaseURL(server.URL))
	err := c.ApplyWedge(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wedges left")
}

func TestUserStatusParsesCounters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unsat":{"count":5,"limit":10},"wedge_active":3,"uploaded":2000,"downloaded":1000,"ratio":2.0}`)
	}))
	t.Cleanup(server.Close)

	c := New("secret-session", WithBaseURL(server.URL))
	status, err := c.UserStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, status.UnsatUsed)
	assert.Equal(t, 10, status.UnsatLimit)
	assert.Equal(t, 3, status.Wedges)
	assert.Equal(t, int64(2000), status.UploadedBytes)
	assert.Equal(t, int64(1000), status.DownloadedBytes)
	assert.InDelta(t, 2.0, status.Ratio, 0.0001)
}
