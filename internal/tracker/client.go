// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracker is a narrow HTTP adapter for the MaM tracker, exposing
// only the four operations spec §6 names: search, get_torrent_file,
// apply_wedge, user_status. Everything else the upstream site offers is
// out of scope.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/buildinfo"
	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/pkg/httphelpers"
)

const defaultBaseURL = "https://www.myanonamouse.net"

// Client talks to the MaM tracker, authenticating via the mam_id session
// cookie the operator configures (spec §3, top-level mam_id knob).
type Client struct {
	httpClient *http.Client
	baseURL    string
	mamID      string
}

// Option customizes a Client beyond its required mam_id.
type Option func(*Client)

// WithBaseURL overrides the default tracker host; used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func New(mamID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		mamID:      mamID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "mam_id", Value: c.mamID})
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	return req, nil
}

// do executes req with retry-go, retrying transient network/5xx failures
// with exponential backoff for up to 3 attempts in all, per spec §7's
// Transient taxonomy entry.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	err := retry.Do(
		func() error {
			r, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			if r.StatusCode >= 500 {
				httphelpers.DrainAndClose(r)
				return fmt.Errorf("tracker returned %d", r.StatusCode)
			}
			resp = r
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(req.Context()),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("url", req.URL.Path).Msg("tracker request retry")
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type searchResponsePayload struct {
	Data []searchResultItem `json:"data"`
}

type searchResultItem struct {
	ID         int64    `json:"id"`
	MainCat    int      `json:"main_cat"`
	CatName    string   `json:"cat_name"`
	Title      string   `json:"title"`
	AuthorInfo string   `json:"author_info"`
	NarratInfo string   `json:"narrator_info"`
	SeriesInfo string   `json:"series_info"`
	Language   string   `json:"lang_code"`
	Filetypes  []string `json:"filetypes"`
	Size       int64    `json:"size"`
	Seeders    int      `json:"seeders"`
	Leechers   int      `json:"leechers"`
	Snatched   int      `json:"times_completed"`
	Uploader   string   `json:"uploader_name"`
	AddedAt    string   `json:"added"`
	Tags       []string `json:"tags"`
	VIP        bool     `json:"vip"`
	Free       bool     `json:"free"`
	Personal   bool     `json:"personal_freeleech"`
}

// Search returns one page of results for spec, per spec §6. Paging starts
// at 1; callers stop once a page comes back empty or max_pages is reached.
func (c *Client) Search(ctx context.Context, spec *domain.SearchSpec, page int) ([]domain.CandidateTorrent, error) {
	q := url.Values{}
	q.Set("tor[searchType]", string(spec.Type))
	q.Set("tor[startNumber]", strconv.Itoa((page-1)*50))
	if spec.Query != "" {
		q.Set("tor[text]", spec.Query)
	}
	if spec.UploaderID != 0 {
		q.Set("tor[uploader]", strconv.FormatInt(spec.UploaderID, 10))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/tor/js/loadSearchJSONbasic.php", q, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("search tracker: %w", err)
	}
	defer httphelpers.DrainAndClose(resp)

	var payload searchResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.CandidateTorrent, 0, len(payload.Data))
	for _, item := range payload.Data {
		out = append(out, toCandidate(item))
	}
	return out, nil
}

func toCandidate(item searchResultItem) domain.CandidateTorrent {
	mainCat := domain.CatAudio
	if item.MainCat == mainCatEbook {
		mainCat = domain.CatEbook
	}

	addedAt, _ := time.Parse("2006-01-02 15:04:05", item.AddedAt)

	flags := map[string]bool{}
	if item.VIP {
		flags["vip"] = true
	}
	if item.Free {
		flags["free"] = true
	}
	if item.Personal {
		flags["personal_freeleech"] = true
	}

	return domain.CandidateTorrent{
		MamID:      item.ID,
		MainCat:    mainCat,
		Category:   item.CatName,
		Title:      item.Title,
		Authors:    splitPipe(item.AuthorInfo),
		Narrators:  splitPipe(item.NarratInfo),
		Language:   item.Language,
		FileTypes:  item.Filetypes,
		SizeBytes:  item.Size,
		Flags:      flags,
		Tags:       item.Tags,
		Seeders:    item.Seeders,
		Leechers:   item.Leechers,
		Snatched:   item.Snatched,
		UploadedAt: addedAt,
		Uploader:   item.Uploader,
	}
}

const mainCatEbook = 14

func splitPipe(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			if s[start:i] != "" {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if s[start:] != "" {
		out = append(out, s[start:])
	}
	return out
}

// GetTorrentFile downloads the raw .torrent bytes for mamID.
func (c *Client) GetTorrentFile(ctx context.Context, mamID int64) ([]byte, error) {
	q := url.Values{}
	q.Set("tid", strconv.FormatInt(mamID, 10))

	req, err := c.newRequest(ctx, http.MethodGet, "/tor/download.php", q, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("download torrent file for mam_id %d: %w", mamID, err)
	}
	defer httphelpers.DrainAndClose(resp)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read torrent file for mam_id %d: %w", mamID, err)
	}
	return b, nil
}

// ApplyWedge spends one wedge credit on mamID.
func (c *Client) ApplyWedge(ctx context.Context, mamID int64) error {
	q := url.Values{}
	q.Set("tid", strconv.FormatInt(mamID, 10))

	req, err := c.newRequest(ctx, http.MethodPost, "/json/bonusBuy.php/wedge", q, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("apply wedge for mam_id %d: %w", mamID, err)
	}
	defer httphelpers.DrainAndClose(resp)

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode wedge response for mam_id %d: %w", mamID, err)
	}
	if !result.Success {
		return fmt.Errorf("wedge denied for mam_id %d: %s", mamID, result.Error)
	}
	return nil
}

// UserStatus is the account-level counters spec §6's user_status() call
// returns, consumed by internal/budget.Snapshot.
type UserStatus struct {
	UnsatUsed       int
	UnsatLimit      int
	Wedges          int
	UploadedBytes   int64
	DownloadedBytes int64
	Ratio           float64
}

func (c *Client) UserStatus(ctx context.Context) (UserStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/jsonLoad.php", url.Values{"snatch_summary": {"true"}}, nil)
	if err != nil {
		return UserStatus{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return UserStatus{}, fmt.Errorf("fetch user status: %w", err)
	}
	defer httphelpers.DrainAndClose(resp)

	var raw struct {
		Unsat struct {
			Count int `json:"count"`
			Limit int `json:"limit"`
		} `json:"unsat"`
		Wedges     int     `json:"wedge_active"`
		Uploaded   int64   `json:"uploaded"`
		Downloaded int64   `json:"downloaded"`
		Ratio      float64 `json:"ratio"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return UserStatus{}, fmt.Errorf("decode user status: %w", err)
	}

	return UserStatus{
		UnsatUsed:       raw.Unsat.Count,
		UnsatLimit:      raw.Unsat.Limit,
		Wedges:          raw.Wedges,
		UploadedBytes:   raw.Uploaded,
		DownloadedBytes: raw.Downloaded,
		Ratio:           raw.Ratio,
	}, nil
}
