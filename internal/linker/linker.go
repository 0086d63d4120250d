// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package linker implements the L6 library linker loop: for each completed
// tracked torrent it chooses the first matching LibraryRule, selects at
// most one audio and one ebook format, and materializes the result under a
// deterministic, idempotent destination path, per spec §4.5.
package linker

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/s0up/mlm/internal/domain"
	"github.com/s0up/mlm/internal/store"
	"github.com/s0up/mlm/pkg/hardlinktree"
	"github.com/s0up/mlm/pkg/pathutil"
)

// Store is the subset of *store.Store a linker tick needs.
type Store interface {
	IterTracked(ctx context.Context, filter store.TrackedFilter) ([]domain.TrackedTorrent, error)
	SetLibrary(ctx context.Context, hash, path string, files []string) error
	SyncClientState(ctx context.Context, hash, category, sourceDownloadDir string, tags []string) error
	AppendEvent(ctx context.Context, rec domain.EventRecord) error
}

// ClientLocator finds a tracked torrent's live torrent-client state by
// info_hash, across however many configured instances it takes to find it.
// Satisfied by *qbitclient.Pool.
type ClientLocator interface {
	FindByHash(ctx context.Context, hash string) (instance string, torrent domain.ClientTorrent, found bool, err error)
}

// Superseder runs L7 against a just-linked torrent. Nil is valid: a linker
// built before L7 exists simply never supersedes.
type Superseder interface {
	Supersede(ctx context.Context, linked domain.TrackedTorrent) error
}

// PostLinkHook runs an operator-configured external command after a
// successful link. Nil is valid: a linker with no hook configured simply
// never runs one. Satisfied by *hooks.Hook.
type PostLinkHook interface {
	Run(ctx context.Context, linked domain.TrackedTorrent)
}

// Linker runs one tick of the L6 loop.
type Linker struct {
	store      Store
	locator    ClientLocator
	rules      []domain.LibraryRule
	cfg        domain.Config
	superseder Superseder
	hook       PostLinkHook
}

func New(st Store, locator ClientLocator, rules []domain.LibraryRule, cfg domain.Config, superseder Superseder, hook PostLinkHook) *Linker {
	return &Linker{store: st, locator: locator, rules: rules, cfg: cfg, superseder: superseder, hook: hook}
}

// Result summarizes one tick, for logging/metrics.
type Result struct {
	Linked  int
	Skipped int
	Errored int
}

// Run links every not-yet-replaced tracked torrent whose torrent-client
// state is eligible, per spec §4.5.
func (l *Linker) Run(ctx context.Context) Result {
	var res Result

	tracked, err := l.store.IterTracked(ctx, store.TrackedFilter{ReplacedWithNull: true})
	if err != nil {
		log.Warn().Err(err).Msg("linker: list tracked torrents")
		res.Errored++
		return res
	}

	for _, t := range tracked {
		if ctx.Err() != nil {
			return res
		}
		switch l.linkOne(ctx, t) {
		case outcomeLinked:
			res.Linked++
		case outcomeSkipped:
			res.Skipped++
		case outcomeErrored:
			res.Errored++
		}
	}
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeLinked
	outcomeErrored
)

func (l *Linker) linkOne(ctx context.Context, t domain.TrackedTorrent) outcome {
	_, client, found, err := l.locator.FindByHash(ctx, t.InfoHash)
	if err != nil {
		log.Warn().Err(err).Str("hash", t.InfoHash).Msg("linker: find torrent on client")
		return outcomeErrored
	}
	if !found {
		return outcomeSkipped
	}
	if !isComplete(client) {
		return outcomeSkipped
	}

	if err := l.store.SyncClientState(ctx, t.InfoHash, client.Category, client.SavePath, client.Tags); err != nil {
		log.Warn().Err(err).Str("hash", t.InfoHash).Msg("linker: sync client state")
		return outcomeErrored
	}

	rule := MatchRule(l.rules, client.Category, client.SavePath, client.Tags)
	if rule == nil {
		return outcomeSkipped
	}

	selected, err := selectFiles(l.cfg, client.Files)
	if err != nil {
		log.Debug().Err(err).Str("hash", t.InfoHash).Msg("linker: no eligible files")
		return outcomeSkipped
	}
	if len(selected) == 0 {
		return outcomeSkipped
	}

	destDir := destinationPath(*rule, t, l.cfg)

	mode := hardlinktree.Mode(rule.Materialization)
	if mode == "" {
		mode = hardlinktree.Hardlink
	}

	expectedNames := make([]string, 0, len(selected))
	for _, f := range selected {
		expectedNames = append(expectedNames, filepath.Base(f.Path))
	}
	sort.Strings(expectedNames)

	if t.LibraryPath != "" && t.LibraryPath != destDir {
		RemoveLibraryFiles(t.LibraryPath, t.LibraryFiles, rule.LibraryDir)
	}

	for _, f := range selected {
		src := filepath.Join(client.SavePath, f.Path)
		dst := filepath.Join(destDir, filepath.Base(f.Path))

		upToDate, err := hardlinktree.UpToDate(src, dst, mode)
		if err != nil {
			log.Warn().Err(err).Str("hash", t.InfoHash).Str("dst", dst).Msg("linker: check up to date")
			return outcomeErrored
		}
		if upToDate {
			continue
		}
		if err := hardlinktree.Link(src, dst, mode); err != nil {
			log.Warn().Err(err).Str("hash", t.InfoHash).Str("dst", dst).Msg("linker: materialize file")
			return outcomeErrored
		}
	}

	removeUnexpectedFiles(destDir, expectedNames)

	if err := l.store.SetLibrary(ctx, t.InfoHash, destDir, expectedNames); err != nil {
		log.Warn().Err(err).Str("hash", t.InfoHash).Msg("linker: persist library path")
		return outcomeErrored
	}

	if err := l.store.AppendEvent(ctx, domain.EventRecord{
		Kind:        domain.EventLinked,
		SubjectHash: t.InfoHash,
		Payload:     map[string]any{"library_path": destDir, "files": expectedNames},
	}); err != nil {
		log.Warn().Err(err).Str("hash", t.InfoHash).Msg("linker: append linked event")
	}

	linked := t
	linked.LibraryPath = destDir
	linked.LibraryFiles = expectedNames
	if l.superseder != nil {
		if err := l.superseder.Supersede(ctx, linked); err != nil {
			log.Warn().Err(err).Str("hash", t.InfoHash).Msg("linker: run supersession cleaner")
		}
	}
	if l.hook != nil {
		l.hook.Run(ctx, linked)
	}

	return outcomeLinked
}

// isComplete reports whether client has finished downloading, per spec
// §4.5's "Completed (or any state with files present)" predicate.
func isComplete(client domain.ClientTorrent) bool {
	return client.State == "completed" || len(client.Files) > 0
}

// MatchRule returns the first rule matching the given category/download-dir/
// tags, or nil. Exported for internal/cleaner's reuse when resolving a
// superseded torrent's on_cleaned action and library root.
func MatchRule(rules []domain.LibraryRule, category, downloadDir string, tags []string) *domain.LibraryRule {
	for i := range rules {
		if rules[i].Matches(category, downloadDir, tags) {
			return &rules[i]
		}
	}
	return nil
}

var auxFileBaseNames = map[string]struct{}{
	"cover.jpg":    {},
	"cover.jpeg":   {},
	"cover.png":    {},
	"metadata.opf": {},
}

// selectFiles partitions files into audio/ebook by configured suffix lists,
// keeps every file of the single lowest-indexed suffix present in each
// partition, and includes auxiliary files (cover art, metadata.opf)
// alongside a non-empty partition, per spec §4.5's "File selection".
func selectFiles(cfg domain.Config, files []domain.ClientFile) ([]domain.ClientFile, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files")
	}

	audioSuffixes := suffixesOf(files, cfg.AudioTypes)
	ebookSuffixes := suffixesOf(files, cfg.EbookTypes)

	audioSuffix, audioRank := domain.PreferredSuffix(cfg.AudioTypes, audioSuffixes)
	ebookSuffix, ebookRank := domain.PreferredSuffix(cfg.EbookTypes, ebookSuffixes)

	var selected []domain.ClientFile
	var aux []domain.ClientFile

	for _, f := range files {
		suffix := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), "."))
		switch {
		case audioRank != domain.NoRank && suffix == audioSuffix:
			selected = append(selected, f)
		case ebookRank != domain.NoRank && suffix == ebookSuffix:
			selected = append(selected, f)
		default:
			if _, ok := auxFileBaseNames[strings.ToLower(filepath.Base(f.Path))]; ok {
				aux = append(aux, f)
			}
		}
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("no file matches a configured audio/ebook type")
	}
	return append(selected, aux...), nil
}

func suffixesOf(files []domain.ClientFile, preferenceList []string) []string {
	if len(preferenceList) == 0 {
		return nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, strings.TrimPrefix(filepath.Ext(f.Path), "."))
	}
	return out
}

// destinationPath builds T's canonical library path, per spec §4.5's
// "Destination path" rules.
func destinationPath(rule domain.LibraryRule, t domain.TrackedTorrent, cfg domain.Config) string {
	author := "Unknown Author"
	if len(t.Authors) > 0 && strings.TrimSpace(t.Authors[0]) != "" {
		author = t.Authors[0]
	}

	hasSeries := len(t.Series) > 0
	var seriesName string
	var seriesIndex *float64
	if hasSeries {
		seriesName = t.Series[0].Name
		seriesIndex = t.Series[0].Index
	}

	leaf := buildLeaf(t, hasSeries, seriesName, seriesIndex, cfg.ExcludeNarratorInLibraryDir)

	parts := []string{rule.LibraryDir, pathutil.SanitizePathSegment(author)}
	if hasSeries {
		parts = append(parts, pathutil.SanitizePathSegment(seriesName))
	}
	parts = append(parts, pathutil.SanitizePathSegment(leaf))

	return filepath.Join(parts...)
}

func buildLeaf(t domain.TrackedTorrent, hasSeries bool, seriesName string, seriesIndex *float64, excludeNarrator bool) string {
	narratorSuffix := ""
	if t.MainCat == domain.CatAudio && !excludeNarrator && len(t.Narrators) > 0 {
		narratorSuffix = " {" + strings.Join(t.Narrators, ", ") + "}"
	}

	if !hasSeries {
		return t.Title + narratorSuffix
	}

	indexPart := formatIndex(seriesIndex)
	if indexPart == "" {
		return fmt.Sprintf("%s - %s%s", seriesName, t.Title, narratorSuffix)
	}
	return fmt.Sprintf("%s #%s - %s%s", seriesName, indexPart, t.Title, narratorSuffix)
}

func formatIndex(idx *float64) string {
	if idx == nil {
		return ""
	}
	if *idx == math.Trunc(*idx) {
		return strconv.FormatInt(int64(*idx), 10)
	}
	return strconv.FormatFloat(*idx, 'f', -1, 64)
}

// RemoveLibraryFiles removes a torrent's previously materialized files
// (e.g. after a rule change moves its destination, or a cleaner supersession
// per spec §4.6) and any now-empty parent directories up to, but not
// including, libraryRoot. Exported for internal/cleaner's reuse.
func RemoveLibraryFiles(libraryPath string, files []string, libraryRoot string) {
	for _, f := range files {
		if err := os.Remove(filepath.Join(libraryPath, f)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", filepath.Join(libraryPath, f)).Msg("linker: remove stale library file")
		}
	}
	removeEmptyParents(libraryPath, libraryRoot)
}

// removeUnexpectedFiles deletes any file directly under dir that is not in
// expectedNames, per spec §4.5's idempotence rule.
func removeUnexpectedFiles(dir string, expectedNames []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	expected := make(map[string]struct{}, len(expectedNames))
	for _, n := range expectedNames {
		expected[n] = struct{}{}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := expected[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("path", filepath.Join(dir, e.Name())).Msg("linker: remove unexpected file")
		}
	}
}

func removeEmptyParents(dir, root string) {
	root = filepath.Clean(root)
	for cur := filepath.Clean(dir); cur != root && strings.HasPrefix(cur, root); {
		entries, err := os.ReadDir(cur)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(cur); err != nil {
			return
		}
		cur = filepath.Dir(cur)
	}
}
