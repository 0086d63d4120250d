// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package store implements the L1 persistent store: typed records and
// indexed queries over tracked_torrents, selection_ledger, and events,
// with every write committed as a single transaction so no partial state
// is ever visible to a concurrent reader.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/s0up/mlm/internal/dbinterface"
	"github.com/s0up/mlm/internal/domain"
)

// ErrCycle is returned by MarkReplaced when the new torrent's replacement
// chain already contains the old torrent, which would close a loop.
var ErrCycle = errors.New("store: replacement would create a cycle")

// ErrNotFound is returned by the single-record lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the L1 persistent store. It accepts anything satisfying
// dbinterface.TxBeginner, so callers can pass either *database.DB or, in
// tests, a fake that implements the same narrow interface.
type Store struct {
	db dbinterface.TxBeginner
}

func New(db dbinterface.TxBeginner) *Store {
	return &Store{db: db}
}

func identityKeyString(k domain.IdentityKey) string {
	return strings.Join([]string{k.Authors, k.Title, k.Series, string(k.MainCat)}, "\x1e")
}

func isUniqueConstraintError(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// UpsertMeta inserts or updates a TorrentMeta, idempotent by MamID. Local
// state columns (library_path, tags, category, ...) are preserved across an
// update; only the upstream-described fields change.
func (s *Store) UpsertMeta(ctx context.Context, meta domain.TorrentMeta) error {
	authorsJSON, err := json.Marshal(meta.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}
	narratorsJSON, err := json.Marshal(meta.Narrators)
	if err != nil {
		return fmt.Errorf("marshal narrators: %w", err)
	}
	seriesJSON, err := json.Marshal(meta.Series)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}
	filetypesJSON, err := json.Marshal(meta.FileTypes)
	if err != nil {
		return fmt.Errorf("marshal filetypes: %w", err)
	}
	flagsJSON, err := json.Marshal(meta.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracked_torrents (
			mam_id, info_hash, main_cat, title, authors_json, narrators_json,
			series_json, language, filetypes_json, size_bytes, flags_json,
			cost_kind, identity_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mam_id) DO UPDATE SET
			info_hash      = excluded.info_hash,
			main_cat       = excluded.main_cat,
			title          = excluded.title,
			authors_json   = excluded.authors_json,
			narrators_json = excluded.narrators_json,
			series_json    = excluded.series_json,
			language       = excluded.language,
			filetypes_json = excluded.filetypes_json,
			size_bytes     = excluded.size_bytes,
			flags_json     = excluded.flags_json,
			cost_kind      = excluded.cost_kind,
			identity_key   = excluded.identity_key
	`,
		meta.MamID, meta.InfoHash, string(meta.MainCat), meta.Title, string(authorsJSON),
		string(narratorsJSON), string(seriesJSON), meta.Language, string(filetypesJSON),
		meta.SizeBytes, string(flagsJSON), string(meta.CostKind), identityKeyString(meta.IdentityKey()),
		createdAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("upsert meta for mam_id %d: info_hash %s already tracked under a different mam_id: %w", meta.MamID, meta.InfoHash, err)
		}
		return fmt.Errorf("upsert meta for mam_id %d: %w", meta.MamID, err)
	}
	return nil
}

type trackedRow struct {
	MamID             int64
	InfoHash          string
	MainCat           string
	Title             string
	AuthorsJSON       string
	NarratorsJSON     string
	SeriesJSON        string
	Language          string
	FiletypesJSON     string
	SizeBytes         int64
	FlagsJSON         string
	CostKind          string
	LibraryPath       sql.NullString
	LibraryFilesJSON  string
	ReplacedWithHash  sql.NullString
	ReplacedWithWhen  sql.NullTime
	SourceDownloadDir string
	TagsJSON          string
	Category          string
	CreatedAt         time.Time
}

const trackedColumns = `
	mam_id, info_hash, main_cat, title, authors_json, narrators_json, series_json,
	language, filetypes_json, size_bytes, flags_json, cost_kind, library_path,
	library_files_json, replaced_with_hash, replaced_with_when, source_download_dir,
	tags_json, category, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedRow(scanner rowScanner) (trackedRow, error) {
	var r trackedRow
	err := scanner.Scan(
		&r.MamID, &r.InfoHash, &r.MainCat, &r.Title, &r.AuthorsJSON, &r.NarratorsJSON,
		&r.SeriesJSON, &r.Language, &r.FiletypesJSON, &r.SizeBytes, &r.FlagsJSON,
		&r.CostKind, &r.LibraryPath, &r.LibraryFilesJSON, &r.ReplacedWithHash,
		&r.ReplacedWithWhen, &r.SourceDownloadDir, &r.TagsJSON, &r.Category, &r.CreatedAt,
	)
	return r, err
}

func (r trackedRow) toDomain() (*domain.TrackedTorrent, error) {
	var authors, narrators, filetypes, tags []string
	var series []domain.SeriesEntry
	var flags map[string]bool

	for _, pair := range []struct {
		raw  string
		dest any
	}{
		{r.AuthorsJSON, &authors},
		{r.NarratorsJSON, &narrators},
		{r.FiletypesJSON, &filetypes},
		{r.SeriesJSON, &series},
		{r.FlagsJSON, &flags},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, fmt.Errorf("unmarshal tracked torrent field: %w", err)
		}
	}

	var libraryFiles []string
	if err := json.Unmarshal([]byte(r.LibraryFilesJSON), &libraryFiles); err != nil {
		return nil, fmt.Errorf("unmarshal library_files: %w", err)
	}
	if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}

	t := &domain.TrackedTorrent{
		TorrentMeta: domain.TorrentMeta{
			MamID:     r.MamID,
			InfoHash:  r.InfoHash,
			MainCat:   domain.MainCat(r.MainCat),
			Title:     r.Title,
			Authors:   authors,
			Narrators: narrators,
			Series:    series,
			Language:  r.Language,
			FileTypes: filetypes,
			SizeBytes: r.SizeBytes,
			Flags:     flags,
			CostKind:  domain.CostKind(r.CostKind),
			CreatedAt: r.CreatedAt,
		},
		LibraryPath:       r.LibraryPath.String,
		LibraryFiles:      libraryFiles,
		SourceDownloadDir: r.SourceDownloadDir,
		Tags:              tags,
		Category:          r.Category,
	}

	if r.ReplacedWithHash.Valid {
		t.ReplacedWith = &domain.ReplacedWith{
			InfoHash: r.ReplacedWithHash.String,
			When:     r.ReplacedWithWhen.Time,
		}
	}

	return t, nil
}

// FindByHash returns the tracked torrent with the given info_hash, or
// ErrNotFound.
func (s *Store) FindByHash(ctx context.Context, infoHash string) (*domain.TrackedTorrent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+trackedColumns+" FROM tracked_torrents WHERE info_hash = ?", infoHash)
	r, err := scanTrackedRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash %s: %w", infoHash, err)
	}
	return r.toDomain()
}

// FindByMam returns the tracked torrent with the given mam_id, or
// ErrNotFound.
func (s *Store) FindByMam(ctx context.Context, mamID int64) (*domain.TrackedTorrent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+trackedColumns+" FROM tracked_torrents WHERE mam_id = ?", mamID)
	r, err := scanTrackedRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by mam_id %d: %w", mamID, err)
	}
	return r.toDomain()
}

// TrackedFilter narrows IterTracked per spec §4.1: each non-nil field adds
// an AND'd predicate.
type TrackedFilter struct {
	Category         *string
	DownloadDir      *string
	HasLibraryPath   *bool
	ReplacedWithNull bool
	IdentityKey      *domain.IdentityKey
}

// IterTracked returns every tracked torrent matching filter. The result set
// for a single operator's library is small enough that a slice is the
// simpler and equally correct choice over a cursor-based stream.
func (s *Store) IterTracked(ctx context.Context, filter TrackedFilter) ([]domain.TrackedTorrent, error) {
	query := "SELECT" + trackedColumns + " FROM tracked_torrents WHERE 1=1"
	var args []any

	if filter.Category != nil {
		query += " AND category = ?"
		args = append(args, *filter.Category)
	}
	if filter.DownloadDir != nil {
		query += " AND source_download_dir = ?"
		args = append(args, *filter.DownloadDir)
	}
	if filter.HasLibraryPath != nil {
		if *filter.HasLibraryPath {
			query += " AND library_path IS NOT NULL"
		} else {
			query += " AND library_path IS NULL"
		}
	}
	if filter.ReplacedWithNull {
		query += " AND replaced_with_hash IS NULL"
	}
	if filter.IdentityKey != nil {
		query += " AND identity_key = ? AND main_cat = ?"
		args = append(args, identityKeyString(*filter.IdentityKey), string(filter.IdentityKey.MainCat))
	}
	query += " ORDER BY mam_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("iter tracked: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedTorrent
	for rows.Next() {
		r, err := scanTrackedRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked row: %w", err)
		}
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked rows: %w", err)
	}
	return out, nil
}

// SetLibrary records that L6 materialized path with the given relative
// files for the torrent identified by hash. Passing an empty path and nil
// files unlinks it.
func (s *Store) SetLibrary(ctx context.Context, hash, path string, files []string) error {
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal library files: %w", err)
	}

	var pathArg any
	if path == "" {
		pathArg = nil
		filesJSON = []byte("[]")
	} else {
		pathArg = path
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE tracked_torrents SET library_path = ?, library_files_json = ? WHERE info_hash = ?",
		pathArg, string(filesJSON), hash)
	if err != nil {
		return fmt.Errorf("set library for %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set library for %s: %w", hash, err)
	}
	if n == 0 {
		return fmt.Errorf("set library for %s: %w", hash, ErrNotFound)
	}
	return nil
}

// SyncClientState records the category/tags/source_download_dir the torrent
// client currently reports for hash, so L6/L7 can query tracked_torrents by
// those indexed columns without round-tripping to the client on every tick.
func (s *Store) SyncClientState(ctx context.Context, hash, category, sourceDownloadDir string, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags for %s: %w", hash, err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE tracked_torrents SET category = ?, source_download_dir = ?, tags_json = ? WHERE info_hash = ?",
		category, sourceDownloadDir, string(tagsJSON), hash)
	if err != nil {
		return fmt.Errorf("sync client state for %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sync client state for %s: %w", hash, err)
	}
	if n == 0 {
		return fmt.Errorf("sync client state for %s: %w", hash, ErrNotFound)
	}
	return nil
}

// MarkReplaced records that newHash supersedes oldHash, per spec §4.6/§9.
// It refuses the write, returning ErrCycle, if newHash's own replacement
// chain already reaches oldHash, which would close a loop.
func (s *Store) MarkReplaced(ctx context.Context, oldHash, newHash string) error {
	if oldHash == newHash {
		return fmt.Errorf("mark replaced %s -> %s: %w", oldHash, newHash, ErrCycle)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark replaced transaction: %w", err)
	}
	defer tx.Rollback()

	cur := newHash
	for {
		var next sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT replaced_with_hash FROM tracked_torrents WHERE info_hash = ?", cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return fmt.Errorf("walk replacement chain from %s: %w", newHash, err)
		}
		if !next.Valid {
			break
		}
		if next.String == oldHash {
			return fmt.Errorf("mark replaced %s -> %s: %w", oldHash, newHash, ErrCycle)
		}
		cur = next.String
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE tracked_torrents SET replaced_with_hash = ?, replaced_with_when = ? WHERE info_hash = ?",
		newHash, time.Now().UTC(), oldHash)
	if err != nil {
		return fmt.Errorf("mark replaced %s -> %s: %w", oldHash, newHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark replaced %s -> %s: %w", oldHash, newHash, err)
	}
	if n == 0 {
		return fmt.Errorf("mark replaced %s -> %s: %w", oldHash, newHash, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark replaced %s -> %s: %w", oldHash, newHash, err)
	}
	return nil
}

// AppendEvent appends an observability record, per spec §3/§7. Events are
// never updated or deleted by application code.
func (s *Store) AppendEvent(ctx context.Context, rec domain.EventRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (created_at, kind, subject_hash, payload_json) VALUES (?, ?, ?, ?)",
		createdAt, string(rec.Kind), rec.SubjectHash, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("append event %s for %s: %w", rec.Kind, rec.SubjectHash, err)
	}
	return nil
}

// ReadLedger returns the selection ledger entry for mam_id, or ErrNotFound.
func (s *Store) ReadLedger(ctx context.Context, mamID int64) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var dryRun int
	err := s.db.QueryRowContext(ctx,
		"SELECT mam_id, created_at, cost_kind, reason, dry_run FROM selection_ledger WHERE mam_id = ?",
		mamID).Scan(&entry.MamID, &entry.At, &entry.Cost, &entry.Reason, &dryRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger for mam_id %d: %w", mamID, err)
	}
	entry.DryRun = dryRun != 0
	return &entry, nil
}

// WriteLedger records that L5 committed a selection decision for
// entry.MamID. Writing twice for the same mam_id overwrites the entry,
// since a candidate is only ever (re-)selected once the dedup index (L4)
// admits it.
func (s *Store) WriteLedger(ctx context.Context, entry domain.LedgerEntry) error {
	dryRun := 0
	if entry.DryRun {
		dryRun = 1
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selection_ledger (mam_id, created_at, cost_kind, reason, dry_run)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mam_id) DO UPDATE SET
			created_at = excluded.created_at,
			cost_kind  = excluded.cost_kind,
			reason     = excluded.reason,
			dry_run    = excluded.dry_run
	`, entry.MamID, at, string(entry.Cost), entry.Reason, dryRun)
	if err != nil {
		return fmt.Errorf("write ledger for mam_id %d: %w", entry.MamID, err)
	}
	return nil
}

// CountActiveForSpec counts torrents grabbed by the named spec (per
// selection_ledger.reason) that have not yet been linked into the library
// and have not been superseded, for a selector tick's
// spec.max_active_downloads enforcement.
func (s *Store) CountActiveForSpec(ctx context.Context, specName string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM selection_ledger l
		JOIN tracked_torrents t ON t.mam_id = l.mam_id
		WHERE l.reason = ?
		  AND t.library_path IS NULL
		  AND t.replaced_with_hash IS NULL
	`, specName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active downloads for spec %q: %w", specName, err)
	}
	return count, nil
}
