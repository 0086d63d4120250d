// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events implements the read side of L8, the append-only
// observability log: paginated, filterable queries over the events table
// internal/store's AppendEvent writes to. Kept separate from internal/store
// because every other L1 consumer (L5/L6/L7) only ever appends; only the
// web UI, CLI "errored" view, and tests ever need to read events back, per
// spec §2/§7.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/s0up/mlm/internal/dbinterface"
	"github.com/s0up/mlm/internal/domain"
)

// Reader queries the events table. It accepts anything satisfying
// dbinterface.Querier, so callers can pass *database.DB or a *sql.DB/Tx
// directly, following the same narrow-interface acceptance internal/store
// uses for dbinterface.TxBeginner.
type Reader struct {
	db dbinterface.Querier
}

func NewReader(db dbinterface.Querier) *Reader {
	return &Reader{db: db}
}

const defaultLimit = 100

// Filter narrows List; a nil/zero field is not applied.
type Filter struct {
	Kind        *domain.EventKind
	SubjectHash *string
	Limit       int
	Offset      int
}

// List returns events matching filter, newest first.
func (r *Reader) List(ctx context.Context, filter Filter) ([]domain.EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := "SELECT id, created_at, kind, subject_hash, payload_json FROM events WHERE 1=1"
	var args []any

	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, string(*filter.Kind))
	}
	if filter.SubjectHash != nil {
		query += " AND subject_hash = ?"
		args = append(args, *filter.SubjectHash)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// Errored returns every tracked torrent's most recent Error event, per spec
// §7's "surfaces on the errored view" requirement: one row per distinct
// subject_hash, the latest event for that subject.
func (r *Reader) Errored(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.created_at, e.kind, e.subject_hash, e.payload_json
		FROM events e
		INNER JOIN (
			SELECT subject_hash, MAX(id) AS max_id
			FROM events
			WHERE kind = ?
			GROUP BY subject_hash
		) latest ON latest.subject_hash = e.subject_hash AND latest.max_id = e.id
		ORDER BY e.id DESC
		LIMIT ?
	`, string(domain.EventError), limit)
	if err != nil {
		return nil, fmt.Errorf("list errored subjects: %w", err)
	}
	defer rows.Close()

	out, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("list errored subjects: %w", err)
	}
	return out, nil
}

// CountByKind returns the total number of events of the given kind ever
// recorded, for the metrics collector's monotonic counters.
func (r *Reader) CountByKind(ctx context.Context, kind domain.EventKind) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE kind = ?", string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events by kind: %w", err)
	}
	return count, nil
}

func scanEvents(rows *sql.Rows) ([]domain.EventRecord, error) {
	var out []domain.EventRecord
	for rows.Next() {
		var rec domain.EventRecord
		var kind, payloadJSON string
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &kind, &rec.SubjectHash, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		rec.Kind = domain.EventKind(kind)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event %d payload: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}
