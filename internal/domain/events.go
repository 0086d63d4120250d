// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// EventKind names an append-only EventRecord's kind, per spec §3/§7.
type EventKind string

const (
	EventGrabbed EventKind = "grabbed"
	EventLinked  EventKind = "linked"
	EventCleaned EventKind = "cleaned"
	EventError   EventKind = "error"
)

// EventRecord is an append-only observability record; never mutated once
// written, per spec §3.
type EventRecord struct {
	ID        int64
	CreatedAt time.Time
	Kind      EventKind
	// SubjectHash is the info_hash (or, for a pending grab, the mam_id
	// formatted as a string) the event is about.
	SubjectHash string
	// Payload is kind-specific JSON, e.g. {"dry_run":true} for a dry-run
	// Grabbed event, or {"files":[...],"replacement":"<hash>"} for Cleaned.
	Payload map[string]any
}
