// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// LedgerEntry records that L5 committed a selection decision, keyed by
// MamID, per spec §3.
type LedgerEntry struct {
	MamID     int64
	At        time.Time
	Cost      CostKind
	Reason    string // name of the SearchSpec that triggered this grab
	DryRun    bool
}
