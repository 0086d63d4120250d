// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package budget implements the L2 budget oracle: a per-tick snapshot of
// account-level tracker counters (unsatisfied-seed slots, wedge credits,
// ratio) that the selector loop consults before committing a grab.
package budget

import (
	"fmt"
	"sync"

	"github.com/s0up/mlm/internal/domain"
)

// Decision is the result of a may_grab check.
type Decision struct {
	Allowed bool
	Reason  string // empty iff Allowed
}

func allow() Decision       { return Decision{Allowed: true} }
func deny(why string) Decision { return Decision{Allowed: false, Reason: why} }

// DefaultMinRatio is applied when a Snapshot has no override (spec §4.2).
const DefaultMinRatio = 2.0

// Snapshot is the account-level state fetched from the tracker once per
// outer tick. Values are decremented in place as the selector commits
// grabs within that tick (spec §4.2's "decrements the snapshot
// optimistically").
type Snapshot struct {
	UnsatUsed  int
	UnsatLimit int
	Wedges     int

	UploadedBytes   int64
	DownloadedBytes int64
	MinRatio        float64 // 0 means DefaultMinRatio

	GlobalUnsatBuffer int
}

// Oracle guards a Snapshot behind a mutex so concurrent selector ticks for
// different specs can share one refreshed-per-outer-tick view safely, per
// the concurrency model in spec §5 ("shared mutable account state across
// concurrent specs").
type Oracle struct {
	mu   sync.Mutex
	snap Snapshot
}

func New(snap Snapshot) *Oracle {
	return &Oracle{snap: snap}
}

// Refresh replaces the held snapshot. cmd/mlm calls it once at startup and
// again at the start of each autograb tick, before that spec's selector runs.
func (o *Oracle) Refresh(snap Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snap = snap
}

// Current returns a copy of the held snapshot, for observability (e.g.
// internal/metrics' budget gauges). Never used for grab decisions itself.
func (o *Oracle) Current() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

func (o *Oracle) minRatio() float64 {
	if o.snap.MinRatio > 0 {
		return o.snap.MinRatio
	}
	return DefaultMinRatio
}

func (o *Oracle) ratioAfter(downloadDelta int64) float64 {
	downloaded := o.snap.DownloadedBytes + downloadDelta
	if downloaded <= 0 {
		return float64(o.snap.UploadedBytes)
	}
	return float64(o.snap.UploadedBytes) / float64(downloaded)
}

// MayGrab reports whether a single grab of the given cost kind and size is
// currently allowed, per spec §4.2's Allow predicate. It does not mutate
// the snapshot; callers commit via Reserve once the grab is actually made.
func (o *Oracle) MayGrab(costKind domain.CostKind, spec *domain.SearchSpec, candidateSizeBytes int64) Decision {
	o.mu.Lock()
	defer o.mu.Unlock()

	unsatBuffer := spec.EffectiveUnsatBuffer(o.snap.GlobalUnsatBuffer)
	if o.snap.GlobalUnsatBuffer > unsatBuffer {
		unsatBuffer = o.snap.GlobalUnsatBuffer
	}
	if o.snap.UnsatLimit-(o.snap.UnsatUsed+1) < unsatBuffer {
		return deny(fmt.Sprintf("unsat buffer would drop below %d", unsatBuffer))
	}

	switch costKind {
	case domain.CostWedge:
		if o.snap.Wedges-1 < spec.EffectiveWedgeBuffer() {
			return deny(fmt.Sprintf("wedge buffer would drop below %d", spec.EffectiveWedgeBuffer()))
		}
	case domain.CostRatio:
		if o.ratioAfter(candidateSizeBytes) < o.minRatio() {
			return deny(fmt.Sprintf("post-grab ratio would drop below %.2f", o.minRatio()))
		}
	}

	return allow()
}

// MayGrabForSpec picks the lowest-cost option consistent with spec's
// CostPolicy, per spec §4.2's ordering table. It returns ok=false when no
// cost kind currently clears the budget.
func (o *Oracle) MayGrabForSpec(spec *domain.SearchSpec, candidateSizeBytes int64) (kind domain.CostKind, ok bool) {
	tryInOrder := func(kinds ...domain.CostKind) (domain.CostKind, bool) {
		for _, k := range kinds {
			if o.MayGrab(k, spec, candidateSizeBytes).Allowed {
				return k, true
			}
		}
		return "", false
	}

	switch spec.CostPolicy {
	case domain.CostPolicyFreeOnly:
		return tryInOrder(domain.CostVip, domain.CostGlobalFL, domain.CostPersonalFL)
	case domain.CostPolicyWedge:
		return tryInOrder(domain.CostWedge)
	case domain.CostPolicyTryWedge:
		return tryInOrder(domain.CostWedge, domain.CostRatio)
	case domain.CostPolicyRatio:
		return tryInOrder(domain.CostRatio)
	case domain.CostPolicyAll:
		return tryInOrder(domain.CostVip, domain.CostGlobalFL, domain.CostPersonalFL, domain.CostWedge, domain.CostRatio)
	default:
		return "", false
	}
}

// Reserve decrements the held snapshot to account for a grab the selector
// just committed, so subsequent MayGrab calls within the same tick see the
// reservation (spec §4.2).
func (o *Oracle) Reserve(costKind domain.CostKind, sizeBytes int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.snap.UnsatUsed++
	if costKind == domain.CostWedge {
		o.snap.Wedges--
	}
	if costKind == domain.CostRatio {
		o.snap.DownloadedBytes += sizeBytes
	}
}
