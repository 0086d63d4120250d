// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/s0up/mlm/internal/domain"
)

func TestMayGrabUnsatBuffer(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{UnsatUsed: 8, UnsatLimit: 10, GlobalUnsatBuffer: 2})
	spec := &domain.SearchSpec{}

	// UnsatLimit - (UnsatUsed+1) = 10 - 9 = 1 < buffer(2): deny.
	assert.False(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)

	o.Refresh(Snapshot{UnsatUsed: 7, UnsatLimit: 10, GlobalUnsatBuffer: 2})
	assert.True(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)
}

func TestMayGrabSpecOverridesUnsatBuffer(t *testing.T) {
	t.Parallel()

	override := 5
	o := New(Snapshot{UnsatUsed: 3, UnsatLimit: 10, GlobalUnsatBuffer: 1})
	spec := &domain.SearchSpec{UnsatBuffer: &override}

	// 10 - 4 = 6 >= max(1, 5): allowed.
	assert.True(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)

	o.Refresh(Snapshot{UnsatUsed: 5, UnsatLimit: 10, GlobalUnsatBuffer: 1})
	// 10 - 6 = 4 < 5: denied.
	assert.False(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)
}

func TestMayGrabWedgeBuffer(t *testing.T) {
	t.Parallel()

	wedgeBuffer := 2
	o := New(Snapshot{UnsatLimit: 100, Wedges: 2})
	spec := &domain.SearchSpec{WedgeBuffer: &wedgeBuffer}

	// Wedges-1 = 1 < buffer(2): deny.
	assert.False(t, o.MayGrab(domain.CostWedge, spec, 0).Allowed)

	o.Refresh(Snapshot{UnsatLimit: 100, Wedges: 3})
	assert.True(t, o.MayGrab(domain.CostWedge, spec, 0).Allowed)
}

func TestMayGrabRatioFloor(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{
		UnsatLimit:      100,
		UploadedBytes:   2000,
		DownloadedBytes: 1000,
		MinRatio:        2.0,
	})
	spec := &domain.SearchSpec{}

	// (2000)/(1000+100) ~= 1.818 < 2.0: deny.
	assert.False(t, o.MayGrab(domain.CostRatio, spec, 100).Allowed)

	// (2000)/(1000+0) = 2.0 >= 2.0: allow.
	assert.True(t, o.MayGrab(domain.CostRatio, spec, 0).Allowed)
}

func TestMayGrabForSpecOrdering(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{UnsatLimit: 100, Wedges: 5, UploadedBytes: 10000, DownloadedBytes: 1000, MinRatio: 2.0})

	kind, ok := o.MayGrabForSpec(&domain.SearchSpec{CostPolicy: domain.CostPolicyFreeOnly}, 0)
	assert.True(t, ok)
	assert.Equal(t, domain.CostVip, kind)

	kind, ok = o.MayGrabForSpec(&domain.SearchSpec{CostPolicy: domain.CostPolicyWedge}, 0)
	assert.True(t, ok)
	assert.Equal(t, domain.CostWedge, kind)

	kind, ok = o.MayGrabForSpec(&domain.SearchSpec{CostPolicy: domain.CostPolicyTryWedge}, 0)
	assert.True(t, ok)
	assert.Equal(t, domain.CostWedge, kind)
}

func TestMayGrabForSpecTryWedgeFallsThroughToRatio(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{UnsatLimit: 100, Wedges: 0, UploadedBytes: 10000, DownloadedBytes: 1000, MinRatio: 2.0})

	kind, ok := o.MayGrabForSpec(&domain.SearchSpec{CostPolicy: domain.CostPolicyTryWedge}, 0)
	assert.True(t, ok)
	assert.Equal(t, domain.CostRatio, kind)
}

func TestMayGrabForSpecNoneAvailable(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{UnsatLimit: 100, Wedges: 0, UploadedBytes: 100, DownloadedBytes: 1000, MinRatio: 2.0})

	_, ok := o.MayGrabForSpec(&domain.SearchSpec{CostPolicy: domain.CostPolicyWedge}, 0)
	assert.False(t, ok)
}

func TestReserveDecrementsSnapshotWithinTick(t *testing.T) {
	t.Parallel()

	o := New(Snapshot{UnsatUsed: 0, UnsatLimit: 10, GlobalUnsatBuffer: 1})
	spec := &domain.SearchSpec{}

	for i := 0; i < 8; i++ {
		d := o.MayGrab(domain.CostVip, spec, 0)
		assert.True(t, d.Allowed, "grab %d should be allowed", i)
		o.Reserve(domain.CostVip, 0)
	}

	// UnsatUsed is now 8; 10 - 9 = 1 >= buffer(1): still allowed once more.
	assert.True(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)
	o.Reserve(domain.CostVip, 0)

	// UnsatUsed is now 9; 10 - 10 = 0 < buffer(1): denied.
	assert.False(t, o.MayGrab(domain.CostVip, spec, 0).Allowed)
}
