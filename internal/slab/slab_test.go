package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(MinSlabSize, DefaultDPSize)
	require.NoError(t, err)
	return a
}

func TestNewReservesStringPoolAndClassRecordsSlabs(t *testing.T) {
	a := newTestAllocator(t)
	require.Len(t, a.Slabs(), 2)
	assert.Equal(t, KindStringPool, a.Slabs()[0].Kind())
	assert.Equal(t, KindClassRecords, a.Slabs()[1].Kind())
}

func TestNewRejectsOutOfRangeSlabSize(t *testing.T) {
	_, err := New(MinSlabSize-1, DefaultDPSize)
	require.ErrorIs(t, err, dberr.KindAllocationExceeded)
}

func TestNewRejectsNonPowerOfTwoDPSize(t *testing.T) {
	_, err := New(MinSlabSize, 100)
	require.ErrorIs(t, err, dberr.KindInvalidAddress)
}

func TestAllocateSingleDPAppendsUserSlab(t *testing.T) {
	a := newTestAllocator(t)
	run, err := a.Allocate(DefaultDPSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), run.Count)
	// First user slab is appended after the two reserved slabs.
	assert.Equal(t, uint32(2), run.Slab)
	assert.Len(t, a.Slabs(), 3)
}

func TestAllocateMultiDPRunIsContiguous(t *testing.T) {
	a := newTestAllocator(t)
	run, err := a.Allocate(DefaultDPSize*3 - 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), run.Count)
	dps := run.DPs()
	require.Len(t, dps, 3)
	for i, dp := range dps {
		assert.Equal(t, run.Slab, dp.Slab)
		assert.Equal(t, run.Start+uint32(i), dp.Index)
	}
}

func TestAllocateOversizeRequestFails(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.Allocate(MinSlabSize + 1)
	require.ErrorIs(t, err, dberr.KindAllocationExceeded)
}

func TestReleaseFreesDPsForReuse(t *testing.T) {
	a := newTestAllocator(t)
	run, err := a.Allocate(DefaultDPSize)
	require.NoError(t, err)

	before := a.Slabs()[run.Slab].FreeDPs()
	require.NoError(t, a.Release(run))
	after := a.Slabs()[run.Slab].FreeDPs()
	assert.Equal(t, before+run.Count, after)
}

func TestReleaseUnknownSlabFails(t *testing.T) {
	a := newTestAllocator(t)
	err := a.Release(Run{Slab: 999, Start: 0, Count: 1})
	require.ErrorIs(t, err, dberr.KindInvalidAddress)
}

func TestAllocateReservedBypassesUserSlabs(t *testing.T) {
	a := newTestAllocator(t)
	dp, err := a.AllocateReserved(KindStringPool)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), dp.Slab)
}

func TestAllocateReservedRejectsUserKind(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.AllocateReserved(KindUser)
	require.ErrorIs(t, err, dberr.KindInvalidAddress)
}

func TestDPStringFormat(t *testing.T) {
	dp := DP{Slab: 3, Index: 7}
	assert.Equal(t, "3:7", dp.String())
}
