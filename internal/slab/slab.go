// Package slab implements the fixed-size-segment memory allocator backing
// every in-memory record: slabs are contiguous regions partitioned into
// power-of-two data pages (DPs), with a bitset allocator for single-DP
// requests and wide-lock runs for multi-DP requests.
package slab

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

const (
	// DefaultDPSize is the data-page size used when a prefix does not
	// override it. Must stay a power of two.
	DefaultDPSize = 8 << 10 // 8 KiB

	// DefaultSlabSize is the slab size used when unconfigured.
	DefaultSlabSize = 1 << 20 // 1 MiB

	// MinSlabSize and MaxSlabSize bound the configurable slab size.
	MinSlabSize = 1 << 20  // 1 MiB
	MaxSlabSize = 1 << 30  // 1 GiB

	// reservationDPs is withheld from every slab's advertised capacity so
	// that a slab is never reported as 100% usable (bookkeeping headroom
	// for the slab's own free-bitset serialization).
	reservationDPs = 1
)

// DP identifies a single data page: the slab it lives in, and its index
// within that slab's DP array.
type DP struct {
	Slab  uint32
	Index uint32
}

// String renders a DP id in "slab:index" form.
func (d DP) String() string { return fmt.Sprintf("%d:%d", d.Slab, d.Index) }

// Run is a contiguous, atomically-acquired range of DPs returned by a
// multi-DP allocation. Requests larger than one DP are always served as a
// Run; releasing it clears every bit in the range atomically ("wide lock").
type Run struct {
	Slab  uint32
	Start uint32
	Count uint32
}

// DPs enumerates the individual DP ids covered by the run.
func (r Run) DPs() []DP {
	out := make([]DP, r.Count)
	for i := uint32(0); i < r.Count; i++ {
		out[i] = DP{Slab: r.Slab, Index: r.Start + i}
	}
	return out
}

// Slab is one contiguous memory region, segmented into DPCount fixed-size
// data pages. free tracks which DP indices are currently unallocated.
type Slab struct {
	id      uint32
	dpSize  int
	dpCount uint32
	free    *roaring.Bitmap
	kind    Kind
}

// Kind distinguishes the two reserved slabs (string pool, class records)
// from ordinary user-data slabs, so schema operations never compete with
// user allocations for space in the same slab.
type Kind uint8

const (
	KindUser Kind = iota
	KindStringPool
	KindClassRecords
)

func newSlab(id uint32, slabSize, dpSize int, kind Kind) *Slab {
	dpCount := uint32(slabSize / dpSize)
	free := roaring.New()
	free.AddRange(0, uint64(dpCount))
	return &Slab{id: id, dpSize: dpSize, dpCount: dpCount, free: free, kind: kind}
}

// ID returns the slab's allocator-assigned index.
func (s *Slab) ID() uint32 { return s.id }

// Kind reports whether this is a reserved slab.
func (s *Slab) Kind() Kind { return s.kind }

// FreeDPs returns the number of currently unallocated data pages.
func (s *Slab) FreeDPs() uint32 { return uint32(s.free.GetCardinality()) }

// Capacity returns the usable byte capacity of the slab: free DPs times DP
// size, minus the fixed reservation.
func (s *Slab) Capacity() int64 {
	usable := int64(s.FreeDPs()) - reservationDPs
	if usable < 0 {
		usable = 0
	}
	return usable * int64(s.dpSize)
}

// allocateOne scans the free bitset for a single clear-to-set transition.
// Returns (index, true) on success.
func (s *Slab) allocateOne() (uint32, bool) {
	it := s.free.Iterator()
	if !it.HasNext() {
		return 0, false
	}
	idx := it.Next()
	s.free.Remove(idx)
	return idx, true
}

// allocateRun looks for `count` contiguous clear bits. DPs are scanned in
// order, coalescing runs in place of an explicit free list.
func (s *Slab) allocateRun(count uint32) (uint32, bool) {
	if count == 0 || count > s.dpCount {
		return 0, false
	}
	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < s.dpCount; i++ {
		if s.free.Contains(i) {
			if run == 0 {
				start = i
			}
			run++
			if run == count {
				s.free.RemoveRange(uint64(start), uint64(start)+uint64(count))
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (s *Slab) release(start, count uint32) {
	s.free.AddRange(uint64(start), uint64(start)+uint64(count))
}

// Allocator owns the ordered list of slabs for one prefix and serves
// allocation requests against them. At most one writer mutates an
// Allocator at a time; concurrent readers observe pre-mutation state
// through the MVCC page store, not through this type directly.
type Allocator struct {
	slabSize int
	dpSize   int
	slabs    []*Slab
}

// New creates an allocator with its two reserved slabs (string pool and
// class records) already present, reserved ahead of any user allocation.
func New(slabSize, dpSize int) (*Allocator, error) {
	if slabSize < MinSlabSize || slabSize > MaxSlabSize {
		return nil, dberr.New("slab.New", dberr.KindAllocationExceeded,
			fmt.Errorf("slab size %d out of range [%d,%d]", slabSize, MinSlabSize, MaxSlabSize))
	}
	if dpSize <= 0 || dpSize&(dpSize-1) != 0 {
		return nil, dberr.New("slab.New", dberr.KindInvalidAddress, fmt.Errorf("dp size %d is not a power of two", dpSize))
	}
	a := &Allocator{slabSize: slabSize, dpSize: dpSize}
	a.slabs = append(a.slabs,
		newSlab(0, slabSize, dpSize, KindStringPool),
		newSlab(1, slabSize, dpSize, KindClassRecords),
	)
	return a, nil
}

// DPSize returns the fixed data-page size for this allocator.
func (a *Allocator) DPSize() int { return a.dpSize }

// SlabSize returns the configured slab size.
func (a *Allocator) SlabSize() int { return a.slabSize }

// Slabs returns the live slab set, for diagnostics.
func (a *Allocator) Slabs() []*Slab { return a.slabs }

// Allocate serves a request of `size` bytes. Requests of at most one DP go
// through the bitset scan (current slab, then later slabs, then a new
// slab); requests larger than one DP go through the wide-lock path.
// Requests larger than the slab size fail with AllocationExceeded.
func (a *Allocator) Allocate(size int) (Run, error) {
	if size <= 0 {
		return Run{}, dberr.New("slab.Allocate", dberr.KindInvalidAddress, fmt.Errorf("non-positive size %d", size))
	}
	if size > a.slabSize {
		return Run{}, dberr.New("slab.Allocate", dberr.KindAllocationExceeded,
			fmt.Errorf("request %d exceeds slab size %d", size, a.slabSize))
	}
	dpCount := uint32((size + a.dpSize - 1) / a.dpSize)

	if dpCount == 1 {
		for _, s := range a.userSlabs() {
			if idx, ok := s.allocateOne(); ok {
				return Run{Slab: s.id, Start: idx, Count: 1}, nil
			}
		}
		s := a.appendSlab()
		idx, ok := s.allocateOne()
		if !ok {
			return Run{}, dberr.New("slab.Allocate", dberr.KindSlabCorruption, fmt.Errorf("fresh slab has no free DPs"))
		}
		return Run{Slab: s.id, Start: idx, Count: 1}, nil
	}

	for _, s := range a.userSlabs() {
		if start, ok := s.allocateRun(dpCount); ok {
			return Run{Slab: s.id, Start: start, Count: dpCount}, nil
		}
	}
	s := a.appendSlab()
	start, ok := s.allocateRun(dpCount)
	if !ok {
		return Run{}, dberr.New("slab.Allocate", dberr.KindAllocationExceeded,
			fmt.Errorf("run of %d DPs does not fit a fresh slab", dpCount))
	}
	return Run{Slab: s.id, Start: start, Count: dpCount}, nil
}

// AllocateReserved serves an allocation from the string-pool or
// class-records reserved slab, bypassing user slab contention entirely.
func (a *Allocator) AllocateReserved(kind Kind) (DP, error) {
	if kind != KindStringPool && kind != KindClassRecords {
		return DP{}, dberr.New("slab.AllocateReserved", dberr.KindInvalidAddress, fmt.Errorf("not a reserved kind: %v", kind))
	}
	for _, s := range a.slabs {
		if s.kind == kind {
			if idx, ok := s.allocateOne(); ok {
				return DP{Slab: s.id, Index: idx}, nil
			}
		}
	}
	return DP{}, dberr.New("slab.AllocateReserved", dberr.KindAllocationExceeded, fmt.Errorf("reserved slab %v is full", kind))
}

// Release returns a previously allocated run to its slab, atomically.
func (a *Allocator) Release(r Run) error {
	s := a.slabByID(r.Slab)
	if s == nil {
		return dberr.New("slab.Release", dberr.KindInvalidAddress, fmt.Errorf("unknown slab %d", r.Slab))
	}
	s.release(r.Start, r.Count)
	return nil
}

func (a *Allocator) userSlabs() []*Slab {
	var out []*Slab
	for _, s := range a.slabs {
		if s.kind == KindUser {
			out = append(out, s)
		}
	}
	return out
}

func (a *Allocator) slabByID(id uint32) *Slab {
	for _, s := range a.slabs {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (a *Allocator) appendSlab() *Slab {
	s := newSlab(uint32(len(a.slabs)), a.slabSize, a.dpSize, KindUser)
	a.slabs = append(a.slabs, s)
	return s
}
