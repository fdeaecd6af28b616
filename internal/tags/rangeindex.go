package tags

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ScalarKind distinguishes the comparable scalar types a range index key
// may hold.
type ScalarKind uint8

const (
	KindBool ScalarKind = iota
	KindInt
	KindFloat
	KindString
)

// Scalar is one range-index key value. The zero value's Kind (KindBool,
// false) is never used directly; callers build values with the NewX
// helpers.
type Scalar struct {
	Kind ScalarKind
	B    bool
	I    int64
	F    float64
	S    string
}

func NewBoolScalar(v bool) Scalar     { return Scalar{Kind: KindBool, B: v} }
func NewIntScalar(v int64) Scalar     { return Scalar{Kind: KindInt, I: v} }
func NewFloatScalar(v float64) Scalar { return Scalar{Kind: KindFloat, F: v} }
func NewStringScalar(v string) Scalar { return Scalar{Kind: KindString, S: v} }

// compareScalar imposes a total order across scalar kinds (bool < int <
// float < string) so every Scalar value is comparable to every other,
// regardless of a field's recorded type mix.
func compareScalar(a, b Scalar) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindBool:
		if a.B == b.B {
			return 0
		}
		if !a.B {
			return -1
		}
		return 1
	case KindInt:
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case a.F < b.F:
			return -1
		case a.F > b.F:
			return 1
		default:
			return 0
		}
	default: // KindString
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		default:
			return 0
		}
	}
}

// entry is one object's recorded key, null or scalar.
type entry struct {
	Null bool
	Key  Scalar
	Obj  uuid.UUID
}

// RangeIndex is an ordered multimap from key (any comparable scalar,
// including a distinguished NULL) to object id.
type RangeIndex struct {
	mu     sync.Mutex
	sorted []entry // non-null entries, kept sorted by Key then Obj
	byObj  map[uuid.UUID]entry
}

// NewRangeIndex returns an empty range index.
func NewRangeIndex() *RangeIndex {
	return &RangeIndex{byObj: make(map[uuid.UUID]entry)}
}

// Add records obj's key, which may be null.
func (idx *RangeIndex) Add(obj uuid.UUID, key Scalar, isNull bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := entry{Null: isNull, Key: key, Obj: obj}
	idx.byObj[obj] = e
	if !isNull {
		idx.insertSorted(e)
	}
}

// Remove drops obj's entry, if present.
func (idx *RangeIndex) Remove(obj uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.byObj[obj]
	if !ok {
		return
	}
	delete(idx.byObj, obj)
	if e.Null {
		return
	}
	i := idx.search(e)
	if i < len(idx.sorted) && idx.sorted[i].Obj == obj {
		idx.sorted = append(idx.sorted[:i], idx.sorted[i+1:]...)
	}
}

func (idx *RangeIndex) insertSorted(e entry) {
	i := idx.search(e)
	idx.sorted = append(idx.sorted, entry{})
	copy(idx.sorted[i+1:], idx.sorted[i:])
	idx.sorted[i] = e
}

// search returns the insertion point for e within the sorted slice,
// ordered by Key then by Obj (for a stable tie-break).
func (idx *RangeIndex) search(e entry) int {
	return sort.Search(len(idx.sorted), func(i int) bool {
		c := compareScalar(idx.sorted[i].Key, e.Key)
		if c != 0 {
			return c >= 0
		}
		return idx.sorted[i].Obj.String() >= e.Obj.String()
	})
}

// Range returns every object in [lo, hi] (inclusive; a nil bound is
// unbounded on that side), in ascending key order, with null entries
// placed before or after the non-null run per nullFirst.
func (idx *RangeIndex) Range(lo, hi *Scalar, nullFirst bool) []uuid.UUID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := 0
	if lo != nil {
		start = sort.Search(len(idx.sorted), func(i int) bool { return compareScalar(idx.sorted[i].Key, *lo) >= 0 })
	}
	end := len(idx.sorted)
	if hi != nil {
		end = sort.Search(len(idx.sorted), func(i int) bool { return compareScalar(idx.sorted[i].Key, *hi) > 0 })
	}

	var nulls []uuid.UUID
	for obj, e := range idx.byObj {
		if e.Null {
			nulls = append(nulls, obj)
		}
	}
	sort.Slice(nulls, func(i, j int) bool { return nulls[i].String() < nulls[j].String() })

	out := make([]uuid.UUID, 0, (end-start)+len(nulls))
	if nullFirst {
		out = append(out, nulls...)
	}
	for i := start; i < end; i++ {
		out = append(out, idx.sorted[i].Obj)
	}
	if !nullFirst {
		out = append(out, nulls...)
	}
	return out
}

// Sort orders objs (an externally supplied set, typically a query
// result) by this index's recorded key for each object. Objects with no
// recorded key are treated as null. The index is built in ascending
// order with nulls placed per nullFirst, then reversed wholesale when
// desc is set — so a desc sort's null run lands on the opposite end from
// an ascending one, matching "desc" meaning "read the ascending order
// backwards" rather than "independently choose null placement".
func (idx *RangeIndex) Sort(objs []uuid.UUID, desc, nullFirst bool) []uuid.UUID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var nonNull []entry
	var nulls []uuid.UUID
	for _, obj := range objs {
		e, ok := idx.byObj[obj]
		if !ok || e.Null {
			nulls = append(nulls, obj)
			continue
		}
		nonNull = append(nonNull, e)
	}

	sort.SliceStable(nonNull, func(i, j int) bool { return compareScalar(nonNull[i].Key, nonNull[j].Key) < 0 })
	sort.SliceStable(nulls, func(i, j int) bool { return nulls[i].String() < nulls[j].String() })

	out := make([]uuid.UUID, 0, len(objs))
	if nullFirst {
		out = append(out, nulls...)
	}
	for _, e := range nonNull {
		out = append(out, e.Obj)
	}
	if !nullFirst {
		out = append(out, nulls...)
	}

	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
