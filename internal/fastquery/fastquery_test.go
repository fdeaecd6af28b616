package fastquery

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/query"
	"github.com/dbzero-io/dbzero/internal/tags"
)

func roaringBitmapOf(vals ...uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, v := range vals {
		bm.Add(v)
	}
	return bm
}

type fixture struct {
	ev     *query.Evaluator
	store  *tags.Store
	classA uuid.UUID
	red    tags.Key
	blue   tags.Key
}

func newFixture() *fixture {
	pool := tags.NewStringPool()
	aliases := tags.NewAliasTable()
	store := tags.NewStore(aliases, pool)
	classA := uuid.New()

	ev := &query.Evaluator{
		TagStore:    store,
		Descendants: func(uuid.UUID) []uuid.UUID { return nil },
		Ranges:      map[string]*tags.RangeIndex{},
	}
	return &fixture{
		ev:     ev,
		store:  store,
		classA: classA,
		red:    tags.StringKey(pool, "red"),
		blue:   tags.StringKey(pool, "blue"),
	}
}

func (f *fixture) addObject(color tags.Key) uuid.UUID {
	o := uuid.New()
	f.store.Add(tags.ClassKey(f.classA), o)
	f.store.Add(color, o)
	return o
}

func (f *fixture) groupFunc(o uuid.UUID) []tags.Key {
	var keys []tags.Key
	if f.store.Has(f.red, o) {
		keys = append(keys, f.red)
	}
	if f.store.Has(f.blue, o) {
		keys = append(keys, f.blue)
	}
	return keys
}

func TestGroupByMissComputesFullGroupsFromScratch(t *testing.T) {
	f := newFixture()
	f.addObject(f.red)
	f.addObject(f.red)
	f.addObject(f.blue)

	cache := NewCache()
	q := query.New(query.TypeFilter(f.classA))
	ops := map[string]Op{"count": CountOp}

	groups, err := GroupBy(cache, f.ev, 1, q, f.groupFunc, ops)
	require.NoError(t, err)
	assert.Equal(t, 2, groups[f.red]["count"])
	assert.Equal(t, 1, groups[f.blue]["count"])
}

func TestGroupByHitAppliesAddDelta(t *testing.T) {
	f := newFixture()
	f.addObject(f.red)
	f.addObject(f.red)
	f.addObject(f.blue)

	cache := NewCache()
	q := query.New(query.TypeFilter(f.classA))
	ops := map[string]Op{"count": CountOp}

	_, err := GroupBy(cache, f.ev, 1, q, f.groupFunc, ops)
	require.NoError(t, err)

	f.addObject(f.red)
	groups, err := GroupBy(cache, f.ev, 2, q, f.groupFunc, ops)
	require.NoError(t, err)
	assert.Equal(t, 3, groups[f.red]["count"])
	assert.Equal(t, 1, groups[f.blue]["count"])
}

func TestGroupByHitAppliesRemoveDelta(t *testing.T) {
	f := newFixture()
	r1 := f.addObject(f.red)
	f.addObject(f.red)
	f.addObject(f.blue)

	cache := NewCache()
	q := query.New(query.TypeFilter(f.classA))
	ops := map[string]Op{"count": CountOp}

	_, err := GroupBy(cache, f.ev, 1, q, f.groupFunc, ops)
	require.NoError(t, err)

	f.store.Remove(f.red, r1)
	groups, err := GroupBy(cache, f.ev, 2, q, f.groupFunc, ops)
	require.NoError(t, err)
	assert.Equal(t, 1, groups[f.red]["count"])
	assert.Equal(t, 1, groups[f.blue]["count"])
}

func TestCacheLookupExactHit(t *testing.T) {
	cache := NewCache()
	sig := query.Signature(42)
	id := query.ContentUUID{1}
	entry := &Entry{StateNum: 1}
	cache.store(sig, id, entry)

	got, ok := cache.lookup(sig, id, nil)
	require.True(t, ok)
	assert.Same(t, entry, got)
}

func TestCacheLookupNearestFallbackWithinCutoff(t *testing.T) {
	cache := NewCache()
	sig := query.Signature(7)

	bm := roaringBitmapOf(1, 2, 3, 4)
	cached := &Entry{StateNum: 1, ResultSet: bm}
	cache.store(sig, query.ContentUUID{9}, cached)

	probe := roaringBitmapOf(1, 2, 3)
	got, ok := cache.lookup(sig, query.ContentUUID{9, 9}, probe)
	require.True(t, ok)
	assert.Same(t, cached, got)
}

func TestCacheLookupMissesBeyondCutoff(t *testing.T) {
	cache := NewCache()
	sig := query.Signature(7)

	bm := roaringBitmapOf(1, 2, 3, 4)
	cached := &Entry{StateNum: 1, ResultSet: bm}
	cache.store(sig, query.ContentUUID{9}, cached)

	probe := roaringBitmapOf(100, 101, 102)
	_, ok := cache.lookup(sig, query.ContentUUID{9, 9}, probe)
	assert.False(t, ok)
}

func TestCountOp(t *testing.T) {
	var state any
	state = CountOp(state, nil, []uuid.UUID{uuid.New(), uuid.New()})
	assert.Equal(t, 2, state)
	state = CountOp(state, []uuid.UUID{uuid.New()}, nil)
	assert.Equal(t, 1, state)
}

func TestSumOp(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	values := map[uuid.UUID]float64{a: 3, b: 5}
	sumOp := SumOp(func(o uuid.UUID) float64 { return values[o] })

	var state any
	state = sumOp(state, nil, []uuid.UUID{a, b})
	assert.Equal(t, 8.0, state)
	state = sumOp(state, []uuid.UUID{a}, nil)
	assert.Equal(t, 5.0, state)
}
