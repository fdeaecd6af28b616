package tags

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPoolInternReuseAndRelease(t *testing.T) {
	p := NewStringPool()
	id1 := p.Intern("alpha")
	id2 := p.Intern("alpha")
	assert.Equal(t, id1, id2, "interning the same string twice returns the same id")
	assert.Equal(t, uint32(2), p.RefCount(id1))

	p.Release(id1)
	s, ok := p.Lookup(id1)
	require.True(t, ok)
	assert.Equal(t, "alpha", s)

	p.Release(id1)
	_, ok = p.Lookup(id1)
	assert.False(t, ok, "last release frees the slot")
}

func TestStringPoolReclaimedSlotReuse(t *testing.T) {
	p := NewStringPool()
	id := p.Intern("gone")
	p.Release(id)
	newID := p.Intern("fresh")
	assert.Equal(t, id, newID, "a freed slot is reused by the next intern")
}

func TestAliasTableRoundTripAndRelease(t *testing.T) {
	tbl := NewAliasTable()
	obj := uuid.New()
	a := tbl.Alias(obj)
	assert.NotZero(t, a)

	back, ok := tbl.UUID(a)
	require.True(t, ok)
	assert.Equal(t, obj, back)

	tbl.Release(obj)
	_, ok = tbl.Lookup(obj)
	assert.False(t, ok)

	other := uuid.New()
	reused := tbl.Alias(other)
	assert.Equal(t, a, reused, "a released alias is reused by the next assignment")
}

func TestTagStoreAddFindRemoveReleasesString(t *testing.T) {
	pool := NewStringPool()
	aliases := NewAliasTable()
	store := NewStore(aliases, pool)

	obj := uuid.New()
	key := StringKey(pool, "red")
	store.Add(key, obj)

	assert.True(t, store.Has(key, obj))
	assert.ElementsMatch(t, []uuid.UUID{obj}, store.Find(key))
	assert.Equal(t, uint32(1), pool.RefCount(key.StringID))

	store.Remove(key, obj)
	assert.False(t, store.Has(key, obj))
	_, ok := pool.Lookup(key.StringID)
	assert.False(t, ok, "last posting removed releases the string pool retention")
}

func TestRangeIndexRangeQuery(t *testing.T) {
	idx := NewRangeIndex()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	idx.Add(a, NewIntScalar(1), false)
	idx.Add(b, NewIntScalar(5), false)
	idx.Add(c, NewIntScalar(9), false)

	lo, hi := NewIntScalar(2), NewIntScalar(9)
	got := idx.Range(&lo, &hi, false)
	assert.Equal(t, []uuid.UUID{b, c}, got)
}

func TestRangeIndexSortNullPlacementFlipsWithDesc(t *testing.T) {
	idx := NewRangeIndex()
	five, six, eight := uuid.New(), uuid.New(), uuid.New()
	n1, n2 := uuid.New(), uuid.New()
	idx.Add(five, NewIntScalar(555), false)
	idx.Add(six, NewIntScalar(666), false)
	idx.Add(eight, NewIntScalar(888), false)
	idx.Add(n1, Scalar{}, true)
	idx.Add(n2, Scalar{}, true)

	objs := []uuid.UUID{five, six, eight, n1, n2}

	asc := idx.Sort(objs, false, false)
	require.Len(t, asc, 5)
	assert.Equal(t, []uuid.UUID{five, six, eight}, asc[:3], "non-null run sorts ascending")
	assert.ElementsMatch(t, []uuid.UUID{n1, n2}, asc[3:], "nulls trail when nullFirst is false")

	desc := idx.Sort(objs, true, false)
	reversed := make([]uuid.UUID, len(asc))
	for i, v := range asc {
		reversed[len(asc)-1-i] = v
	}
	assert.Equal(t, reversed, desc, "desc is the wholesale reverse of the ascending order")
}

func TestCompareScalarTotalOrderAcrossKinds(t *testing.T) {
	b := NewBoolScalar(true)
	i := NewIntScalar(0)
	f := NewFloatScalar(0)
	s := NewStringScalar("")
	assert.Negative(t, compareScalar(b, i))
	assert.Negative(t, compareScalar(i, f))
	assert.Negative(t, compareScalar(f, s))
}
