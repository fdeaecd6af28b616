package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/tags"
)

type fixture struct {
	ev     *Evaluator
	pool   *tags.StringPool
	classA uuid.UUID
	o1     uuid.UUID
}

func newFixture() *fixture {
	pool := tags.NewStringPool()
	aliases := tags.NewAliasTable()
	store := tags.NewStore(aliases, pool)
	classA := uuid.New()

	o1, o2, o3 := uuid.New(), uuid.New(), uuid.New()
	store.Add(tags.ClassKey(classA), o1)
	store.Add(tags.ClassKey(classA), o2)
	store.Add(tags.ClassKey(classA), o3)

	redKey := tags.StringKey(pool, "red")
	store.Add(redKey, o1)
	store.Add(redKey, o2)

	ev := &Evaluator{
		TagStore:    store,
		Descendants: func(uuid.UUID) []uuid.UUID { return nil },
		Ranges:      map[string]*tags.RangeIndex{},
	}
	return &fixture{ev: ev, pool: pool, classA: classA, o1: o1}
}

func (f *fixture) redKey() tags.Key { return tags.StringKey(f.pool, "red") }

func TestEvalTypeFilter(t *testing.T) {
	f := newFixture()
	bm, err := f.ev.Eval(TypeFilter(f.classA))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), bm.GetCardinality())
}

func TestEvalAndOrNot(t *testing.T) {
	f := newFixture()
	red := f.redKey()

	and := And(TypeFilter(f.classA), Tag(red))
	bm, err := f.ev.Eval(and)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), bm.GetCardinality())

	not := And(TypeFilter(f.classA), NotTag(red))
	bm, err = f.ev.Eval(not)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bm.GetCardinality())

	or := Or(Tag(red), NotQuery(Tag(red)))
	bm, err = f.ev.Eval(or)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), bm.GetCardinality(), "red OR not-red covers everything")
}

func TestSignatureStableAcrossAndOrderAndContent(t *testing.T) {
	classA := uuid.New()
	classB := uuid.New()

	q1 := And(TypeFilter(classA), TypeFilter(classB))
	q2 := And(TypeFilter(classB), TypeFilter(classA))
	assert.Equal(t, Sign(q1), Sign(q2), "signature is stable regardless of AND child order")

	q3 := And(TypeFilter(classA), TypeFilter(classA))
	assert.NotEqual(t, Sign(q1), Sign(q3))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	classA := uuid.New()
	lo := tags.NewIntScalar(1)
	hi := tags.NewIntScalar(10)
	root := RangeFilter("age", &lo, &hi, false, TypeFilter(classA))
	q := New(root).Sort("age", true, false)

	encoded, err := Serialize(q)
	require.NoError(t, err)

	decoded, err := Deserialize(encoded)
	require.NoError(t, err)

	assert.Equal(t, Sign(q.Root), Sign(decoded.Root))
	assert.Equal(t, q.SortIndex, decoded.SortIndex)
	assert.Equal(t, q.SortDesc, decoded.SortDesc)
}

func TestSerializeRejectsPredicateQuery(t *testing.T) {
	q := New(TypeFilter(uuid.New())).Filter(func(uuid.UUID) bool { return true })
	_, err := Serialize(q)
	assert.Error(t, err)
}

func TestCompareIdenticalIsZero(t *testing.T) {
	f := newFixture()
	bm, err := f.ev.Eval(TypeFilter(f.classA))
	require.NoError(t, err)
	assert.Equal(t, 0.0, Compare(bm, bm.Clone()))
}

func TestCompareDisjointIsOne(t *testing.T) {
	f := newFixture()
	red := f.ev.TagStore.Bitmap(f.redKey())
	notRed, err := f.ev.Eval(And(TypeFilter(f.classA), NotTag(f.redKey())))
	require.NoError(t, err)
	assert.Equal(t, 1.0, Compare(red, notRed))
}
