package dbzero

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/txn"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Autocommit = false
	return New(cfg, nil)
}

func TestEngineCreateObjectAndQuery(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	widget := NewClassDescriptor("catalog", "Widget").Field("label", ShapeDynamic).Build()
	eng.RegisterClass(widget)

	p, err := eng.OpenPrefix("main", txn.ModeOpenRW)
	require.NoError(t, err)

	obj, err := p.New(widget)
	require.NoError(t, err)
	require.NoError(t, obj.SetString("label", "gadget"))

	got, ok := obj.String("label")
	require.True(t, ok)
	assert.Equal(t, "gadget", got)

	objs, _, err := p.Run(NewQuery(TypeFilter(widget.UUID)))
	require.NoError(t, err)
	assert.Contains(t, objs, obj.ID())
}

func TestPrefixCrossPrefixStrongRefRejectedWeakAllowed(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	owner := NewClassDescriptor("catalog", "Owner").Field("pet", ShapeDynamic).Build()
	pet := NewClassDescriptor("catalog", "Pet").Build()
	eng.RegisterClass(owner)
	eng.RegisterClass(pet)

	a, err := eng.OpenPrefix("a", txn.ModeOpenRW)
	require.NoError(t, err)
	b, err := eng.OpenPrefix("b", txn.ModeOpenRW)
	require.NoError(t, err)

	ownerObj, err := a.New(owner)
	require.NoError(t, err)
	petObj, err := b.New(pet)
	require.NoError(t, err)

	err = ownerObj.SetRef("pet", petObj.ID())
	require.Error(t, err)

	require.NoError(t, ownerObj.SetWeakRef("pet", petObj.ID()))
}

func TestEngineSnapshotPinsState(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	widget := NewClassDescriptor("catalog", "Widget2").Build()
	eng.RegisterClass(widget)

	p, err := eng.OpenPrefix("main", txn.ModeOpenRW)
	require.NoError(t, err)

	_, err = p.New(widget)
	require.NoError(t, err)
	n, err := p.Commit()
	require.NoError(t, err)

	snap, err := eng.Snapshot(map[string]uint64{"main": n})
	require.NoError(t, err)
	defer snap.Close()

	got, ok := snap.GetStateNum("main")
	require.True(t, ok)
	assert.Equal(t, n, got)
}

func TestObjectTagUntagAndQuery(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	widget := NewClassDescriptor("catalog", "TaggedWidget").Build()
	eng.RegisterClass(widget)

	p, err := eng.OpenPrefix("main", txn.ModeOpenRW)
	require.NoError(t, err)

	a, err := p.New(widget)
	require.NoError(t, err)
	b, err := p.New(widget)
	require.NoError(t, err)

	require.NoError(t, a.Tag("tag1"))
	require.NoError(t, b.Tag("tag1"))

	objs, _, err := p.Run(NewQuery(Tag(p.StringTag("tag1"))))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID(), b.ID()}, objs)

	require.NoError(t, a.Untag("tag1"))
	objs, _, err = p.Run(NewQuery(Tag(p.StringTag("tag1"))))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b.ID()}, objs)
}

func TestPrefixGroupByCountsTaggedObjectsByKey(t *testing.T) {
	eng := newTestEngine(t)
	t.Cleanup(func() { _ = eng.Close() })

	widget := NewClassDescriptor("catalog", "GroupedWidget").Field("key", ShapeDynamic).Build()
	eng.RegisterClass(widget)

	p, err := eng.OpenPrefix("main", txn.ModeOpenRW)
	require.NoError(t, err)

	keys := []string{"one", "two", "three"}
	for i := 0; i < 9; i++ {
		obj, err := p.New(widget)
		require.NoError(t, err)
		require.NoError(t, obj.SetString("key", keys[i%3]))
		require.NoError(t, obj.Tag("tag1"))
	}
	stateNum, err := p.Commit()
	require.NoError(t, err)

	groupFunc := func(id uuid.UUID) []TagKey {
		o, ok := p.Object(id)
		if !ok {
			return nil
		}
		v, ok := o.String("key")
		if !ok {
			return nil
		}
		return []TagKey{p.StringTag(v)}
	}

	groups, err := p.GroupBy(stateNum, NewQuery(Tag(p.StringTag("tag1"))), groupFunc, map[string]Op{"count": CountOp})
	require.NoError(t, err)

	assert.Equal(t, 3, groups[p.StringTag("one")]["count"])
	assert.Equal(t, 3, groups[p.StringTag("two")]["count"])
	assert.Equal(t, 3, groups[p.StringTag("three")]["count"])
}
