package layout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/gc0"
	"github.com/dbzero-io/dbzero/internal/tags"
	"github.com/dbzero-io/dbzero/internal/txn"
)

// sharedFixture wires one class registry, gc0 registry, tag store, string
// pool, and object directory across two prefixes opened in the same
// engine, matching how a single dbzero.Engine wires its subsystems.
type sharedFixture struct {
	engine    *txn.Engine
	classes   *Registry
	gc        *gc0.Registry
	pool      *tags.StringPool
	aliases   *tags.AliasTable
	tagStore  *tags.Store
	directory *Directory
}

func newSharedFixture(t *testing.T) *sharedFixture {
	t.Helper()
	dir := t.TempDir()
	pool := tags.NewStringPool()
	aliases := tags.NewAliasTable()
	return &sharedFixture{
		engine:    txn.NewEngine(dir, nil),
		classes:   NewRegistry(),
		gc:        gc0.NewRegistry(),
		pool:      pool,
		aliases:   aliases,
		tagStore:  tags.NewStore(aliases, pool),
		directory: NewDirectory(),
	}
}

func (f *sharedFixture) openStore(t *testing.T, prefixName string) *ObjectStore {
	t.Helper()
	opts := txn.DefaultOptions()
	opts.Autocommit = false
	p, err := f.engine.Open(prefixName, txn.ModeOpenRW, opts)
	require.NoError(t, err)
	return NewObjectStore(prefixName, p, f.classes, f.gc, f.tagStore, f.pool, f.directory)
}

func TestObjectStoreCreateGetPersistRoundTrip(t *testing.T) {
	fx := newSharedFixture(t)
	store := fx.openStore(t, "main")

	class := NewClassDescriptor("sample", "Widget").
		Field("name", ShapePos).
		Build()
	fx.classes.Register(class)

	id, err := store.Create(class)
	require.NoError(t, err)

	rec, classID, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, class.UUID, classID)
	assert.True(t, rec.Get(class.FieldOrDefault("name")).IsNull())

	nameField := class.FieldOrDefault("name")
	strID := fx.pool.Intern("widget-one")
	require.NoError(t, store.SetField(id, nameField, StringValue(strID)))

	rec, _, _ = store.Get(id)
	assert.Equal(t, StringValue(strID), rec.Get(nameField))
}

func TestObjectStoreCrossPrefixStrongRefRejected(t *testing.T) {
	fx := newSharedFixture(t)
	storeA := fx.openStore(t, "prefix-a")
	storeB := fx.openStore(t, "prefix-b")

	class := NewClassDescriptor("sample", "Node").
		Field("next", ShapePos).
		Build()
	fx.classes.Register(class)

	idA, err := storeA.Create(class)
	require.NoError(t, err)
	idB, err := storeB.Create(class)
	require.NoError(t, err)

	nextField := class.FieldOrDefault("next")
	err = storeB.SetField(idB, nextField, RefValue(idA))
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.KindCrossPrefixRef)

	// A weak reference to the same cross-prefix target is allowed.
	err = storeB.SetField(idB, nextField, WeakValue(idA))
	assert.NoError(t, err)
}

func TestObjectStoreStrongRefCascadesOnReassignment(t *testing.T) {
	fx := newSharedFixture(t)
	store := fx.openStore(t, "main")

	class := NewClassDescriptor("sample", "Node").
		Field("next", ShapePos).
		Build()
	fx.classes.Register(class)

	head, err := store.Create(class)
	require.NoError(t, err)
	a, err := store.Create(class)
	require.NoError(t, err)
	b, err := store.Create(class)
	require.NoError(t, err)

	nextField := class.FieldOrDefault("next")
	fx.gc.IncExternal(a) // a's handle is externally held so it survives the unref below
	require.NoError(t, store.SetField(head, nextField, RefValue(a)))

	ca, _ := fx.gc.Get(a)
	assert.Equal(t, uint32(1), ca.Strong)

	require.NoError(t, store.SetField(head, nextField, RefValue(b)))

	ca, ok := fx.gc.Get(a)
	assert.True(t, ok, "a is still kept alive by its external hold")
	assert.Equal(t, uint32(0), ca.Strong)

	cb, _ := fx.gc.Get(b)
	assert.Equal(t, uint32(1), cb.Strong)
}

func TestObjectStoreDeleteReleasesStringRetention(t *testing.T) {
	fx := newSharedFixture(t)
	store := fx.openStore(t, "main")

	class := NewClassDescriptor("sample", "Tagged").
		Field("label", ShapePos).
		Build()
	fx.classes.Register(class)

	id, err := store.Create(class)
	require.NoError(t, err)

	labelField := class.FieldOrDefault("label")
	strID := fx.pool.Intern("owned-by-object")
	require.NoError(t, store.SetField(id, labelField, StringValue(strID)))
	assert.Equal(t, uint32(1), fx.pool.RefCount(strID))

	require.NoError(t, store.Delete(id))
	_, ok := fx.pool.Lookup(strID)
	assert.False(t, ok, "deleting the object releases its string retention")
}

func TestObjectStoreAddTagRemoveTagRoundTrip(t *testing.T) {
	fx := newSharedFixture(t)
	store := fx.openStore(t, "main")

	class := NewClassDescriptor("sample", "Widget").Build()
	fx.classes.Register(class)

	id, err := store.Create(class)
	require.NoError(t, err)

	key := tags.StringKey(fx.pool, "tag1")
	require.NoError(t, store.AddTag(id, key))
	assert.Contains(t, fx.tagStore.Find(key), id)

	require.NoError(t, store.RemoveTag(id, key))
	assert.NotContains(t, fx.tagStore.Find(key), id)
}

func TestObjectStoreAddTagRejectsUnknownObject(t *testing.T) {
	fx := newSharedFixture(t)
	store := fx.openStore(t, "main")

	key := tags.StringKey(fx.pool, "tag1")
	err := store.AddTag(uuid.New(), key)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.KindInvalidAddress)
}
