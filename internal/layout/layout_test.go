package layout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/gc0"
)

func TestClassDescriptorBuilderAssignsSlots(t *testing.T) {
	d := NewClassDescriptor("sample", "Widget").
		Field("id", ShapePos).
		Field("name", ShapePos).
		Field("tags", ShapeIndexed).
		Build()

	fields := d.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, 0, fields[0].Slot)
	assert.Equal(t, 1, fields[1].Slot)
	assert.Equal(t, 0, fields[2].Slot, "indexed slots number independently from pos slots")
}

func TestClassUUIDIsDeterministicPerModuleName(t *testing.T) {
	a := NewClassDescriptor("sample", "Widget").Build()
	b := NewClassDescriptor("sample", "Widget").Build()
	c := NewClassDescriptor("sample", "Gadget").Build()
	assert.Equal(t, a.UUID, b.UUID)
	assert.NotEqual(t, a.UUID, c.UUID)
}

func TestMarkImmutableAndFulltextSetFlags(t *testing.T) {
	d := NewClassDescriptor("sample", "Article").
		Field("body", ShapeDynamic).
		MarkImmutable().
		MarkFulltext().
		Build()
	assert.True(t, d.Immutable)
	assert.True(t, d.Fulltext)
}

func TestVersionStartsAtOneWithNoMigrations(t *testing.T) {
	d := NewClassDescriptor("sample", "Widget").Build()
	assert.Equal(t, 1, d.Version())
}

func TestAddMigrationBumpsVersionAndAppliesInOrder(t *testing.T) {
	nameField := FieldDescriptor{Name: "name", Shape: ShapeDynamic}
	d := NewClassDescriptor("sample", "Widget").
		AddMigration(1, func(r *Record) *Record {
			r.Dynamic["name"] = StringValue(0) // placeholder migration: rename v1 field
			return r
		}).
		AddMigration(2, func(r *Record) *Record {
			r.Dynamic["renamed"] = r.Dynamic["name"]
			delete(r.Dynamic, "name")
			return r
		}).
		Build()

	assert.Equal(t, 3, d.Version())

	rec := NewRecord(0)
	rec.Set(nameField, StringValue(42))

	migrated := d.ApplyMigrations(1, rec)
	_, hasOldName := migrated.Dynamic["name"]
	assert.False(t, hasOldName)
	assert.Equal(t, StringValue(42), migrated.Dynamic["renamed"])
}

func TestApplyMigrationsSkipsVersionsWithNoRegisteredStep(t *testing.T) {
	d := NewClassDescriptor("sample", "Widget").
		AddMigration(2, func(r *Record) *Record { return r }).
		Build()
	// Version 1->2 has no registered step; ApplyMigrations must not panic
	// or lose data, simply passing rec through unchanged for that step.
	rec := NewRecord(1)
	out := d.ApplyMigrations(1, rec)
	assert.Same(t, rec, out)
}

func TestRegistryDescendantClosure(t *testing.T) {
	base := NewClassDescriptor("sample", "Base").Build()
	mid := NewClassDescriptor("sample", "Mid").Extends(base).Build()
	leaf := NewClassDescriptor("sample", "Leaf").Extends(mid).Build()

	r := NewRegistry()
	r.Register(base)
	r.Register(mid)
	r.Register(leaf)

	assert.ElementsMatch(t, []uuid.UUID{mid.UUID, leaf.UUID}, r.Descendants(base.UUID))
	assert.ElementsMatch(t, []uuid.UUID{leaf.UUID}, r.Descendants(mid.UUID))
	assert.Empty(t, r.Descendants(leaf.UUID))
}

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	rec := NewRecord(2)
	rec.Pos[0] = Int(42)
	rec.Pos[1] = RefValue(uuid.New())
	rec.Indexed[3] = Float(1.5)
	rec.Dynamic["color"] = StringValue(7)

	names := map[uint32]string{9: "color"}
	encoded := Encode(rec, func(name string) uint32 {
		for id, n := range names {
			if n == name {
				return id
			}
		}
		return 9
	})

	decoded, err := Decode(encoded, func(id uint32) (string, bool) {
		n, ok := names[id]
		return n, ok
	})
	require.NoError(t, err)

	assert.Equal(t, rec.Pos[0], decoded.Pos[0])
	assert.Equal(t, rec.Pos[1], decoded.Pos[1])
	assert.Equal(t, rec.Indexed[3], decoded.Indexed[3])
	assert.Equal(t, rec.Dynamic["color"], decoded.Dynamic["color"])
}

func TestRecordSetReturnsPriorValue(t *testing.T) {
	rec := NewRecord(1)
	f := FieldDescriptor{Name: "count", Shape: ShapePos, Slot: 0}

	prior := rec.Set(f, Int(1))
	assert.True(t, prior.IsNull())

	prior = rec.Set(f, Int(2))
	assert.Equal(t, Int(1), prior)
	assert.Equal(t, Int(2), rec.Get(f))
}

func TestSingletonDerivationIsStablePerPrefix(t *testing.T) {
	class := NewClassDescriptor("sample", "Config").Singleton().Build()
	a := PrefixUUID("prefix-a")
	b := PrefixUUID("prefix-b")
	assert.NotEqual(t, a, b)

	idA1 := gc0.SingletonUUID(class.UUID, a)
	idA2 := gc0.SingletonUUID(class.UUID, a)
	idB := gc0.SingletonUUID(class.UUID, b)
	assert.Equal(t, idA1, idA2, "the same class on the same prefix always derives the same instance id")
	assert.NotEqual(t, idA1, idB)
}
