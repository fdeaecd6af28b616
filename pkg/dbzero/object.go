package dbzero

import (
	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/layout"
)

// Object is a live handle on one memo object instance within a prefix.
// It is a thin wrapper: the object's actual record storage lives in the
// prefix's layout.ObjectStore, so multiple Object handles for the same
// id always observe the same underlying state.
type Object struct {
	id     uuid.UUID
	class  *layout.ClassDescriptor
	prefix *Prefix
}

// ID returns the object's identity.
func (o *Object) ID() uuid.UUID { return o.id }

// Class returns the object's class descriptor.
func (o *Object) Class() *layout.ClassDescriptor { return o.class }

// Get returns field's current value, declaring it as a dynamic attribute
// on first sight if the class did not pre-declare it.
func (o *Object) Get(field string) layout.Value {
	rec, _, ok := o.prefix.store.Get(o.id)
	if !ok {
		return layout.Null()
	}
	return rec.Get(o.class.FieldOrDefault(field))
}

// Set writes v into field, declaring it as a dynamic attribute on first
// sight if the class did not pre-declare it.
func (o *Object) Set(field string, v layout.Value) error {
	return o.prefix.store.SetField(o.id, o.class.FieldOrDefault(field), v)
}

// SetBool is a convenience wrapper over Set for a bool-typed field.
func (o *Object) SetBool(field string, v bool) error { return o.Set(field, layout.Bool(v)) }

// SetInt is a convenience wrapper over Set for an int-typed field.
func (o *Object) SetInt(field string, v int64) error { return o.Set(field, layout.Int(v)) }

// SetFloat is a convenience wrapper over Set for a float-typed field.
func (o *Object) SetFloat(field string, v float64) error { return o.Set(field, layout.Float(v)) }

// SetString interns s in the engine's shared string pool and writes the
// resulting id into field. The field's prior string value (if any) has
// its retention released by the underlying ObjectStore.
func (o *Object) SetString(field, s string) error {
	id := o.prefix.eng.pool.Intern(s)
	return o.Set(field, layout.StringValue(id))
}

// String reads field's string value back, or ("", false) if it is not
// currently a live string value.
func (o *Object) String(field string) (string, bool) {
	v := o.Get(field)
	if v.Kind != layout.VString {
		return "", false
	}
	return o.prefix.eng.pool.Lookup(v.StrID)
}

// SetRef writes a strong reference to target into field. Assigning
// across prefixes is rejected; use SetWeakRef for a cross-prefix proxy.
func (o *Object) SetRef(field string, target uuid.UUID) error {
	return o.Set(field, layout.RefValue(target))
}

// SetWeakRef writes a weak (non-owning, cross-prefix-safe) reference to
// target into field.
func (o *Object) SetWeakRef(field string, target uuid.UUID) error {
	return o.Set(field, layout.WeakValue(target))
}

// Delete releases every strong reference and retained string the object
// holds, removes its type tag, and forgets its directory entry.
func (o *Object) Delete() error {
	return o.prefix.store.Delete(o.id)
}

// AddTag records that the object carries key, making it reachable
// through Tag(key)/NotTag(key) query nodes and SplitBy(key) grouping.
func (o *Object) AddTag(key TagKey) error {
	return o.prefix.store.AddTag(o.id, key)
}

// RemoveTag drops key from the object's tag set.
func (o *Object) RemoveTag(key TagKey) error {
	return o.prefix.store.RemoveTag(o.id, key)
}

// Tag interns name as a string tag and attaches it to the object — the
// common case of labeling an object with a plain string (e.g. "tag1").
func (o *Object) Tag(name string) error {
	return o.AddTag(o.prefix.StringTag(name))
}

// Untag removes name's string tag from the object.
func (o *Object) Untag(name string) error {
	return o.RemoveTag(o.prefix.StringTag(name))
}
