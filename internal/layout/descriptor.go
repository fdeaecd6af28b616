// Package layout implements the object layout engine: class descriptors,
// the three field-storage shapes (pos_vt, index_vt, kv_index), and reference
// assignment semantics. It does not implement weak-container
// auto-hardening: a weak reference is a single VWeakRef field value.
package layout

import (
	"sync"

	"github.com/google/uuid"
)

// Shape is a field's storage shape within its class.
type Shape uint8

const (
	// ShapePos is a small, frequently-touched scalar/reference field laid
	// out positionally in the object's own DP.
	ShapePos Shape = iota
	// ShapeIndexed is a moderate/sparse field addressed by a small
	// integer key in a per-object side table.
	ShapeIndexed
	// ShapeDynamic is a wholly dynamic (name -> value) attribute, stored
	// in the object's kv_index bag.
	ShapeDynamic
)

// FieldDescriptor names one declared field and its shape. A given field
// name has exactly one shape per class version; migrating a field to a
// different shape produces a new class version.
type FieldDescriptor struct {
	Name  string
	Shape Shape
	// Slot is the field's position within its shape's storage: the
	// pos_vt index for ShapePos, or the index_vt key for ShapeIndexed.
	// Unused (0) for ShapeDynamic, which is keyed by name at write time.
	Slot int
}

// classNamespace is the fixed namespace classes derive their uuid from,
// so two descriptors built for the same (module, name) pair collide
// deterministically rather than by chance.
var classNamespace = uuid.MustParse("6f1f7e2e-2f0a-4b8b-9d7a-2a2f6e9c0a11")

// ClassDescriptor is the external collaborator boundary the host binding
// registers up front: the core only ever consumes it, never inspects
// user constructors itself.
type ClassDescriptor struct {
	UUID         uuid.UUID
	Name         string
	Module       string
	Singleton    bool
	ScopedPrefix string // "" unless the class is pinned to one prefix
	Parent       uuid.UUID
	hasParent    bool

	// Immutable marks instances as never mutated after creation. It is a
	// descriptor flag only: nothing in the core reads it.
	Immutable bool
	// Fulltext marks the class as a candidate for a text-search index
	// over its string-shaped fields, read by a future search layer.
	Fulltext bool

	mu         sync.Mutex
	fields     map[string]FieldDescriptor
	order      []string // field names in declaration order, for migration diagnostics
	version    int
	migrations map[int]MigrationFunc

	nextPosSlot   int
	nextIndexSlot int
}

// MigrationFunc moves a class instance's record from one schema version
// to the next. It receives the record at fromVersion and returns the
// record to store going forward.
type MigrationFunc func(*Record) *Record

// ClassBuilder builds a ClassDescriptor. The zero value is not usable;
// start from NewClassDescriptor.
type ClassBuilder struct {
	d *ClassDescriptor
}

// NewClassDescriptor starts building a class named name, declared in
// module module. The class uuid is derived deterministically from
// (module, name) so re-registering the same class across process
// restarts yields the same identity.
func NewClassDescriptor(module, name string) *ClassBuilder {
	d := &ClassDescriptor{
		UUID:       uuid.NewSHA1(classNamespace, []byte(module+"\x00"+name)),
		Name:       name,
		Module:     module,
		fields:     make(map[string]FieldDescriptor),
		version:    1,
		migrations: make(map[int]MigrationFunc),
	}
	return &ClassBuilder{d: d}
}

// Singleton marks the class as having exactly one instance per prefix.
func (b *ClassBuilder) Singleton() *ClassBuilder {
	b.d.Singleton = true
	return b
}

// ScopedTo pins the class to one specific prefix: instances are always
// created there regardless of the caller's current default prefix.
func (b *ClassBuilder) ScopedTo(prefix string) *ClassBuilder {
	b.d.ScopedPrefix = prefix
	return b
}

// Extends records parent as the class's base class, for type-tag query
// inheritance and descendant-closure computation.
func (b *ClassBuilder) Extends(parent *ClassDescriptor) *ClassBuilder {
	b.d.Parent = parent.UUID
	b.d.hasParent = true
	return b
}

// MarkImmutable marks instances as never mutated after creation.
func (b *ClassBuilder) MarkImmutable() *ClassBuilder {
	b.d.Immutable = true
	return b
}

// MarkFulltext marks the class as a full-text search candidate.
func (b *ClassBuilder) MarkFulltext() *ClassBuilder {
	b.d.Fulltext = true
	return b
}

// Field pre-declares a field with an explicit shape, instead of the
// ShapeDynamic default FieldOrDefault gives a field first seen at
// runtime.
func (b *ClassBuilder) Field(name string, shape Shape) *ClassBuilder {
	b.d.declare(name, shape)
	return b
}

// Build finalizes the descriptor.
func (b *ClassBuilder) Build() *ClassDescriptor { return b.d }

// HasParent reports whether the class extends another.
func (d *ClassDescriptor) HasParent() bool { return d.hasParent }

func (d *ClassDescriptor) declare(name string, shape Shape) FieldDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fields[name]; ok {
		return f
	}
	f := FieldDescriptor{Name: name, Shape: shape}
	switch shape {
	case ShapePos:
		f.Slot = d.nextPosSlot
		d.nextPosSlot++
	case ShapeIndexed:
		f.Slot = d.nextIndexSlot
		d.nextIndexSlot++
	}
	d.fields[name] = f
	d.order = append(d.order, name)
	return f
}

// FieldOrDefault returns name's descriptor, declaring it as a dynamic (kv_index)
// field on first sight — the "observed use" path for attributes the
// builder didn't pre-declare.
func (d *ClassDescriptor) FieldOrDefault(name string) FieldDescriptor {
	d.mu.Lock()
	f, ok := d.fields[name]
	d.mu.Unlock()
	if ok {
		return f
	}
	return d.declare(name, ShapeDynamic)
}

// Migrate moves name to a new shape, as schema evolution requires when a
// field that appeared rare turns out to be hot (or vice versa), and bumps
// the class version. Existing records are not rewritten: Record.Get reads
// only the field's new shape, so a value stored under the prior shape
// reads as Null until the field is set again.
func (d *ClassDescriptor) Migrate(name string, shape Shape) FieldDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version++
	f := FieldDescriptor{Name: name, Shape: shape}
	switch shape {
	case ShapePos:
		f.Slot = d.nextPosSlot
		d.nextPosSlot++
	case ShapeIndexed:
		f.Slot = d.nextIndexSlot
		d.nextIndexSlot++
	}
	d.fields[name] = f
	return f
}

// Version returns the class's current schema version, starting at 1.
func (d *ClassDescriptor) Version() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// AddMigration registers fn as the step moving an instance recorded at
// fromVersion up to fromVersion+1, and bumps the class's current version
// to match. Migrations run in ascending fromVersion order the next time an
// instance is loaded at a version behind the descriptor's current one.
func (b *ClassBuilder) AddMigration(fromVersion int, fn MigrationFunc) *ClassBuilder {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	b.d.migrations[fromVersion] = fn
	if fromVersion+1 > b.d.version {
		b.d.version = fromVersion + 1
	}
	return b
}

// ApplyMigrations walks rec forward from recordedVersion to d's current
// version, one registered MigrationFunc at a time. A version with no
// registered step is skipped, leaving rec unchanged for that step.
func (d *ClassDescriptor) ApplyMigrations(recordedVersion int, rec *Record) *Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	for v := recordedVersion; v < d.version; v++ {
		if fn, ok := d.migrations[v]; ok {
			rec = fn(rec)
		}
	}
	return rec
}

// Fields returns the declared fields in declaration order.
func (d *ClassDescriptor) Fields() []FieldDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FieldDescriptor, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.fields[name])
	}
	return out
}

// Registry is the process-wide set of registered class descriptors,
// indexed both by uuid and by (module, name), with a precomputed
// descendant closure per class for type-tag query inheritance.
type Registry struct {
	mu          sync.Mutex
	byUUID      map[uuid.UUID]*ClassDescriptor
	byName      map[string]*ClassDescriptor
	descendants map[uuid.UUID][]uuid.UUID // invalidated (recomputed) on every registration
}

// NewRegistry returns an empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID: make(map[uuid.UUID]*ClassDescriptor),
		byName: make(map[string]*ClassDescriptor),
	}
}

// Register adds d to the registry, recomputing the descendant closure.
// Registering the same class uuid twice replaces the prior descriptor
// (a redefinition, e.g. after a migration).
func (r *Registry) Register(d *ClassDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUUID[d.UUID] = d
	r.byName[d.Module+"\x00"+d.Name] = d
	r.recomputeDescendants()
}

// Unregister removes a class, for atomic-section cancellation undoing a
// newly observed class.
func (r *Registry) Unregister(classUUID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byUUID[classUUID]; ok {
		delete(r.byName, d.Module+"\x00"+d.Name)
	}
	delete(r.byUUID, classUUID)
	r.recomputeDescendants()
}

// Lookup resolves a class by uuid.
func (r *Registry) Lookup(classUUID uuid.UUID) (*ClassDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byUUID[classUUID]
	return d, ok
}

// LookupByName resolves a class by (module, name). Callers may retry as
// the base class when a lookup fails because the model class is not
// currently imported by the host.
func (r *Registry) LookupByName(module, name string) (*ClassDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[module+"\x00"+name]
	return d, ok
}

// Descendants returns classUUID's full descendant closure (not
// including itself), for expanding a type-tag query across subclasses.
func (r *Registry) Descendants(classUUID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.descendants[classUUID]...)
}

func (r *Registry) recomputeDescendants() {
	children := make(map[uuid.UUID][]uuid.UUID)
	for id, d := range r.byUUID {
		if d.hasParent {
			children[d.Parent] = append(children[d.Parent], id)
		}
	}
	closure := make(map[uuid.UUID][]uuid.UUID)
	var walk func(id uuid.UUID) []uuid.UUID
	walk = func(id uuid.UUID) []uuid.UUID {
		if v, ok := closure[id]; ok {
			return v
		}
		var out []uuid.UUID
		for _, c := range children[id] {
			out = append(out, c)
			out = append(out, walk(c)...)
		}
		closure[id] = out
		return out
	}
	for id := range r.byUUID {
		walk(id)
	}
	r.descendants = closure
}
