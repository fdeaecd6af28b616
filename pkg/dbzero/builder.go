package dbzero

import "github.com/dbzero-io/dbzero/internal/layout"

// ClassDescriptor, ClassBuilder, Shape, and Value are re-exported here so
// a host application outside this module can build class descriptors
// and field values without reaching past the public API surface into
// internal/layout, which Go's internal/ visibility rule would otherwise
// forbid it from importing directly.
type (
	ClassDescriptor = layout.ClassDescriptor
	ClassBuilder    = layout.ClassBuilder
	FieldDescriptor = layout.FieldDescriptor
	Shape           = layout.Shape
	Value           = layout.Value
	MigrationFunc   = layout.MigrationFunc
)

const (
	ShapePos     = layout.ShapePos
	ShapeIndexed = layout.ShapeIndexed
	ShapeDynamic = layout.ShapeDynamic
)

// NewClassDescriptor starts building a class named name, declared in
// module module.
func NewClassDescriptor(module, name string) *ClassBuilder {
	return layout.NewClassDescriptor(module, name)
}

// Value constructors, re-exported for the same reason as the types
// above.
var (
	Null        = layout.Null
	Bool        = layout.Bool
	Int         = layout.Int
	Float       = layout.Float
	StringValue = layout.StringValue
	RefValue    = layout.RefValue
	WeakValue   = layout.WeakValue
)
