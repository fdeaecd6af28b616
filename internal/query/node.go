// Package query implements the lazy iterator-tree query engine: node
// composition, content-addressable signatures/uuids, set evaluation over
// tag posting lists, and the sort/filter/split-by pipeline stages.
package query

import (
	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/tags"
)

// Kind distinguishes a query node's evaluation rule.
type Kind uint8

const (
	KindTypeFilter Kind = iota
	KindTag
	KindNotTag
	KindNotQuery
	KindAnd
	KindOr
	KindRangeFilter
)

// Node is one set-producing step in a query tree. Not every field is
// meaningful for every Kind; see the KindX constructors below.
type Node struct {
	Kind      Kind
	Class     uuid.UUID // KindTypeFilter
	TagKey    tags.Key  // KindTag, KindNotTag
	Children  []*Node   // KindNotQuery (1), KindAnd/KindOr (n), KindRangeFilter (1, the restricted set)
	RangeIdx  string    // KindRangeFilter: the range index's name
	Lo, Hi    *tags.Scalar
	NullFirst bool // KindRangeFilter
}

// TypeFilter restricts to instances of class (and its registered
// subclasses, expanded at evaluation time).
func TypeFilter(class uuid.UUID) *Node { return &Node{Kind: KindTypeFilter, Class: class} }

// Tag restricts to objects carrying key.
func Tag(key tags.Key) *Node { return &Node{Kind: KindTag, TagKey: key} }

// NotTag excludes objects carrying key from the ambient universe.
func NotTag(key tags.Key) *Node { return &Node{Kind: KindNotTag, TagKey: key} }

// NotQuery excludes q's result set from the ambient universe.
func NotQuery(q *Node) *Node { return &Node{Kind: KindNotQuery, Children: []*Node{q}} }

// And intersects qs, evaluated left to right so a NOT child sees every
// preceding child's result as its universe.
func And(qs ...*Node) *Node { return &Node{Kind: KindAnd, Children: qs} }

// Or unions qs, each evaluated independently against the ambient
// universe.
func Or(qs ...*Node) *Node { return &Node{Kind: KindOr, Children: qs} }

// RangeFilter restricts q to the range index's [lo, hi] window (either
// bound nil for unbounded). Objects recorded with a null key are always
// inside the window, whatever the bounds. nullFirst only orders the
// index's Range output, which evaluation turns into an unordered bitmap,
// so it does not change the result; a later Sort stage uses its own
// nullFirst.
func RangeFilter(rangeIdx string, lo, hi *tags.Scalar, nullFirst bool, q *Node) *Node {
	return &Node{Kind: KindRangeFilter, RangeIdx: rangeIdx, Lo: lo, Hi: hi, NullFirst: nullFirst, Children: []*Node{q}}
}
