package dbzero

import (
	"github.com/dbzero-io/dbzero/internal/query"
	"github.com/dbzero-io/dbzero/internal/tags"
)

// Query, Node, and Pair are re-exported so a host application can build
// and run queries without importing internal/query directly.
type (
	Query = query.Query
	Node  = query.Node
	Pair  = query.Pair
)

// TagKey identifies one tag's posting list — the argument Tag/NotTag and
// AddTag/RemoveTag/SplitBy all take. Build one with EnumTag, ObjectTag,
// or, for a plain string label, Prefix.StringTag.
type TagKey = tags.Key

// Node constructors and query pipeline entry points, re-exported for the
// same reason as the types above.
var (
	TypeFilter  = query.TypeFilter
	Tag         = query.Tag
	NotTag      = query.NotTag
	NotQuery    = query.NotQuery
	And         = query.And
	Or          = query.Or
	RangeFilter = query.RangeFilter
	NewQuery    = query.New
	Serialize   = query.Serialize
	Deserialize = query.Deserialize
	Sign        = query.Sign
	Compare     = query.Compare
)

// EnumTag builds a tag key for one enum value of classUUID.
var EnumTag = tags.EnumKey

// ObjectTag builds an as-tag key for a memo object used as a tag.
var ObjectTag = tags.ObjectKey
