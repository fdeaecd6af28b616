package query

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/tags"
)

// Query wraps a set-producing Node with the pipeline stages that shape
// its output: an optional sort, an optional predicate filter (never
// serializable — see Serialize), and an optional split-by grouping.
type Query struct {
	Root      *Node
	SortIndex string
	SortDesc  bool
	SortNull  bool
	hasSort   bool

	Predicate func(uuid.UUID) bool

	SplitKeys []tags.Key
}

// New wraps root with no pipeline stages.
func New(root *Node) *Query { return &Query{Root: root} }

// Sort appends an in-memory sort stage over the named range index.
func (q *Query) Sort(rangeIdx string, desc, nullFirst bool) *Query {
	q.SortIndex, q.SortDesc, q.SortNull, q.hasSort = rangeIdx, desc, nullFirst, true
	return q
}

// Filter appends an arbitrary Go predicate stage. A query carrying a
// predicate cannot be serialized with Serialize/Deserialize: the
// predicate is a closure, not a content-addressable leaf key.
func (q *Query) Filter(pred func(uuid.UUID) bool) *Query {
	q.Predicate = pred
	return q
}

// SplitBy appends a grouping stage: Run returns (object, group-key)
// pairs instead of a flat list, one pair per key each matching object
// carries.
func (q *Query) SplitBy(keys ...tags.Key) *Query {
	q.SplitKeys = keys
	return q
}

// Pair is one (object, group key) row emitted by a split-by query.
type Pair struct {
	Obj uuid.UUID
	Key tags.Key
}

// Run evaluates q's root, then applies the filter/sort/split-by stages
// in that order, against ev's snapshot. A query without SplitKeys
// returns its rows through objs; a query with SplitKeys returns them
// through pairs instead.
func (q *Query) Run(ev *Evaluator) (objs []uuid.UUID, pairs []Pair, err error) {
	bm, err := ev.Eval(q.Root)
	if err != nil {
		return nil, nil, err
	}
	objs = ev.Objects(bm)

	if q.Predicate != nil {
		filtered := objs[:0:0]
		for _, o := range objs {
			if q.Predicate(o) {
				filtered = append(filtered, o)
			}
		}
		objs = filtered
	}

	if q.hasSort {
		idx, ok := ev.Ranges[q.SortIndex]
		if !ok {
			return nil, nil, fmt.Errorf("query: unknown range index %q", q.SortIndex)
		}
		objs = idx.Sort(objs, q.SortDesc, q.SortNull)
	}

	if len(q.SplitKeys) == 0 {
		return objs, nil, nil
	}

	for _, o := range objs {
		for _, k := range q.SplitKeys {
			if ev.TagStore.Has(k, o) {
				pairs = append(pairs, Pair{Obj: o, Key: k})
			}
		}
	}
	return nil, pairs, nil
}

// Rebase returns a copy of q bound to the same shape but intended for
// evaluation against a different snapshot's Evaluator — the root tree
// itself carries no snapshot state, so Rebase is a shallow copy that
// exists to make the "bind to a snapshot" step explicit at call sites.
func (q *Query) Rebase() *Query {
	cp := *q
	return &cp
}

// Serialize encodes q's shape and leaf keys (not posting-list contents)
// into a byte string a later process can Deserialize and re-run against
// whatever snapshot is current then. A query carrying a Predicate cannot
// be serialized.
func Serialize(q *Query) ([]byte, error) {
	if q.Predicate != nil {
		return nil, fmt.Errorf("query: cannot serialize a query with a predicate stage")
	}
	var buf []byte
	buf = appendLenPrefixed(buf, encodeNode(q.Root))

	buf = appendLenPrefixed(buf, []byte(q.SortIndex))
	flags := byte(0)
	if q.hasSort {
		flags |= 1
	}
	if q.SortDesc {
		flags |= 2
	}
	if q.SortNull {
		flags |= 4
	}
	buf = append(buf, flags)

	var n4 [4]byte
	binary.LittleEndian.PutUint32(n4[:], uint32(len(q.SplitKeys)))
	buf = append(buf, n4[:]...)
	for _, k := range q.SplitKeys {
		buf = appendKey(buf, k)
	}
	return buf, nil
}

// Deserialize rebinds a byte string produced by Serialize back to a
// runnable Query.
func Deserialize(buf []byte) (*Query, error) {
	rootBytes, rest, err := readLenPrefixed(buf)
	if err != nil {
		return nil, err
	}
	root, _, err := decodeNode(rootBytes)
	if err != nil {
		return nil, err
	}

	sortIdxBytes, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("query: truncated sort flags")
	}
	flags := rest[0]
	rest = rest[1:]

	q := &Query{Root: root, SortIndex: string(sortIdxBytes)}
	q.hasSort = flags&1 != 0
	q.SortDesc = flags&2 != 0
	q.SortNull = flags&4 != 0

	n, rest, err := readU32Query(rest)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		k, r2, err := decodeKey(rest)
		if err != nil {
			return nil, err
		}
		q.SplitKeys = append(q.SplitKeys, k)
		rest = r2
	}
	return q, nil
}

func readU32Query(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("query: truncated length")
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}

func readLenPrefixed(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readU32Query(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("query: truncated payload")
	}
	return rest[:n], rest[n:], nil
}
