package query

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/tags"
)

// DescendantsFunc resolves a class uuid's registered subclasses, for
// expanding a TypeFilter's type tag across its descendant closure.
type DescendantsFunc func(classUUID uuid.UUID) []uuid.UUID

// Evaluator binds a query tree to the concrete posting lists and range
// indexes of one prefix's snapshot.
type Evaluator struct {
	TagStore    *tags.Store
	Descendants DescendantsFunc
	Ranges      map[string]*tags.RangeIndex
	MaxScan     int // 0 means unbounded
}

// Eval evaluates n to the alias set it denotes.
func (e *Evaluator) Eval(n *Node) (*roaring.Bitmap, error) {
	universe := e.TagStore.Aliases().All()
	return e.eval(n, universe)
}

func (e *Evaluator) eval(n *Node, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	if n == nil {
		return roaring.New(), nil
	}
	switch n.Kind {
	case KindTypeFilter:
		bm := e.TagStore.Bitmap(tags.ClassKey(n.Class))
		for _, sub := range e.Descendants(n.Class) {
			bm.Or(e.TagStore.Bitmap(tags.ClassKey(sub)))
		}
		if err := e.checkScan(bm); err != nil {
			return nil, err
		}
		return bm, nil

	case KindTag:
		bm := e.TagStore.Bitmap(n.TagKey)
		if err := e.checkScan(bm); err != nil {
			return nil, err
		}
		return bm, nil

	case KindNotTag:
		out := universe.Clone()
		out.AndNot(e.TagStore.Bitmap(n.TagKey))
		return out, nil

	case KindNotQuery:
		child, err := e.eval(n.Children[0], universe)
		if err != nil {
			return nil, err
		}
		out := universe.Clone()
		out.AndNot(child)
		return out, nil

	case KindAnd:
		acc := universe.Clone()
		for _, c := range n.Children {
			childBM, err := e.eval(c, acc)
			if err != nil {
				return nil, err
			}
			acc.And(childBM)
		}
		return acc, nil

	case KindOr:
		out := roaring.New()
		for _, c := range n.Children {
			childBM, err := e.eval(c, universe)
			if err != nil {
				return nil, err
			}
			out.Or(childBM)
		}
		return out, nil

	case KindRangeFilter:
		inner, err := e.eval(n.Children[0], universe)
		if err != nil {
			return nil, err
		}
		idx, ok := e.Ranges[n.RangeIdx]
		if !ok {
			return roaring.New(), nil
		}
		rangeObjs := idx.Range(n.Lo, n.Hi, n.NullFirst)
		rangeBM := roaring.New()
		for _, obj := range rangeObjs {
			if alias, ok := e.TagStore.Aliases().Lookup(obj); ok {
				rangeBM.Add(alias)
			}
		}
		inner.And(rangeBM)
		return inner, nil

	default:
		return nil, fmt.Errorf("query: unknown node kind %d", n.Kind)
	}
}

func (e *Evaluator) checkScan(bm *roaring.Bitmap) error {
	if e.MaxScan > 0 && int(bm.GetCardinality()) > e.MaxScan {
		return dberr.New("query.Eval", dberr.KindMaxScanExceeded,
			fmt.Errorf("result set of %d exceeds max scan %d", bm.GetCardinality(), e.MaxScan))
	}
	return nil
}

// Objects resolves a bitmap of aliases back to object uuids, in
// ascending alias order. Alias order follows alias assignment (freed
// aliases are reused), not object uuid order.
func (e *Evaluator) Objects(bm *roaring.Bitmap) []uuid.UUID {
	out := make([]uuid.UUID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		if id, ok := e.TagStore.Aliases().UUID(it.Next()); ok {
			out = append(out, id)
		}
	}
	return out
}
