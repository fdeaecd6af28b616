package dbzero

import "github.com/dbzero-io/dbzero/internal/fastquery"

// GroupFunc, Op, and Bucket are re-exported so a host application can
// build fast-query group-by calls without importing internal/fastquery
// directly.
type (
	GroupFunc = fastquery.GroupFunc
	Op        = fastquery.Op
	Bucket    = fastquery.Bucket
)

// CountOp and SumOp are the stock aggregate ops, re-exported for the
// same reason as the types above.
var (
	CountOp = fastquery.CountOp
	SumOp   = fastquery.SumOp
)

// GroupBy evaluates q against the prefix's current tag state, returning
// its grouped aggregate state from the engine's shared fast-query cache.
// stateNum must be the prefix's last finalized state number (see
// StateNum) — GroupBy must never be called mid-transaction, since its
// result is memoized under that number for the next caller to build on.
func (p *Prefix) GroupBy(stateNum uint64, q *Query, groupFunc GroupFunc, ops map[string]Op) (map[TagKey]Bucket, error) {
	return fastquery.GroupBy(p.eng.cache, p.Evaluator(), stateNum, q, groupFunc, ops)
}
