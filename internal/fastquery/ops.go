// Package fastquery implements the incremental group-by cache: a
// signature-keyed map from evaluated query result sets to per-group
// aggregate state, updated by delta (removed/added rows) rather than by
// full re-evaluation whenever a nearby cached entry is found.
package fastquery

import (
	"github.com/google/uuid"
)

// Op folds one group's removed and added rows into a new aggregate
// state. state is nil the first time a bucket is touched; op(nil, _, _)
// must produce that bucket's initial state.
type Op func(state any, removed, added []uuid.UUID) any

// CountOp tracks a running count of live rows, incrementing for every
// added row and decrementing for every removed row.
func CountOp(state any, removed, added []uuid.UUID) any {
	n, _ := state.(int)
	n += len(added) - len(removed)
	return n
}

// SumOp builds a running-sum op: valueFunc resolves the numeric
// contribution of a single object. Added rows contribute positively,
// removed rows negatively.
func SumOp(valueFunc func(uuid.UUID) float64) Op {
	return func(state any, removed, added []uuid.UUID) any {
		sum, _ := state.(float64)
		for _, o := range added {
			sum += valueFunc(o)
		}
		for _, o := range removed {
			sum -= valueFunc(o)
		}
		return sum
	}
}
