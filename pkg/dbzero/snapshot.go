package dbzero

import "github.com/dbzero-io/dbzero/internal/txn"

// Snapshot pins a set of prefixes to fixed state numbers, reported by
// GetStateNum. It has no read methods of its own: reads, queries and
// group-bys made through a Prefix observe the prefix's current state,
// not the pinned one.
type Snapshot struct {
	eng   *Engine
	inner *txn.Snapshot
}

// GetStateNum returns the pinned state number for prefix, or (0, false)
// if the snapshot does not cover it.
func (s *Snapshot) GetStateNum(prefix string) (uint64, bool) {
	return s.inner.GetStateNum(prefix)
}

// Close releases every page-store hold the snapshot took. Idempotent.
func (s *Snapshot) Close() { s.inner.Close() }
