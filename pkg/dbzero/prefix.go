package dbzero

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/layout"
	"github.com/dbzero-io/dbzero/internal/query"
	"github.com/dbzero-io/dbzero/internal/tags"
	"github.com/dbzero-io/dbzero/internal/txn"
)

// Prefix is one named, independently persisted object store opened
// through an Engine. It wraps the underlying transaction-manager prefix
// and object layout engine, exposing object creation/lookup and a query
// evaluator bound to this prefix's live tag state.
type Prefix struct {
	eng   *Engine
	name  string
	txnP  *txn.Prefix
	store *layout.ObjectStore
}

// Name returns the prefix's registered name.
func (p *Prefix) Name() string { return p.name }

// StateNum returns the prefix's last finalized state number.
func (p *Prefix) StateNum() uint64 { return p.txnP.StateNum() }

// Commit flushes every pending write, returning the new state number.
func (p *Prefix) Commit() (uint64, error) { return p.txnP.Commit() }

// AwaitState blocks until the prefix's finalized state reaches target.
func (p *Prefix) AwaitState(ctx context.Context, target uint64) error {
	return p.txnP.AwaitState(ctx, target)
}

// Close closes the prefix's backing files.
func (p *Prefix) Close() error { return p.eng.ClosePrefix(p.name) }

// New creates a fresh instance of class, pinned to this prefix, and
// returns a handle to it.
func (p *Prefix) New(class *layout.ClassDescriptor) (*Object, error) {
	if class.ScopedPrefix != "" && class.ScopedPrefix != p.name {
		return nil, dberr.New("dbzero.Prefix.New", dberr.KindInvalidState,
			fmt.Errorf("class %s is scoped to prefix %q, not %q", class.Name, class.ScopedPrefix, p.name))
	}
	id, err := p.store.Create(class)
	if err != nil {
		return nil, err
	}
	return &Object{id: id, class: class, prefix: p}, nil
}

// Object resolves a previously created id back to a handle, or
// (nil, false) if it is not live in this prefix.
func (p *Prefix) Object(id uuid.UUID) (*Object, bool) {
	_, classID, ok := p.store.Get(id)
	if !ok {
		return nil, false
	}
	class, ok := p.eng.classes.Lookup(classID)
	if !ok {
		return nil, false
	}
	return &Object{id: id, class: class, prefix: p}, true
}

// Delete releases id's references and string retentions and removes it
// from the prefix.
func (p *Prefix) Delete(id uuid.UUID) error { return p.store.Delete(id) }

// StringTag interns s in the engine's shared string pool and returns the
// tag key identifying it, for Object.AddTag/RemoveTag and Tag/NotTag
// query nodes built over a plain string label.
func (p *Prefix) StringTag(s string) TagKey {
	return tags.StringKey(p.eng.pool, s)
}

// RangeIndex returns (creating if absent) the named range index scoped
// to this prefix, for a host binding that maintains sorted field values
// outside the object store's own pos_vt/index_vt storage.
func (p *Prefix) RangeIndex(field string) *tags.RangeIndex {
	return p.eng.rangeIndex(p.name, field)
}

// Evaluator returns a query.Evaluator bound to this prefix's shared tag
// store, the engine's class descendant closure, and every range index
// registered against this prefix so far.
func (p *Prefix) Evaluator() *query.Evaluator {
	ranges := make(map[string]*tags.RangeIndex)
	p.eng.mu.Lock()
	prefix := p.name + "\x00"
	for key, idx := range p.eng.ranges {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			ranges[key[len(prefix):]] = idx
		}
	}
	p.eng.mu.Unlock()

	return &query.Evaluator{
		TagStore:    p.eng.tagSt,
		Descendants: p.eng.classes.Descendants,
		Ranges:      ranges,
	}
}

// Run evaluates q against this prefix's current tag state.
func (p *Prefix) Run(q *query.Query) ([]uuid.UUID, []query.Pair, error) {
	return q.Run(p.Evaluator())
}
