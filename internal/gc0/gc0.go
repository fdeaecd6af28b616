// Package gc0 implements the per-prefix reference-counting registry
// ("GC0"): a uuid -> {strong, snapshot, external} hold table, singleton
// uuid derivation, and weak proxies. There is no cycle collector; cyclic
// structures must be broken by explicit deletion or by crossing prefixes
// through a weak proxy.
package gc0

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

// Counts is one object's hold tally. An object is reclaimable iff every
// field is zero.
type Counts struct {
	Strong        uint32
	SnapshotHolds uint32
	ExternalHolds uint32
}

func (c Counts) zero() bool { return c.Strong == 0 && c.SnapshotHolds == 0 && c.ExternalHolds == 0 }

// ChildrenFunc returns the set of objects id strongly references, used to
// cascade a reclaim through the object graph. Set by the layout engine,
// which is the only package that knows how to read a class's field
// layout.
type ChildrenFunc func(id uuid.UUID) []uuid.UUID

// Registry is one prefix's GC0 table.
type Registry struct {
	mu       sync.Mutex
	counts   map[uuid.UUID]*Counts
	children ChildrenFunc
	weak     map[uuid.UUID][]*WeakProxy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counts: make(map[uuid.UUID]*Counts),
		weak:   make(map[uuid.UUID][]*WeakProxy),
	}
}

// SetChildrenFunc installs the callback used to cascade a reclaim to an
// object's strongly-referenced children.
func (r *Registry) SetChildrenFunc(f ChildrenFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children = f
}

// Register adds id to the table with all-zero counts if it is not
// already present. Call this when an object is first created, before any
// hold is taken on it.
func (r *Registry) Register(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(id)
}

func (r *Registry) register(id uuid.UUID) *Counts {
	c, ok := r.counts[id]
	if !ok {
		c = &Counts{}
		r.counts[id] = c
	}
	return c
}

// Get returns id's current counts, or (zero, false) if it is not tracked
// (either never created or already reclaimed).
func (r *Registry) Get(id uuid.UUID) (Counts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok {
		return Counts{}, false
	}
	return *c, true
}

// IncStrong records a new in-prefix field reference or tag retention
// against id.
func (r *Registry) IncStrong(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(id).Strong++
}

// IncSnapshot records a new snapshot hold against id.
func (r *Registry) IncSnapshot(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(id).SnapshotHolds++
}

// IncExternal records a new host-language cache hold against id.
func (r *Registry) IncExternal(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(id).ExternalHolds++
}

// DecStrong removes one in-prefix field reference or tag retention from
// id. If id's counts reach zero, id (and any children whose own counts
// fall to zero as a result) are removed from the table and returned, in
// reclaim order.
func (r *Registry) DecStrong(id uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok || c.Strong == 0 {
		return nil
	}
	c.Strong--
	return r.maybeReclaim(id, c)
}

// DecSnapshot releases one snapshot hold on id.
func (r *Registry) DecSnapshot(id uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok || c.SnapshotHolds == 0 {
		return nil
	}
	c.SnapshotHolds--
	return r.maybeReclaim(id, c)
}

// DecExternal releases one host-cache hold on id.
func (r *Registry) DecExternal(id uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[id]
	if !ok || c.ExternalHolds == 0 {
		return nil
	}
	c.ExternalHolds--
	return r.maybeReclaim(id, c)
}

func (r *Registry) maybeReclaim(id uuid.UUID, c *Counts) []uuid.UUID {
	if !c.zero() {
		return nil
	}
	return r.release(id)
}

// release removes id and cascades the reclaim through its strong
// children, stopping whenever a child's counts do not reach zero (a
// shared or cyclically-held child survives). Callers must hold r.mu.
func (r *Registry) release(id uuid.UUID) []uuid.UUID {
	var reclaimed []uuid.UUID
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, ok := r.counts[cur]
		if !ok || !c.zero() {
			continue
		}
		delete(r.counts, cur)
		reclaimed = append(reclaimed, cur)
		r.expireWeak(cur)

		if r.children == nil {
			continue
		}
		for _, child := range r.children(cur) {
			cc, ok := r.counts[child]
			if !ok || cc.Strong == 0 {
				continue
			}
			cc.Strong--
			if cc.zero() {
				queue = append(queue, child)
			}
		}
	}
	return reclaimed
}

// SingletonUUID derives the deterministic uuid of the one instance of
// class classID living on prefix prefixID, per the "exactly one instance
// per class per prefix" rule.
func SingletonUUID(classID, prefixID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(classID, prefixID[:])
}

// WeakProxy is a cross-prefix, non-refcounted pointer. Its target uuid
// remains readable after the target is reclaimed; only resolving through
// it fails once expired.
type WeakProxy struct {
	mu      sync.Mutex
	target  uuid.UUID
	expired bool
}

// NewWeakProxy creates a proxy pointing at target and registers it with
// r so a future reclaim of target marks it expired.
func NewWeakProxy(r *Registry, target uuid.UUID) *WeakProxy {
	p := &WeakProxy{target: target}
	r.mu.Lock()
	r.weak[target] = append(r.weak[target], p)
	r.mu.Unlock()
	return p
}

// TargetUUID returns the proxy's target uuid, valid even after expiry.
func (p *WeakProxy) TargetUUID() uuid.UUID { return p.target }

// Expired reports whether the proxy's target has been reclaimed.
func (p *WeakProxy) Expired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expired
}

// Resolve returns the target uuid, or ExpiredReference if the target has
// since been reclaimed.
func (p *WeakProxy) Resolve() (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expired {
		return p.target, dberr.New("gc0.WeakProxy.Resolve", dberr.KindExpiredReference,
			errors.New("weak proxy target has been reclaimed"))
	}
	return p.target, nil
}

func (r *Registry) expireWeak(id uuid.UUID) {
	for _, w := range r.weak[id] {
		w.mu.Lock()
		w.expired = true
		w.mu.Unlock()
	}
	delete(r.weak, id)
}
