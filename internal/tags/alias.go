package tags

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

// AliasTable maps each object uuid living in a prefix to a dense uint32
// alias and back, so posting lists can be stored as RoaringBitmap
// bitmaps rather than uuid sets. Alias 0 is reserved and never issued.
type AliasTable struct {
	mu      sync.Mutex
	toAlias map[uuid.UUID]uint32
	toUUID  []uuid.UUID
	free    []uint32
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{
		toAlias: make(map[uuid.UUID]uint32),
		toUUID:  []uuid.UUID{uuid.Nil},
	}
}

// Alias returns id's alias, assigning a fresh one (reusing a reclaimed
// slot if available) if id has not been seen before.
func (t *AliasTable) Alias(id uuid.UUID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.toAlias[id]; ok {
		return a
	}

	var a uint32
	if n := len(t.free); n > 0 {
		a = t.free[n-1]
		t.free = t.free[:n-1]
		t.toUUID[a] = id
	} else {
		a = uint32(len(t.toUUID))
		t.toUUID = append(t.toUUID, id)
	}
	t.toAlias[id] = a
	return a
}

// Lookup reports id's alias without assigning a new one.
func (t *AliasTable) Lookup(id uuid.UUID) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.toAlias[id]
	return a, ok
}

// UUID resolves an alias back to its uuid.
func (t *AliasTable) UUID(alias uint32) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if alias == 0 || int(alias) >= len(t.toUUID) {
		return uuid.Nil, false
	}
	return t.toUUID[alias], true
}

// All returns every currently assigned alias as a bitmap, the universe a
// query evaluates NOT against when no narrower restriction precedes it.
func (t *AliasTable) All() *roaring.Bitmap {
	t.mu.Lock()
	defer t.mu.Unlock()
	bm := roaring.New()
	for a := range t.toUUID {
		if a == 0 {
			continue
		}
		if t.toUUID[a] != uuid.Nil {
			bm.Add(uint32(a))
		}
	}
	return bm
}

// Release frees id's alias for reuse once the object has been reclaimed.
// Callers must ensure no posting list still references the alias.
func (t *AliasTable) Release(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.toAlias[id]
	if !ok {
		return
	}
	delete(t.toAlias, id)
	t.toUUID[a] = uuid.Nil
	t.free = append(t.free, a)
}
