package fastquery

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dbzero-io/dbzero/internal/query"
	"github.com/dbzero-io/dbzero/internal/tags"
)

// nearestCompareCutoff is the maximum query.Compare distance a prior
// cached entry may be from a new query's result set and still be reused
// as the delta evaluation's baseline, rather than forcing a full
// re-evaluation.
const nearestCompareCutoff = 0.33

// Bucket is one group's current per-op aggregate state.
type Bucket map[string]any

// Entry is one cached query evaluation: the state it was computed at,
// its serialized query bytes (so a cache dump can be replayed without
// the live Node tree), the evaluated result set, and the grouped
// aggregate state derived from it.
type Entry struct {
	StateNum   uint64
	QueryBytes []byte
	ResultSet  *roaring.Bitmap
	Groups     map[tags.Key]Bucket
}

// Cache is the per-FQ-prefix signature -> uuid -> Entry map. It holds no
// reference to any prefix's live transaction state; the caller supplies
// a state number each call and the cache only ever stores finalized
// ones.
type Cache struct {
	mu  sync.Mutex
	sig map[query.Signature]map[query.ContentUUID]*Entry
}

// NewCache returns an empty fast-query cache.
func NewCache() *Cache {
	return &Cache{sig: make(map[query.Signature]map[query.ContentUUID]*Entry)}
}

// lookup resolves a cache hit for (sig, id): an exact uuid match, or
// failing that the nearest same-signature entry within the compare
// cutoff. Returns (nil, false) on a full miss.
func (c *Cache) lookup(sig query.Signature, id query.ContentUUID, result *roaring.Bitmap) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySig, ok := c.sig[sig]
	if !ok {
		return nil, false
	}
	if e, ok := bySig[id]; ok {
		return e, true
	}

	var best *Entry
	bestDist := 1.0
	for _, e := range bySig {
		d := query.Compare(e.ResultSet, result)
		if d < bestDist {
			bestDist = d
			best = e
		}
	}
	if best != nil && bestDist <= nearestCompareCutoff {
		return best, true
	}
	return nil, false
}

// store installs (or replaces) the cache entry for (sig, id). Callers
// must only pass a finalized state number: the cache is never updated
// mid-transaction.
func (c *Cache) store(sig query.Signature, id query.ContentUUID, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySig, ok := c.sig[sig]
	if !ok {
		bySig = make(map[query.ContentUUID]*Entry)
		c.sig[sig] = bySig
	}
	bySig[id] = e
}
