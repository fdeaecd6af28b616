package pagestore

import (
	"github.com/dbzero-io/dbzero/internal/slab"
)

// ByteRange is a single updated span within a DP, used both to decide
// whether a diff record or a full base page should be written and, when a
// diff record is chosen, as the payload itself.
type ByteRange struct {
	Offset int
	Data   []byte
}

// dirtyPage holds a DP's pre-image and current image for one open
// transaction. cow is snapshotted lazily, at the first write the
// transaction makes to this DP, and is what a cancel() reverts to.
type dirtyPage struct {
	current []byte // image mutations are applied to
	cow     []byte // copy-on-write pre-image, set on first write (nil for a fresh DP)
	touched []ByteRange
}

// DirtyCache is the set of DPs mutated by the active transaction, pending
// commit. It never touches the file directly; Store.Commit drains it.
type DirtyCache struct {
	pages map[slab.DP]*dirtyPage
}

// NewDirtyCache returns an empty dirty cache.
func NewDirtyCache() *DirtyCache {
	return &DirtyCache{pages: make(map[slab.DP]*dirtyPage)}
}

// Len reports how many DPs are currently dirty.
func (c *DirtyCache) Len() int { return len(c.pages) }

// Touch records a write to dp starting at offset, given the DP's current
// on-disk (or already-dirty) image. baseImage is nil for a DP that has no
// prior committed image (a fresh allocation): such a page always commits
// as a full base-page write, never a diff. It returns the page's mutable
// current image for the caller to write into.
func (c *DirtyCache) Touch(dp slab.DP, baseImage []byte, rng ByteRange) []byte {
	p, ok := c.pages[dp]
	if !ok {
		p = &dirtyPage{}
		if baseImage != nil {
			p.current = append([]byte(nil), baseImage...)
			p.cow = append([]byte(nil), baseImage...)
		}
		c.pages[dp] = p
	}
	if rng.Offset+len(rng.Data) > len(p.current) {
		grown := make([]byte, rng.Offset+len(rng.Data))
		copy(grown, p.current)
		p.current = grown
	}
	copy(p.current[rng.Offset:], rng.Data)
	p.touched = append(p.touched, rng)
	return p.current
}

// Current returns the in-flight image of dp, or (nil, false) if it is not
// dirty.
func (c *DirtyCache) Current(dp slab.DP) ([]byte, bool) {
	p, ok := c.pages[dp]
	if !ok {
		return nil, false
	}
	return p.current, true
}

// Dirty enumerates the DPs pending commit, in a stable order (sorted by
// slab then index) so commit output is deterministic.
func (c *DirtyCache) Dirty() []slab.DP {
	out := make([]slab.DP, 0, len(c.pages))
	for dp := range c.pages {
		out = append(out, dp)
	}
	sortDPs(out)
	return out
}

func sortDPs(dps []slab.DP) {
	for i := 1; i < len(dps); i++ {
		for j := i; j > 0; j-- {
			a, b := dps[j-1], dps[j]
			if a.Slab < b.Slab || (a.Slab == b.Slab && a.Index <= b.Index) {
				break
			}
			dps[j-1], dps[j] = dps[j], dps[j-1]
		}
	}
}

// Reset discards every dirty page, reverting the cache to empty. Used both
// after a successful commit (pages are now clean, base == current) and on
// cancel (current reverts to cow).
func (c *DirtyCache) Reset() {
	c.pages = make(map[slab.DP]*dirtyPage)
}

// Cancel reverts every dirty page to its cow pre-image and clears the
// cache, implementing atomic-section rollback.
func (c *DirtyCache) Cancel() {
	c.Reset()
}

// Plan builds the CommitPlan Store.Commit expects: each dirty DP's fully
// materialized current image, paired with its cow pre-image so the store
// can decide between a diff record and a full base-page rewrite.
func (c *DirtyCache) Plan() CommitPlan {
	plan := CommitPlan{
		Pages: make(map[slab.DP][]byte, len(c.pages)),
		Prior: make(map[slab.DP][]byte, len(c.pages)),
	}
	for dp, p := range c.pages {
		plan.Pages[dp] = p.current
		plan.Prior[dp] = p.cow
	}
	return plan
}
