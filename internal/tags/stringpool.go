// Package tags implements the string pool, tag posting lists, and range
// index backing find/tag/sort queries.
package tags

import "sync"

// StringPool interns tag-key and enum strings with a per-string
// retention count; a string is present in the pool iff retained by at
// least one live tag or attribute.
type StringPool struct {
	mu      sync.Mutex
	byValue map[string]uint32 // interned value -> id
	byID    []string          // id -> value; index 0 unused as a sentinel
	refs    []uint32          // id -> retention count
	free    []uint32          // reclaimed ids available for reuse
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{
		byValue: make(map[string]uint32),
		byID:    []string{""},
		refs:    []uint32{0},
	}
}

// Intern returns s's pool id, retaining it once. A brand-new string gets
// a fresh id (reusing a reclaimed slot if one is available).
func (p *StringPool) Intern(s string) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byValue[s]; ok {
		p.refs[id]++
		return id
	}

	var id uint32
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
		p.byID[id] = s
		p.refs[id] = 1
	} else {
		id = uint32(len(p.byID))
		p.byID = append(p.byID, s)
		p.refs = append(p.refs, 1)
	}
	p.byValue[s] = id
	return id
}

// Release drops one retention on id's string, reclaiming the slot once
// its count reaches zero.
func (p *StringPool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.refs) || p.refs[id] == 0 {
		return
	}
	p.refs[id]--
	if p.refs[id] == 0 {
		delete(p.byValue, p.byID[id])
		p.byID[id] = ""
		p.free = append(p.free, id)
	}
}

// Lookup returns the string for id, or ("", false) if it is not (or no
// longer) interned.
func (p *StringPool) Lookup(id uint32) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.byID) || p.refs[id] == 0 {
		return "", false
	}
	return p.byID[id], true
}

// RefCount reports id's current retention count, for diagnostics.
func (p *StringPool) RefCount(id uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.refs) {
		return 0
	}
	return p.refs[id]
}
