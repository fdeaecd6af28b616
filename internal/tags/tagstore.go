package tags

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

// KeyKind distinguishes the four tag-key shapes supported: interned
// strings, enum values, classes (acting as type tags), and memo objects
// used "as-tag".
type KeyKind uint8

const (
	KeyString KeyKind = iota
	KeyEnum
	KeyClass
	KeyObject
)

// Key identifies one tag's posting list. It is a plain comparable struct
// so it can be used directly as a map key.
type Key struct {
	Kind      KeyKind
	StringID  uint32    // valid when Kind == KeyString
	ClassUUID uuid.UUID // valid when Kind == KeyEnum or KeyClass
	Ordinal   int32     // valid when Kind == KeyEnum
	ObjectID  uuid.UUID // valid when Kind == KeyObject
}

// StringKey builds a string tag key, interning s.
func StringKey(pool *StringPool, s string) Key {
	return Key{Kind: KeyString, StringID: pool.Intern(s)}
}

// ClassKey builds a type-tag key for a class.
func ClassKey(classUUID uuid.UUID) Key { return Key{Kind: KeyClass, ClassUUID: classUUID} }

// EnumKey builds a tag key for one enum value.
func EnumKey(classUUID uuid.UUID, ordinal int32) Key {
	return Key{Kind: KeyEnum, ClassUUID: classUUID, Ordinal: ordinal}
}

// ObjectKey builds an as-tag key for a memo object used as a tag.
func ObjectKey(id uuid.UUID) Key { return Key{Kind: KeyObject, ObjectID: id} }

// Store holds one prefix's tag posting lists: per tag key, an ordered
// (via the alias table's insertion order, not a semantic order) set of
// object aliases.
type Store struct {
	mu       sync.Mutex
	postings map[Key]*roaring.Bitmap
	aliases  *AliasTable
	pool     *StringPool
}

// NewStore returns an empty tag store sharing the given alias table and
// string pool with the rest of the prefix.
func NewStore(aliases *AliasTable, pool *StringPool) *Store {
	return &Store{postings: make(map[Key]*roaring.Bitmap), aliases: aliases, pool: pool}
}

// Add records that obj carries key. Every object carries at least its
// class's KeyClass tag, added automatically on creation.
func (s *Store) Add(key Key, obj uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.postings[key]
	if !ok {
		bm = roaring.New()
		s.postings[key] = bm
	}
	bm.Add(s.aliases.Alias(obj))
}

// Remove drops key from obj's tag set. If key is a string tag and this
// was its last posting, the string pool retention is released and the
// key's empty bitmap is dropped.
func (s *Store) Remove(key Key, obj uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.postings[key]
	if !ok {
		return
	}
	alias, ok := s.aliases.Lookup(obj)
	if !ok {
		return
	}
	bm.Remove(alias)
	if bm.IsEmpty() {
		delete(s.postings, key)
		if key.Kind == KeyString {
			s.pool.Release(key.StringID)
		}
	}
}

// Find returns a snapshot copy of key's posting list (empty if key has
// no postings), as object uuids in ascending alias order.
func (s *Store) Find(key Key) []uuid.UUID {
	s.mu.Lock()
	bm, ok := s.postings[key]
	var clone *roaring.Bitmap
	if ok {
		clone = bm.Clone()
	}
	s.mu.Unlock()
	if clone == nil {
		return nil
	}
	out := make([]uuid.UUID, 0, clone.GetCardinality())
	it := clone.Iterator()
	for it.HasNext() {
		if id, ok := s.aliases.UUID(it.Next()); ok {
			out = append(out, id)
		}
	}
	return out
}

// Bitmap returns a snapshot clone of key's raw alias bitmap, for the
// query engine's merge-intersection/merge-union evaluation.
func (s *Store) Bitmap(key Key) *roaring.Bitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.postings[key]
	if !ok {
		return roaring.New()
	}
	return bm.Clone()
}

// Aliases exposes the shared alias table, for callers translating
// between uuids and the bitmap domain.
func (s *Store) Aliases() *AliasTable { return s.aliases }

// Has reports whether obj carries key.
func (s *Store) Has(key Key, obj uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.postings[key]
	if !ok {
		return false
	}
	alias, ok := s.aliases.Lookup(obj)
	if !ok {
		return false
	}
	return bm.Contains(alias)
}
