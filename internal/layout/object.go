package layout

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/gc0"
	"github.com/dbzero-io/dbzero/internal/pagestore"
	"github.com/dbzero-io/dbzero/internal/slab"
	"github.com/dbzero-io/dbzero/internal/tags"
	"github.com/dbzero-io/dbzero/internal/txn"
)

// prefixNamespace derives a stable uuid for a prefix name, used both as
// the singleton-derivation input and as the object-directory's notion of
// "where does this object live".
var prefixNamespace = uuid.MustParse("1b9f9f0c-6b0a-4a0a-9a1b-8f6d0c2e7a3d")

// PrefixUUID derives the deterministic uuid identifying a prefix by name.
func PrefixUUID(prefixName string) uuid.UUID {
	return uuid.NewSHA1(prefixNamespace, []byte(prefixName))
}

// Directory tracks which prefix currently owns each live object, across
// every prefix open in the engine. It is the authority cross-prefix
// reference assignment consults.
type Directory struct {
	mu    sync.Mutex
	owner map[uuid.UUID]string
}

// NewDirectory returns an empty object directory.
func NewDirectory() *Directory {
	return &Directory{owner: make(map[uuid.UUID]string)}
}

func (d *Directory) register(id uuid.UUID, prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owner[id] = prefix
}

func (d *Directory) forget(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owner, id)
}

// Owner reports which prefix currently owns id.
func (d *Directory) Owner(id uuid.UUID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.owner[id]
	return p, ok
}

// ObjectStore is the per-prefix object layout engine: it owns every
// memo object's record storage, drives gc0 refcounting on assignment,
// and keeps the shared tag store's type tags current.
type ObjectStore struct {
	mu         sync.Mutex
	prefixName string
	prefix     *txn.Prefix
	classes    *Registry
	gc         *gc0.Registry
	tagStore   *tags.Store
	strings    *tags.StringPool
	dir        *Directory

	records map[uuid.UUID]*Record
	classOf map[uuid.UUID]uuid.UUID
	dpOf    map[uuid.UUID]slab.DP

	// fieldNameIDs caches each dynamic field name's string-pool id,
	// interned once on first use and never released: a field name is a
	// schema string, not instance data, so it lives as long as the
	// object store does rather than being retention-counted per write.
	fieldNameIDs map[string]uint32
}

// NewObjectStore binds an object layout engine to one open prefix. gc,
// tagStore, strings and dir are shared across every prefix in the
// engine; classes is shared process-wide.
func NewObjectStore(prefixName string, prefix *txn.Prefix, classes *Registry, gc *gc0.Registry, tagStore *tags.Store, strings *tags.StringPool, dir *Directory) *ObjectStore {
	s := &ObjectStore{
		prefixName:   prefixName,
		prefix:       prefix,
		classes:      classes,
		gc:           gc,
		tagStore:     tagStore,
		strings:      strings,
		dir:          dir,
		records:      make(map[uuid.UUID]*Record),
		classOf:      make(map[uuid.UUID]uuid.UUID),
		dpOf:         make(map[uuid.UUID]slab.DP),
		fieldNameIDs: make(map[string]uint32),
	}
	gc.SetChildrenFunc(s.children)
	return s
}

// children enumerates the strong references id's record currently holds,
// for gc0's cascading reclaim walk.
func (s *ObjectStore) children(id uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	collect := func(v Value) {
		if v.Kind == VRef {
			out = append(out, v.Ref)
		}
	}
	for _, v := range rec.Pos {
		collect(v)
	}
	for _, v := range rec.Indexed {
		collect(v)
	}
	for _, v := range rec.Dynamic {
		collect(v)
	}
	return out
}

const initialRecordDPSize = 512

// Create allocates a new instance of class, pinning it in this prefix.
// A singleton class derives its uuid deterministically from (class,
// prefix) so re-creating it is idempotent; every other class gets a
// fresh random uuid.
func (s *ObjectStore) Create(class *ClassDescriptor) (uuid.UUID, error) {
	var id uuid.UUID
	if class.Singleton {
		id = gc0.SingletonUUID(class.UUID, PrefixUUID(s.prefixName))
	} else {
		id = uuid.New()
	}

	run, err := s.prefix.Allocate(initialRecordDPSize)
	if err != nil {
		return uuid.Nil, fmt.Errorf("layout: allocate object storage: %w", err)
	}
	dp := run.DPs()[0]

	rec := NewRecord(class.nextPosSlot)

	s.mu.Lock()
	s.records[id] = rec
	s.classOf[id] = class.UUID
	s.dpOf[id] = dp
	s.mu.Unlock()

	s.gc.Register(id)
	s.dir.register(id, s.prefixName)
	s.tagStore.Add(tags.ClassKey(class.UUID), id)

	if err := s.persist(id, dp, rec); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns the live in-memory record for id, and its class uuid.
func (s *ObjectStore) Get(id uuid.UUID) (*Record, uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, uuid.Nil, false
	}
	return rec, s.classOf[id], true
}

// SetField writes v into id's f field, updating gc0 strong-reference
// counts and string-pool retention for whatever value it replaces.
// Assigning a strong reference (Value.Kind == VRef) to an object owned
// by a different prefix is rejected; assigning a weak proxy (VWeakRef)
// is always allowed, since a weak reference never anchors ownership.
func (s *ObjectStore) SetField(id uuid.UUID, f FieldDescriptor, v Value) error {
	if v.Kind == VRef {
		if owner, ok := s.dir.Owner(v.Ref); ok && owner != s.prefixName {
			return dberr.New("layout.SetField", dberr.KindCrossPrefixRef,
				fmt.Errorf("object %s lives on prefix %q, not %q", v.Ref, owner, s.prefixName))
		}
	}

	s.mu.Lock()
	rec, ok := s.records[id]
	dp, dpOK := s.dpOf[id]
	s.mu.Unlock()
	if !ok || !dpOK {
		return dberr.New("layout.SetField", dberr.KindInvalidAddress, errors.New("object not found in this prefix"))
	}

	prior := rec.Set(f, v)

	if prior.Kind == VRef && prior.Ref != v.Ref {
		s.gc.DecStrong(prior.Ref)
	}
	if v.Kind == VRef && prior.Ref != v.Ref {
		s.gc.IncStrong(v.Ref)
	}
	if prior.Kind == VString && (v.Kind != VString || v.StrID != prior.StrID) {
		s.strings.Release(prior.StrID)
	}
	if f.Shape == ShapeDynamic {
		s.internFieldName(f.Name)
	}

	return s.persist(id, dp, rec)
}

// internFieldName interns name's string-pool id once, the first time any
// dynamic field of that name is written, and caches it for every later
// encode. Unlike a field's string-typed value, the field name itself is
// schema metadata: it is never released, since record encoding consults
// it on every persist regardless of how many objects currently hold it.
func (s *ObjectStore) internFieldName(name string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.fieldNameIDs[name]; ok {
		return id
	}
	id := s.strings.Intern(name)
	s.fieldNameIDs[name] = id
	return id
}

// AddTag records that id carries key, making it reachable through
// Tag(key)/NotTag(key) query nodes and SplitBy(key) grouping. The
// automatic class type tag is managed internally by Create/Delete and
// should not be added or removed through this call.
func (s *ObjectStore) AddTag(id uuid.UUID, key tags.Key) error {
	s.mu.Lock()
	_, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return dberr.New("layout.AddTag", dberr.KindInvalidAddress, errors.New("object not found in this prefix"))
	}
	s.tagStore.Add(key, id)
	return nil
}

// RemoveTag drops key from id's tag set. Removing a tag id never held
// is a no-op, matching tags.Store.Remove's own tolerance.
func (s *ObjectStore) RemoveTag(id uuid.UUID, key tags.Key) error {
	s.mu.Lock()
	_, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return dberr.New("layout.RemoveTag", dberr.KindInvalidAddress, errors.New("object not found in this prefix"))
	}
	s.tagStore.Remove(key, id)
	return nil
}

// Delete removes id: every strong reference it holds is released
// (cascading through gc0), every retained string it holds is released,
// its type tag is removed, and its directory entry is forgotten.
// Physical DP reclamation is left to a future compaction pass; deleting
// an object retires its bookkeeping immediately.
func (s *ObjectStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	classID := s.classOf[id]
	s.mu.Unlock()
	if !ok {
		return dberr.New("layout.Delete", dberr.KindInvalidAddress, errors.New("object not found in this prefix"))
	}

	release := func(v Value) {
		switch v.Kind {
		case VRef:
			s.gc.DecStrong(v.Ref)
		case VString:
			s.strings.Release(v.StrID)
		}
	}
	for _, v := range rec.Pos {
		release(v)
	}
	for _, v := range rec.Indexed {
		release(v)
	}
	for _, v := range rec.Dynamic {
		release(v)
	}

	s.tagStore.Remove(tags.ClassKey(classID), id)
	s.dir.forget(id)

	s.mu.Lock()
	delete(s.records, id)
	delete(s.classOf, id)
	delete(s.dpOf, id)
	s.mu.Unlock()
	return nil
}

func (s *ObjectStore) persist(id uuid.UUID, dp slab.DP, rec *Record) error {
	encoded := Encode(rec, s.internFieldName)
	_, err := s.prefix.Write(dp, pagestore.ByteRange{Offset: 0, Data: encoded})
	if err != nil {
		return fmt.Errorf("layout: persist object %s: %w", id, err)
	}
	return nil
}

// Load decodes id's record back from its DP image, for reopening a
// prefix whose in-memory object cache was lost. dp and classID must be
// recovered from the class's own record directory (a reserved-slab
// structure outside this package's scope); callers that do not maintain
// one should treat objects as live only within the process that created
// them. recordedVersion is the schema version the record was last
// written at; if it lags the registered class's current version, its
// registered migrations run before the record is installed.
func (s *ObjectStore) Load(id uuid.UUID, classID uuid.UUID, dp slab.DP, recordedVersion int) error {
	raw, err := s.prefix.Read(dp)
	if err != nil {
		return fmt.Errorf("layout: load object %s: %w", id, err)
	}
	rec, err := Decode(raw, func(poolID uint32) (string, bool) { return s.strings.Lookup(poolID) })
	if err != nil {
		return fmt.Errorf("layout: decode object %s: %w", id, err)
	}
	if class, ok := s.classes.Lookup(classID); ok {
		rec = class.ApplyMigrations(recordedVersion, rec)
	}
	s.mu.Lock()
	s.records[id] = rec
	s.classOf[id] = classID
	s.dpOf[id] = dp
	s.mu.Unlock()
	s.gc.Register(id)
	s.dir.register(id, s.prefixName)
	return nil
}
