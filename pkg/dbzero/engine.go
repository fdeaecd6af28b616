package dbzero

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dbzero-io/dbzero/internal/fastquery"
	"github.com/dbzero-io/dbzero/internal/gc0"
	"github.com/dbzero-io/dbzero/internal/layout"
	"github.com/dbzero-io/dbzero/internal/tags"
	"github.com/dbzero-io/dbzero/internal/txn"
)

// Engine is the process-wide handle a host application opens once: it
// owns the class registry, the cross-prefix reference-counting and
// reference-directory state shared by every open prefix, and the
// fast-query cache, alongside the underlying prefix transaction manager.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	txnEng  *txn.Engine
	classes *layout.Registry
	gc      *gc0.Registry
	pool    *tags.StringPool
	aliases *tags.AliasTable
	tagSt   *tags.Store
	dir     *layout.Directory
	cache   *fastquery.Cache

	prefixes map[string]*Prefix
	ranges   map[string]*tags.RangeIndex // "prefixName\x00fieldName" -> index
}

// New creates an engine rooted at cfg.Dir. log may be nil, in which case
// a no-op logger is used.
func New(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("dbzero")

	aliases := tags.NewAliasTable()
	pool := tags.NewStringPool()
	return &Engine{
		cfg:      cfg,
		log:      log,
		txnEng:   txn.NewEngine(cfg.Dir, log),
		classes:  layout.NewRegistry(),
		gc:       gc0.NewRegistry(),
		pool:     pool,
		aliases:  aliases,
		tagSt:    tags.NewStore(aliases, pool),
		dir:      layout.NewDirectory(),
		cache:    fastquery.NewCache(),
		prefixes: make(map[string]*Prefix),
		ranges:   make(map[string]*tags.RangeIndex),
	}
}

// RegisterClass adds a class descriptor built by the layout.ClassBuilder
// chain to the process-wide class registry, available to every prefix.
func (e *Engine) RegisterClass(d *layout.ClassDescriptor) {
	e.classes.Register(d)
}

// LookupClass resolves a previously registered class by (module, name).
func (e *Engine) LookupClass(module, name string) (*layout.ClassDescriptor, bool) {
	return e.classes.LookupByName(module, name)
}

// OpenPrefix opens (creating if absent) the named prefix in the given
// mode, wiring its object store to the engine's shared class registry,
// GC0 registry, string pool, tag store, and reference directory.
func (e *Engine) OpenPrefix(name string, mode txn.Mode) (*Prefix, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.prefixes[name]; ok {
		return p, nil
	}

	txnP, err := e.txnEng.Open(name, mode, e.cfg.txnOptions())
	if err != nil {
		return nil, err
	}

	store := layout.NewObjectStore(name, txnP, e.classes, e.gc, e.tagSt, e.pool, e.dir)
	p := &Prefix{eng: e, name: name, txnP: txnP, store: store}
	e.prefixes[name] = p
	return p, nil
}

// Prefix returns a previously opened prefix, or (nil, false).
func (e *Engine) Prefix(name string) (*Prefix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prefixes[name]
	return p, ok
}

// ClosePrefix closes and forgets the named prefix.
func (e *Engine) ClosePrefix(name string) error {
	e.mu.Lock()
	delete(e.prefixes, name)
	e.mu.Unlock()
	return e.txnEng.Close(name)
}

// Close closes every open prefix, in name order.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.prefixes = make(map[string]*Prefix)
	e.mu.Unlock()
	return e.txnEng.CloseAll()
}

// Snapshot pins each named prefix (or, if states is empty, every open
// prefix) to its given or current state number.
func (e *Engine) Snapshot(states map[string]uint64) (*Snapshot, error) {
	s, err := e.txnEng.Snapshot(states)
	if err != nil {
		return nil, err
	}
	return &Snapshot{eng: e, inner: s}, nil
}

// BeginLocked acquires the process-wide locked session over every
// currently open-rw prefix.
func (e *Engine) BeginLocked() (*txn.LockedSession, error) {
	return e.txnEng.BeginLocked()
}

// rangeIndex returns (creating if absent) the named range index for a
// (prefix, field) pair.
func (e *Engine) rangeIndex(prefixName, field string) *tags.RangeIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := prefixName + "\x00" + field
	idx, ok := e.ranges[key]
	if !ok {
		idx = tags.NewRangeIndex()
		e.ranges[key] = idx
	}
	return idx
}

