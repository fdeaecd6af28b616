package txn

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

// Engine owns the process's set of currently open prefixes: an explicit
// handle the host creates, uses, and closes, rather than relying on any
// package-level global.
type Engine struct {
	mu       sync.Mutex
	dir      string
	prefixes map[string]*Prefix
	log      *zap.Logger
}

// NewEngine creates an engine rooted at dir, the directory holding one
// file triple (.base/.diff/.meta) per prefix name.
func NewEngine(dir string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{dir: dir, prefixes: make(map[string]*Prefix), log: log.Named("txn.engine")}
}

// Open opens (creating if absent) the named prefix in the given mode. A
// prefix already open under this engine is returned as-is; mode
// mismatches are rejected rather than silently re-opened.
func (e *Engine) Open(name string, mode Mode, opts Options) (*Prefix, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.prefixes[name]; ok {
		if p.Mode() != mode {
			return nil, dberr.New("txn.Engine.Open", dberr.KindInvalidState,
				errors.New("prefix already open under a different mode"))
		}
		return p, nil
	}

	p, err := open(name, filepath.Join(e.dir, name), mode, opts, e.log)
	if err != nil {
		return nil, err
	}
	e.prefixes[name] = p
	return p, nil
}

// Get returns a previously opened prefix, or (nil, false).
func (e *Engine) Get(name string) (*Prefix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prefixes[name]
	return p, ok
}

// Close closes and forgets the named prefix.
func (e *Engine) Close(name string) error {
	e.mu.Lock()
	p, ok := e.prefixes[name]
	if ok {
		delete(e.prefixes, name)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// CloseAll closes every open prefix, in name order.
func (e *Engine) CloseAll() error {
	e.mu.Lock()
	names := make([]string, 0, len(e.prefixes))
	for name := range e.prefixes {
		names = append(names, name)
	}
	e.mu.Unlock()
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		if err := e.Close(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openWritable returns every currently open-rw prefix, sorted by name so
// that any caller locking them all acquires the locks in a consistent
// global order (avoids ABBA deadlocks across concurrent BeginLocked
// callers).
func (e *Engine) openWritable() []*Prefix {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Prefix, 0, len(e.prefixes))
	for _, p := range e.prefixes {
		if p.Mode() == ModeOpenRW {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Snapshot pins each named prefix to the given state number. A nil or
// empty states map pins every currently open prefix to its current
// finalized state.
func (e *Engine) Snapshot(states map[string]uint64) (*Snapshot, error) {
	if len(states) == 0 {
		states = make(map[string]uint64)
		e.mu.Lock()
		for name, p := range e.prefixes {
			states[name] = p.StateNum()
		}
		e.mu.Unlock()
	}

	holds := make(map[string]func(), len(states))
	for name, state := range states {
		p, ok := e.Get(name)
		if !ok {
			for _, release := range holds {
				release()
			}
			return nil, dberr.New("txn.Engine.Snapshot", dberr.KindStateNotAvailable,
				errors.New("prefix "+name+" is not open"))
		}
		release, err := p.PinSnapshot(state)
		if err != nil {
			for _, r := range holds {
				r()
			}
			return nil, err
		}
		holds[name] = release
	}

	return &Snapshot{engine: e, states: states, holds: holds}, nil
}

// Snapshot exposes get_state_num per pinned prefix and a Close that
// releases every DP hold it took out.
type Snapshot struct {
	engine *Engine
	states map[string]uint64
	holds  map[string]func()
	mu     sync.Mutex
	closed bool
}

// GetStateNum returns the pinned state number for prefix, or (0, false)
// if the snapshot does not cover it.
func (s *Snapshot) GetStateNum(prefix string) (uint64, bool) {
	n, ok := s.states[prefix]
	return n, ok
}

// Close releases every DP hold the snapshot took. Idempotent.
func (s *Snapshot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, release := range s.holds {
		release()
	}
}

// MutationEntry records one prefix's state number after a locked
// session's commit.
type MutationEntry struct {
	Prefix   string
	StateNum uint64
}

// MutationLog accumulates the per-prefix state advances a locked session
// produced, in prefix name order (the session commits its prefixes
// concurrently).
type MutationLog struct {
	entries []MutationEntry
}

// Entries returns the log's entries, in prefix name order.
func (l *MutationLog) Entries() []MutationEntry { return append([]MutationEntry(nil), l.entries...) }

// Wait blocks until every prefix named in the log has reached (at least)
// the state number it logged, resolving each in turn against e.
func (l *MutationLog) Wait(ctx context.Context, e *Engine) error {
	for _, ent := range l.entries {
		p, ok := e.Get(ent.Prefix)
		if !ok {
			return dberr.New("txn.MutationLog.Wait", dberr.KindStateNotAvailable,
				errors.New("prefix "+ent.Prefix+" is not open"))
		}
		if err := p.AwaitState(ctx, ent.StateNum); err != nil {
			return err
		}
	}
	return nil
}
