package txn

import (
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

// LockedSession is a per-process exclusive hold over every prefix that
// was open for writing at the moment BeginLocked was called. Multiple
// atomic sections may begin and end against individual prefixes while a
// locked session is held; autocommit is suppressed on every locked
// prefix until Close.
type LockedSession struct {
	engine  *Engine
	prefixes []*Prefix
	closed  bool
}

// BeginLocked acquires the per-process lock. It fails if any currently
// open-rw prefix already has a locked session held against it (a second
// concurrent BeginLocked call, or a prefix someone forgot to release).
func (e *Engine) BeginLocked() (*LockedSession, error) {
	prefixes := e.openWritable()

	locked := make([]*Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		p.mu.Lock()
		if p.locked {
			p.mu.Unlock()
			for _, q := range locked {
				q.mu.Lock()
				q.locked = false
				q.mu.Unlock()
			}
			return nil, dberr.New("txn.Engine.BeginLocked", dberr.KindInvalidState,
				errors.New("prefix "+p.name+" already has a locked session"))
		}
		p.locked = true
		p.mu.Unlock()
		locked = append(locked, p)
	}

	return &LockedSession{engine: e, prefixes: locked}, nil
}

// Close commits every held prefix (concurrently; each prefix still
// serializes its own commit under its own mutex, and a clean prefix's
// commit is a no-op), releases the process-wide lock, and returns the
// resulting mutation log: one entry per held prefix, in prefix name
// order.
func (s *LockedSession) Close() (*MutationLog, error) {
	if s.closed {
		return &MutationLog{}, nil
	}
	s.closed = true

	log := &MutationLog{}
	stateNums := make([]uint64, len(s.prefixes))

	var g errgroup.Group
	for i, p := range s.prefixes {
		i, p := i, p
		g.Go(func() error {
			n, err := p.Commit()
			if err != nil {
				return err
			}
			stateNums[i] = n
			return nil
		})
	}
	err := g.Wait()

	for _, p := range s.prefixes {
		p.mu.Lock()
		p.locked = false
		p.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}

	for i, p := range s.prefixes {
		log.entries = append(log.entries, MutationEntry{Prefix: p.name, StateNum: stateNums[i]})
	}
	return log, nil
}

// Cancel releases the process-wide lock without committing. Any prefix
// still dirty keeps its uncommitted mutations pending for the next
// commit or autocommit tick; a cancelled locked section propagates no
// mutation log.
func (s *LockedSession) Cancel() {
	if s.closed {
		return
	}
	s.closed = true
	for _, p := range s.prefixes {
		p.mu.Lock()
		p.locked = false
		p.mu.Unlock()
	}
}
