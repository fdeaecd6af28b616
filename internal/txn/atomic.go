package txn

import (
	"errors"

	"github.com/dbzero-io/dbzero/internal/dberr"
)

// AtomicSection is a RAII-style scoped transaction: Close commits
// everything written since BeginAtomic; Cancel reverts the dirty cache to
// its pre-begin state and runs every cancel hook registered during the
// section (in LIFO order), undoing side effects such as newly observed
// classes.
type AtomicSection struct {
	p      *Prefix
	closed bool
}

// BeginAtomic opens a scoped transaction on p. Only one atomic section
// may be active on a prefix at a time; autocommit is suppressed for its
// duration.
func (p *Prefix) BeginAtomic() (*AtomicSection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeOpenRW {
		return nil, dberr.New("txn.BeginAtomic", dberr.KindInvalidState, errors.New("prefix is not open for writing"))
	}
	if p.atomic {
		return nil, dberr.New("txn.BeginAtomic", dberr.KindInvalidState, errors.New("an atomic section is already active"))
	}
	p.atomic = true
	p.cancelHooks = nil
	return &AtomicSection{p: p}, nil
}

// Close commits the section's accumulated writes and returns the new
// state number. Calling Close twice, or after Cancel, is a no-op.
func (s *AtomicSection) Close() (uint64, error) {
	p := s.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.closed {
		return p.store.StateNum(), nil
	}
	s.closed = true
	p.atomic = false
	if err := p.takePendingErrLocked(); err != nil {
		return 0, err
	}
	return p.commitLocked()
}

// Cancel reverts every mutation made since BeginAtomic and discards
// anything it would otherwise have committed. Calling Cancel twice, or
// after Close, is a no-op.
func (s *AtomicSection) Cancel() {
	p := s.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	p.atomic = false
	hooks := p.cancelHooks
	p.cancelHooks = nil
	p.dirty.Cancel()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
