// Package txn implements the prefix transaction manager: the per-prefix
// state machine, commit protocol wiring between the slab allocator and
// the page store, autocommit, atomic/locked sessions, snapshots, and the
// await_prefix_state waiter registry.
package txn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/pagestore"
	"github.com/dbzero-io/dbzero/internal/slab"
)

// Mode is a prefix's coarse open mode.
type Mode int

const (
	ModeClosed Mode = iota
	ModeOpenRead
	ModeOpenRW
)

// Options configures a prefix at open time, mirroring the host-provided
// config keys: autocommit, autocommit_interval, slab_size, and the page
// store's dp/meta-io sizing.
type Options struct {
	SlabSize           int
	DPSize             int
	MetaIOStepSize     int
	Autocommit         bool
	AutocommitInterval time.Duration
}

// DefaultOptions returns sensible defaults: autocommit enabled at a
// 250ms interval.
func DefaultOptions() Options {
	return Options{
		SlabSize:           slab.DefaultSlabSize,
		DPSize:             slab.DefaultDPSize,
		MetaIOStepSize:     4096,
		Autocommit:         true,
		AutocommitInterval: 250 * time.Millisecond,
	}
}

// Prefix is one named, independently persisted object store: a slab
// allocator, a dirty cache, and the durable page store backing it,
// guarded by a single coarse mutex. Exactly one writer may hold it at a
// time; readers observe committed state through MVCC without taking
// this lock for the duration of iteration.
type Prefix struct {
	mu sync.Mutex

	name  string
	mode  Mode
	store *pagestore.Store
	alloc *slab.Allocator
	dirty *pagestore.DirtyCache

	atomic      bool
	cancelHooks []func()

	locked bool

	snapshots map[uint64]int // pinned state -> outstanding hold count

	waiters waiterRegistry

	// pendingErr holds an autocommit failure until the next synchronous
	// call surfaces it instead of being dropped on the floor.
	pendingErr error

	opts       Options
	autoCancel context.CancelFunc
	autoDone   chan struct{}

	log *zap.Logger
}

// open creates or opens the named prefix's backing files at basePath
// (without extension) and, if opts.Autocommit, starts its background
// commit ticker.
func open(name, basePath string, mode Mode, opts Options, log *zap.Logger) (*Prefix, error) {
	if mode != ModeOpenRead && mode != ModeOpenRW {
		return nil, dberr.New("txn.open", dberr.KindInvalidState, errors.New("open requires open-read or open-rw"))
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("txn").With(zap.String("prefix", name))

	store, err := pagestore.Open(basePath, pagestore.Options{
		DPSize:         opts.DPSize,
		MetaIOStepSize: opts.MetaIOStepSize,
	}, log)
	if err != nil {
		return nil, err
	}
	alloc, err := slab.New(opts.SlabSize, opts.DPSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p := &Prefix{
		name:      name,
		mode:      mode,
		store:     store,
		alloc:     alloc,
		dirty:     pagestore.NewDirtyCache(),
		snapshots: make(map[uint64]int),
		opts:      opts,
		log:       log,
	}

	if mode == ModeOpenRW && opts.Autocommit {
		p.startAutocommit()
	}
	return p, nil
}

// Name returns the prefix's registered name.
func (p *Prefix) Name() string { return p.name }

// Mode reports the prefix's current open mode.
func (p *Prefix) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// StateNum returns the last finalized (durably committed) state number.
func (p *Prefix) StateNum() uint64 { return p.store.StateNum() }

// Allocate reserves a run of DPs for a new write of `size` bytes.
func (p *Prefix) Allocate(size int) (slab.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeOpenRW {
		return slab.Run{}, dberr.New("txn.Allocate", dberr.KindInvalidState, errors.New("prefix is not open for writing"))
	}
	return p.alloc.Allocate(size)
}

// AllocateReserved reserves a DP from the string-pool or class-records
// reserved slab.
func (p *Prefix) AllocateReserved(kind slab.Kind) (slab.DP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeOpenRW {
		return slab.DP{}, dberr.New("txn.AllocateReserved", dberr.KindInvalidState, errors.New("prefix is not open for writing"))
	}
	return p.alloc.AllocateReserved(kind)
}

// Release returns a run to the allocator. AtomicSection.Cancel does not
// call it: a run allocated during a cancelled section stays allocated.
func (p *Prefix) Release(r slab.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc.Release(r)
}

// Read returns dp's current image: the in-flight dirty image if the
// active writer has touched it this transaction, otherwise the last
// committed image from the page store.
func (p *Prefix) Read(dp slab.DP) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.dirty.Current(dp); ok {
		return cur, nil
	}
	return p.store.ReadDP(dp)
}

// Write applies a byte-range update to dp, establishing its copy-on-write
// pre-image from the store on first touch (nil if dp has never been
// committed, forcing a full base-page write at commit time). It returns
// dp's new, fully-materialized current image.
func (p *Prefix) Write(dp slab.DP, rng pagestore.ByteRange) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModeOpenRW {
		return nil, dberr.New("txn.Write", dberr.KindInvalidState, errors.New("prefix is not open for writing"))
	}
	if err := p.takePendingErrLocked(); err != nil {
		return nil, err
	}
	var base []byte
	if p.store.Committed(dp) {
		b, err := p.store.ReadDP(dp)
		if err != nil {
			return nil, err
		}
		base = b
	}
	return p.dirty.Touch(dp, base, rng), nil
}

// RegisterCancelHook adds f to the active atomic section's undo list. f
// runs (in LIFO order, alongside every other hook registered during the
// section) if the section is cancelled rather than closed. A hook
// registered outside an atomic section never runs: BeginAtomic and every
// successful commit clear the list.
func (p *Prefix) RegisterCancelHook(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelHooks = append(p.cancelHooks, f)
}

// Commit flushes the dirty cache through the store's commit protocol. It
// is a no-op, returning the current state number unchanged, if nothing
// is dirty.
func (p *Prefix) Commit() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takePendingErrLocked(); err != nil {
		return 0, err
	}
	return p.commitLocked()
}

// takePendingErrLocked returns and clears a queued autocommit failure, if
// any. Callers must hold p.mu.
func (p *Prefix) takePendingErrLocked() error {
	err := p.pendingErr
	p.pendingErr = nil
	return err
}

func (p *Prefix) commitLocked() (uint64, error) {
	if p.dirty.Len() == 0 {
		return p.store.StateNum(), nil
	}
	plan := p.dirty.Plan()
	n, err := p.store.Commit(plan)
	if err != nil {
		return 0, err
	}
	p.dirty.Reset()
	p.cancelHooks = nil
	p.waiters.publish(n)
	return n, nil
}

// AwaitState blocks until the prefix's finalized state reaches at least
// target, or ctx is cancelled. Registration may happen before or after
// the target state is reached; an already-reached target resolves
// immediately.
func (p *Prefix) AwaitState(ctx context.Context, target uint64) error {
	p.mu.Lock()
	if p.store.StateNum() >= target {
		p.mu.Unlock()
		return nil
	}
	w := p.waiters.register(target)
	p.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PinSnapshot registers a hold against state, so the page store may not
// reclaim pages it still depends on. Release must be called exactly once
// to drop the hold. Pinning a state newer than the current finalized
// state fails with StateNotAvailable; any older state is accepted, as no
// retention window is enforced.
func (p *Prefix) PinSnapshot(state uint64) (release func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state > p.store.StateNum() {
		return nil, dberr.New("txn.PinSnapshot", dberr.KindStateNotAvailable, errors.New("state has not been reached yet"))
	}
	p.snapshots[state]++
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.snapshots[state]--
		if p.snapshots[state] <= 0 {
			delete(p.snapshots, state)
		}
	}, nil
}

// Close stops autocommit (if running) and releases the prefix's files.
// Closing drops any uncommitted dirty cache silently, matching the
// page store's own crash-recovery tail truncation on next open.
func (p *Prefix) Close() error {
	p.mu.Lock()
	if p.autoCancel != nil {
		p.autoCancel()
	}
	done := p.autoDone
	p.mode = ModeClosed
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	return p.store.Close()
}

// startAutocommit launches the autocommit ticker, using the standard
// context + ticker + done-channel shutdown shape.
func (p *Prefix) startAutocommit() {
	ctx, cancel := context.WithCancel(context.Background())
	p.autoCancel = cancel
	p.autoDone = make(chan struct{})

	go func() {
		defer close(p.autoDone)
		ticker := time.NewTicker(p.opts.AutocommitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tickAutocommit()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Prefix) tickAutocommit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.atomic || p.locked || p.dirty.Len() == 0 {
		return
	}
	if _, err := p.commitLocked(); err != nil {
		p.pendingErr = err
		p.log.Error("autocommit failed, queued for next synchronous call", zap.Error(err))
	}
}
