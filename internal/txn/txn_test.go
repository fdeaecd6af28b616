package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbzero-io/dbzero/internal/dberr"
	"github.com/dbzero-io/dbzero/internal/pagestore"
	"github.com/dbzero-io/dbzero/internal/slab"
)

func noAutocommitOptions() Options {
	opts := DefaultOptions()
	opts.Autocommit = false
	return opts
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(t.TempDir(), nil)
	t.Cleanup(func() { _ = e.CloseAll() })
	return e
}

func TestEngineOpenReturnsSamePrefixForSameMode(t *testing.T) {
	e := newTestEngine(t)
	p1, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)
	p2, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestEngineOpenRejectsModeMismatch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)
	_, err = e.Open("main", ModeOpenRead, noAutocommitOptions())
	require.ErrorIs(t, err, dberr.KindInvalidState)
}

func TestPrefixWriteAndCommitAdvancesState(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]

	before := p.StateNum()
	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("hello")})
	require.NoError(t, err)

	n, err := p.Commit()
	require.NoError(t, err)
	assert.Greater(t, n, before)

	got, err := p.Read(dp)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got[:5])
}

func TestWriteRejectedOnReadOnlyPrefix(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)
	require.NoError(t, e.Close("main"))

	p, err := e.Open("main", ModeOpenRead, noAutocommitOptions())
	require.NoError(t, err)
	_, err = p.Write(slab.DP{Slab: 2, Index: 0}, pagestore.ByteRange{Offset: 0, Data: []byte("x")})
	require.ErrorIs(t, err, dberr.KindInvalidState)
}

func TestAtomicSectionCancelDropsMutations(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]
	before := p.StateNum()

	section, err := p.BeginAtomic()
	require.NoError(t, err)
	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("scratch")})
	require.NoError(t, err)

	hookRan := false
	p.RegisterCancelHook(func() { hookRan = true })
	section.Cancel()

	assert.True(t, hookRan)
	assert.Equal(t, before, p.StateNum())
	assert.Equal(t, 0, p.dirty.Len())
}

func TestAtomicSectionCloseCommits(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]

	section, err := p.BeginAtomic()
	require.NoError(t, err)
	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("kept")})
	require.NoError(t, err)

	n, err := section.Close()
	require.NoError(t, err)
	assert.Equal(t, p.StateNum(), n)
}

func TestBeginAtomicRejectsNestedSection(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	_, err = p.BeginAtomic()
	require.NoError(t, err)
	_, err = p.BeginAtomic()
	require.ErrorIs(t, err, dberr.KindInvalidState)
}

func TestAwaitStateResolvesImmediatelyWhenAlreadyReached(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.AwaitState(ctx, p.StateNum()))
}

func TestAwaitStateUnblocksOnCommit(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]
	target := p.StateNum() + 1

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- p.AwaitState(ctx, target)
	}()

	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("go")})
	require.NoError(t, err)
	_, err = p.Commit()
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestSnapshotPinsStateAndRejectsFutureState(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]
	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("v1")})
	require.NoError(t, err)
	n, err := p.Commit()
	require.NoError(t, err)

	snap, err := e.Snapshot(map[string]uint64{"main": n})
	require.NoError(t, err)
	got, ok := snap.GetStateNum("main")
	require.True(t, ok)
	assert.Equal(t, n, got)
	snap.Close()

	_, err = e.Snapshot(map[string]uint64{"main": n + 100})
	require.ErrorIs(t, err, dberr.KindStateNotAvailable)
}

func TestBeginLockedCommitsAllHeldPrefixes(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.Open("a", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)
	b, err := e.Open("b", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	session, err := e.BeginLocked()
	require.NoError(t, err)

	runA, err := a.Allocate(a.opts.DPSize)
	require.NoError(t, err)
	_, err = a.Write(runA.DPs()[0], pagestore.ByteRange{Offset: 0, Data: []byte("a")})
	require.NoError(t, err)

	runB, err := b.Allocate(b.opts.DPSize)
	require.NoError(t, err)
	_, err = b.Write(runB.DPs()[0], pagestore.ByteRange{Offset: 0, Data: []byte("b")})
	require.NoError(t, err)

	log, err := session.Close()
	require.NoError(t, err)
	assert.Len(t, log.Entries(), 2)

	for _, ent := range log.Entries() {
		assert.Greater(t, ent.StateNum, uint64(0))
	}
}

func TestBeginLockedRejectsSecondConcurrentSession(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	first, err := e.BeginLocked()
	require.NoError(t, err)

	_, err = e.BeginLocked()
	require.ErrorIs(t, err, dberr.KindInvalidState)

	first.Cancel()
	second, err := e.BeginLocked()
	require.NoError(t, err)
	second.Cancel()
}

func TestMutationLogWaitResolvesAgainstEngine(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Open("main", ModeOpenRW, noAutocommitOptions())
	require.NoError(t, err)

	run, err := p.Allocate(p.opts.DPSize)
	require.NoError(t, err)
	dp := run.DPs()[0]
	_, err = p.Write(dp, pagestore.ByteRange{Offset: 0, Data: []byte("logged")})
	require.NoError(t, err)
	n, err := p.Commit()
	require.NoError(t, err)

	log := &MutationLog{entries: []MutationEntry{{Prefix: "main", StateNum: n}}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, log.Wait(ctx, e))
}
