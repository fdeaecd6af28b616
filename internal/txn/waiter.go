package txn

import "container/heap"

// waiter is a single registration against a target state number. ch is
// closed once the prefix's finalized state reaches target.
type waiter struct {
	target uint64
	seq    uint64 // registration order, breaks ties so FIFO holds within a target
	ch     chan struct{}
}

// waiterHeap is a min-heap ordered by target state, then registration
// order.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].target != h[j].target {
		return h[i].target < h[j].target
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x any)   { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}

// waiterRegistry resolves await_prefix_state handles as a prefix publishes
// newly finalized state numbers. It does not check the current state
// itself: AwaitState does that before registering, so an already-reached
// target resolves immediately rather than waiting for a later publish.
type waiterRegistry struct {
	h       waiterHeap
	nextSeq uint64
}

// register returns a waiter whose ch closes once a later published state
// reaches target. The caller must hold the prefix's lock when calling this and
// must have already checked current >= target itself.
func (r *waiterRegistry) register(target uint64) *waiter {
	w := &waiter{target: target, seq: r.nextSeq, ch: make(chan struct{})}
	r.nextSeq++
	heap.Push(&r.h, w)
	return w
}

// publish resolves every waiter whose target has now been reached.
func (r *waiterRegistry) publish(state uint64) {
	for r.h.Len() > 0 && r.h[0].target <= state {
		w := heap.Pop(&r.h).(*waiter)
		close(w.ch)
	}
}
