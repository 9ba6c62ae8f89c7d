package latticeflow

import "sync/atomic"

// mpscNode is a node in a Vyukov-style intrusive multi-producer,
// single-consumer queue.
type mpscNode[T any] struct {
	next atomic.Pointer[mpscNode[T]]
	val  T
}

// mpscQueue is a lock-free multi-producer, single-consumer queue. push may
// be called concurrently from any number of goroutines; pop must only ever
// be called by one goroutine at a time (the current owner of a
// [serialGate]).
type mpscQueue[T any] struct {
	head atomic.Pointer[mpscNode[T]]
	tail atomic.Pointer[mpscNode[T]]
}

func newMPSCQueue[T any]() *mpscQueue[T] {
	dummy := &mpscNode[T]{}
	q := &mpscQueue[T]{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *mpscQueue[T]) push(v T) {
	n := &mpscNode[T]{val: v}
	prev := q.tail.Swap(n)
	prev.next.Store(n)
}

// pop removes and returns the oldest pushed value, if any. Not safe to call
// concurrently with another pop.
func (q *mpscQueue[T]) pop() (T, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		var zero T
		return zero, false
	}
	q.head.Store(next)
	v := next.val
	var zero T
	next.val = zero
	return v, true
}

// serialGate realizes per-dependent sequential-callback execution: at most
// one run(v) body is active at a time for a given gate, and bodies run in
// submission order. It is implemented as a lock-free MPSC queue guarded by
// an atomic "owner" flag rather than a mutex held across callback execution,
// so a slow or blocking callback body never stalls a lock a second goroutine
// might need.
type serialGate[T any] struct {
	queue *mpscQueue[T]
	owned atomic.Bool
}

func newSerialGate[T any]() *serialGate[T] {
	return &serialGate[T]{queue: newMPSCQueue[T]()}
}

// submit enqueues v and, if no body is currently running, drains the queue
// inline, running each value in turn until empty. If another goroutine is
// already draining, submit only enqueues: the current drainer will observe
// and run v before releasing ownership.
func (g *serialGate[T]) submit(v T, run func(T)) {
	g.queue.push(v)
	g.drain(run)
}

func (g *serialGate[T]) drain(run func(T)) {
	if !g.owned.CompareAndSwap(false, true) {
		return
	}
	for {
		for {
			v, ok := g.queue.pop()
			if !ok {
				break
			}
			run(v)
		}
		g.owned.Store(false)
		// A push can land between our last empty pop and the Store above;
		// re-claim ownership once to check for it. If something else wins
		// the re-claim, that goroutine is now responsible for the item.
		if !g.owned.CompareAndSwap(false, true) {
			return
		}
		v, ok := g.queue.pop()
		if !ok {
			g.owned.Store(false)
			return
		}
		run(v)
	}
}
