package latticeflow

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// InitFunc is a cell's one-shot initializer: on first [Cell.Trigger], it may
// register dependencies (via WhenNext/WhenComplete/When) and optionally
// return an initial Outcome to apply to the cell itself.
type InitFunc[V comparable] func(c *Cell[V]) (Outcome[V], error)

// cellState is the cell's mutable state, stored behind an atomic pointer and
// replaced wholesale on every transition (copy-on-write), so a CAS retry
// never observes a torn update. final distinguishes an in-progress cell
// (tracking its current joined value, dependency sets, and pending
// callbacks) from a settled one (tracking only its finalized result).
type cellState[V comparable] struct {
	final bool

	// incomplete variant
	res               V
	nextDeps          map[*Cell[V]]struct{}
	completeDeps      map[*Cell[V]]struct{}
	nextCallbacks     map[*Cell[V]][]*callbackRecord[V]
	completeCallbacks map[*Cell[V]][]*callbackRecord[V]

	// final variant
	result Result[V]
}

func newIncompleteState[V comparable](bottom V) *cellState[V] {
	return &cellState[V]{
		res:               bottom,
		nextDeps:          map[*Cell[V]]struct{}{},
		completeDeps:      map[*Cell[V]]struct{}{},
		nextCallbacks:     map[*Cell[V]][]*callbackRecord[V]{},
		completeCallbacks: map[*Cell[V]][]*callbackRecord[V]{},
	}
}

// clone returns a shallow copy-on-write duplicate of an incomplete state,
// safe to mutate before attempting a CAS.
func (s *cellState[V]) clone() *cellState[V] {
	next := &cellState[V]{
		res:               s.res,
		nextDeps:          make(map[*Cell[V]]struct{}, len(s.nextDeps)),
		completeDeps:      make(map[*Cell[V]]struct{}, len(s.completeDeps)),
		nextCallbacks:     make(map[*Cell[V]][]*callbackRecord[V], len(s.nextCallbacks)),
		completeCallbacks: make(map[*Cell[V]][]*callbackRecord[V], len(s.completeCallbacks)),
	}
	for k, v := range s.nextDeps {
		next.nextDeps[k] = v
	}
	for k, v := range s.completeDeps {
		next.completeDeps[k] = v
	}
	for k, v := range s.nextCallbacks {
		next.nextCallbacks[k] = append([]*callbackRecord[V](nil), v...)
	}
	for k, v := range s.completeCallbacks {
		next.completeCallbacks[k] = append([]*callbackRecord[V](nil), v...)
	}
	return next
}

// Cell is a handle to a monotonically growing value in a user-defined
// lattice. Its value only ever advances via its Updater's join, it may be
// finalized at most once, and callbacks registered on it observe every
// intermediate advance (or just the final value, depending on which
// registration method was used).
type Cell[V comparable] struct {
	id   uuid.UUID
	seq  uint64
	key  Key[V]
	pool *Pool[V]
	init InitFunc[V]

	state     atomic.Pointer[cellState[V]]
	triggered atomic.Bool
	gate      *serialGate[func()]
}

func newCell[V comparable](pool *Pool[V], key Key[V], init InitFunc[V], seq uint64) *Cell[V] {
	c := &Cell[V]{
		id:   uuid.New(),
		seq:  seq,
		key:  key,
		pool: pool,
		init: init,
		gate: newSerialGate[func()](),
	}
	c.state.Store(newIncompleteState(pool.updater.Bottom()))
	return c
}

// ID returns a stable identity for this cell, used only for log/trace
// correlation; cells are otherwise compared by pointer identity.
func (c *Cell[V]) ID() uuid.UUID { return c.id }

// Key returns the cell's resolution key.
func (c *Cell[V]) Key() Key[V] { return c.key }

// Snapshot returns a consistent read of the cell's current value and
// finality without triggering init or racing the internal state pointer.
func (c *Cell[V]) Snapshot() CellSnapshot[V] {
	s := c.state.Load()
	if s.final {
		return CellSnapshot[V]{Value: s.result.Value, Final: true}
	}
	return CellSnapshot[V]{Value: s.res, Final: false}
}

// GetResult returns the cell's current value, possibly intermediate.
// Deterministic only at quiescence.
func (c *Cell[V]) GetResult() V { return c.Snapshot().Value }

// IsComplete reports whether the cell has been finalized.
func (c *Cell[V]) IsComplete() bool { return c.state.Load().final }

// Trigger requests that the engine run this cell's init function, at most
// once. Idempotent; safe to call from any goroutine, any number of times.
func (c *Cell[V]) Trigger() {
	if !c.triggered.CompareAndSwap(false, true) {
		return
	}
	c.pool.submitTask(func() { c.runInit() })
}

func (c *Cell[V]) runInit() {
	if c.init == nil {
		return
	}
	_, end := c.pool.tracer.StartInit(context.Background(), c.id.String())
	outcome, err := c.safeInit()
	end(err)
	if err != nil {
		c.pool.reportFailure(c, err)
		return
	}
	val, ok := outcome.Value()
	if !ok {
		return
	}
	var applyErr error
	if outcome.IsFinal() {
		applyErr = c.putFinalInternal(val, false)
	} else {
		applyErr = c.putNextInternal(val)
	}
	if applyErr != nil {
		c.pool.log(LevelDebug, "init-outcome-rejected", c, applyErr)
	}
}

func (c *Cell[V]) safeInit() (outcome Outcome[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackFailureError{Recovered: r}
		}
	}()
	return c.init(c)
}

// PutNext joins v into the cell's current value.
func (c *Cell[V]) PutNext(v V) error { return c.putNextInternal(v) }

// PutFinal joins v into the cell's current value and transitions it to
// final.
func (c *Cell[V]) PutFinal(v V) error { return c.putFinalInternal(v, false) }

// resolveWithValue forces finalization with v, bypassing the normal
// AlreadyFinal error; it acts only on non-final cells (a cell that raced to
// final first is left untouched).
func (c *Cell[V]) resolveWithValue(v V) error { return c.putFinalInternal(v, true) }

func (c *Cell[V]) putNextInternal(v V) error {
	for {
		old := c.state.Load()
		if old.final {
			joined, err := c.pool.updater.Update(old.result.Value, v)
			if err != nil {
				return &NotMonotonicError{Current: old.result.Value, Attempted: v, Cause: err}
			}
			if joined != old.result.Value {
				if c.pool.updater.IgnoreIfFinal() {
					return nil
				}
				return &AlreadyFinalError{Existing: old.result.Value, Attempted: v}
			}
			return nil
		}

		joined, err := c.pool.updater.Update(old.res, v)
		if err != nil {
			return &NotMonotonicError{Current: old.res, Attempted: v, Cause: err}
		}
		if joined == old.res {
			return nil
		}

		next := old.clone()
		next.res = joined
		if c.state.CompareAndSwap(old, next) {
			c.pool.onAdvance(c)
			c.dispatchNext(next, joined, false)
			return nil
		}
	}
}

func (c *Cell[V]) putFinalInternal(v V, bypassAlreadyFinal bool) error {
	for {
		old := c.state.Load()
		if old.final {
			joined, err := c.pool.updater.Update(old.result.Value, v)
			if err != nil {
				if bypassAlreadyFinal {
					return nil
				}
				return &NotMonotonicError{Current: old.result.Value, Attempted: v, Cause: err}
			}
			if joined != old.result.Value {
				if bypassAlreadyFinal || c.pool.updater.IgnoreIfFinal() {
					return nil
				}
				return &AlreadyFinalError{Existing: old.result.Value, Attempted: v}
			}
			return nil
		}

		joined, err := c.pool.updater.Update(old.res, v)
		if err != nil {
			return &NotMonotonicError{Current: old.res, Attempted: v, Cause: err}
		}

		final := &cellState[V]{final: true, result: Result[V]{Value: joined}}
		if c.state.CompareAndSwap(old, final) {
			c.pool.onFinalize(c)
			c.dispatchFinal(old, joined)
			c.detachFromDependees(old)
			return nil
		}
	}
}

// dispatchNext schedules every registered next-callback after a successful
// (non-final) advance.
func (c *Cell[V]) dispatchNext(state *cellState[V], joined V, isFinal bool) {
	for _, recs := range state.nextCallbacks {
		for _, rec := range recs {
			c.pool.dispatch(rec, joined, isFinal)
		}
	}
}

// dispatchFinal drains and fires both callback maps: next callbacks get one
// last firing with isFinal set, and complete callbacks fire for the first
// (and only) time, both carrying the cell's finalized value.
func (c *Cell[V]) dispatchFinal(old *cellState[V], joined V) {
	for _, recs := range old.nextCallbacks {
		for _, rec := range recs {
			c.pool.dispatch(rec, joined, true)
		}
	}
	for _, recs := range old.completeCallbacks {
		for _, rec := range recs {
			c.pool.dispatch(rec, joined, true)
		}
	}
}

// detachFromDependees removes c from the outgoing callback maps of every
// cell it depended on: a finalized cell has no further advances to observe,
// so it must not linger in any dependee's callback map after finalizing.
func (c *Cell[V]) detachFromDependees(old *cellState[V]) {
	for dep := range old.nextDeps {
		dep.removeDependent(c, kindNext)
	}
	for dep := range old.completeDeps {
		dep.removeDependent(c, kindComplete)
	}
}

// removeDependent drops dependent from this cell's outgoing callback map of
// the given kind. A no-op once this cell is final, since final cells never
// fire callbacks again anyway (drained already at finalization).
func (c *Cell[V]) removeDependent(dependent *Cell[V], kind callbackKind) {
	for {
		old := c.state.Load()
		if old.final {
			return
		}
		next := old.clone()
		switch kind {
		case kindNext:
			delete(next.nextCallbacks, dependent)
		case kindComplete:
			delete(next.completeCallbacks, dependent)
		}
		if c.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// WhenNext registers cb to run whenever dep's value advances (including, if
// dep later finalizes, one final firing with the finalized value — see
// When for a variant that distinguishes the two). Registering on an
// already-final dep is a no-op: there is no future advance left to observe.
func (c *Cell[V]) WhenNext(dep *Cell[V], cb func(V) Outcome[V]) {
	c.whenNext(dep, func(v V, _ bool) Outcome[V] { return cb(v) }, false)
}

// WhenNextSequential is WhenNext with sequential-per-dependent dispatch.
func (c *Cell[V]) WhenNextSequential(dep *Cell[V], cb func(V) Outcome[V]) {
	c.whenNext(dep, func(v V, _ bool) Outcome[V] { return cb(v) }, true)
}

// When registers cb to run on every advance of dep, including finalization;
// isFinal distinguishes the two. Same no-op-on-already-final-dep semantics
// as WhenNext, since it installs into the same (next) callback map.
func (c *Cell[V]) When(dep *Cell[V], cb func(v V, isFinal bool) Outcome[V]) {
	c.whenNext(dep, cb, false)
}

// WhenSequential is When with sequential-per-dependent dispatch.
func (c *Cell[V]) WhenSequential(dep *Cell[V], cb func(v V, isFinal bool) Outcome[V]) {
	c.whenNext(dep, cb, true)
}

// WhenComplete registers cb to run exactly once, when dep finalizes. If dep
// is already final, cb is dispatched immediately with no dependency
// installed on either side.
func (c *Cell[V]) WhenComplete(dep *Cell[V], cb func(V) Outcome[V]) {
	c.whenComplete(dep, func(v V, _ bool) Outcome[V] { return cb(v) }, false)
}

// WhenCompleteSequential is WhenComplete with sequential-per-dependent
// dispatch.
func (c *Cell[V]) WhenCompleteSequential(dep *Cell[V], cb func(V) Outcome[V]) {
	c.whenComplete(dep, func(v V, _ bool) Outcome[V] { return cb(v) }, true)
}

func (c *Cell[V]) whenNext(dep *Cell[V], fn func(V, bool) Outcome[V], sequential bool) {
	if dep.alreadyHasDependent(dep, c, kindNext) {
		dep.Trigger()
		return
	}
	if dep.IsComplete() {
		// No dependency installed on either side: whenNext/When observe
		// only future advances, and an already-final dep has none left.
		dep.Trigger()
		return
	}
	rec := &callbackRecord[V]{dependent: c, dependee: dep, kind: kindNext, sequential: sequential, fn: fn}
	c.addDep(dep, kindNext)
	if !dep.installCallback(c, rec, kindNext) {
		// Lost the race: dep finalized between the IsComplete check and
		// installCallback's CAS. Same no-op outcome.
		return
	}
	dep.Trigger()
}

func (c *Cell[V]) whenComplete(dep *Cell[V], fn func(V, bool) Outcome[V], sequential bool) {
	if dep.alreadyHasDependent(dep, c, kindComplete) {
		dep.Trigger()
		return
	}
	if dep.IsComplete() {
		// No dependency installed on either side: dispatch immediately
		// with the already-final value.
		c.pool.dispatch(&callbackRecord[V]{dependent: c, dependee: dep, kind: kindComplete, sequential: sequential, fn: fn}, dep.Snapshot().Value, true)
		return
	}
	rec := &callbackRecord[V]{dependent: c, dependee: dep, kind: kindComplete, sequential: sequential, fn: fn}
	c.addDep(dep, kindComplete)
	if !dep.installCallback(c, rec, kindComplete) {
		// Lost the race: dep finalized between the IsComplete check and
		// installCallback's CAS. Dispatch immediately instead.
		c.pool.dispatch(rec, dep.Snapshot().Value, true)
		return
	}
	dep.Trigger()
}

// alreadyHasDependent reports whether c is already registered as a
// dependent of dep for the given kind, realizing the
// at-most-one-dependency-per-(A,B,kind) invariant idempotently.
func (c *Cell[V]) alreadyHasDependent(dep, dependent *Cell[V], kind callbackKind) bool {
	s := dependent.state.Load()
	if s.final {
		return false
	}
	var set map[*Cell[V]]struct{}
	switch kind {
	case kindNext:
		set = s.nextDeps
	case kindComplete:
		set = s.completeDeps
	}
	_, ok := set[dep]
	return ok
}

// addDep idempotently adds dep to c's dependency set of the given kind.
func (c *Cell[V]) addDep(dep *Cell[V], kind callbackKind) {
	for {
		old := c.state.Load()
		if old.final {
			return
		}
		switch kind {
		case kindNext:
			if _, ok := old.nextDeps[dep]; ok {
				return
			}
		case kindComplete:
			if _, ok := old.completeDeps[dep]; ok {
				return
			}
		}
		next := old.clone()
		switch kind {
		case kindNext:
			next.nextDeps[dep] = struct{}{}
		case kindComplete:
			next.completeDeps[dep] = struct{}{}
		}
		if c.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// installCallback adds rec to this cell's outgoing callback map of the
// given kind, keyed by rec.dependent. Returns false if this cell is already
// final (no map to install into).
func (c *Cell[V]) installCallback(dependent *Cell[V], rec *callbackRecord[V], kind callbackKind) bool {
	for {
		old := c.state.Load()
		if old.final {
			return false
		}
		next := old.clone()
		switch kind {
		case kindNext:
			next.nextCallbacks[dependent] = append(next.nextCallbacks[dependent], rec)
		case kindComplete:
			next.completeCallbacks[dependent] = append(next.completeCallbacks[dependent], rec)
		}
		if c.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// depEdges returns the current (next ∪ complete) dependency set — the edge
// function the closed-SCC finder walks at quiescence.
func (c *Cell[V]) depEdges() []*Cell[V] {
	s := c.state.Load()
	if s.final {
		return nil
	}
	out := make([]*Cell[V], 0, len(s.nextDeps)+len(s.completeDeps))
	seen := make(map[*Cell[V]]struct{}, len(s.nextDeps)+len(s.completeDeps))
	for d := range s.nextDeps {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for d := range s.completeDeps {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}
