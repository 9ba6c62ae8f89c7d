package latticeflow

// callbackKind distinguishes which of a dependee's outgoing callback maps a
// record lives in. It exists only for bookkeeping/removal; dispatch itself
// is uniform once a record is in hand.
type callbackKind uint8

const (
	kindNext callbackKind = iota
	kindComplete
)

// callbackRecord bundles a registered callback with enough context to
// dispatch and remove it later: which dependent cell it belongs to, which
// dependee it observes, and how. fn always has the two-kind shape
// func(v V, isFinal bool) Outcome[V]; whenNext/whenComplete build fn by
// wrapping a plain func(V) Outcome[V] that ignores isFinal.
type callbackRecord[V comparable] struct {
	dependent  *Cell[V]
	dependee   *Cell[V]
	kind       callbackKind
	sequential bool
	fn         func(v V, isFinal bool) Outcome[V]
}

// dispatch schedules rec to observe (v, isFinal) on the pool. Concurrent
// records run as an independent task on any worker; sequential records run
// under the dependent cell's serial gate, so at most one callback body is
// active per dependent at a time, in submission order.
func (p *Pool[V]) dispatch(rec *callbackRecord[V], v V, isFinal bool) {
	if !rec.sequential {
		p.submitTask(func() { p.runCallbackBody(rec, v, isFinal) })
		return
	}
	p.submitTask(func() {
		done := make(chan struct{})
		rec.dependent.gate.submit(func() {
			p.runCallbackBody(rec, v, isFinal)
			close(done)
		}, func(fn func()) { fn() })
		<-done
	})
}

// runCallbackBody invokes the user callback, recovering panics, and applies
// the returned Outcome to the dependent cell. A panic is routed to the
// pool's unhandled-exception handler; an outcome that putNext/putFinal
// rejects (e.g. a monotonicity violation) is only logged at debug level.
// Neither surfaces to whatever triggered the dependee's advance.
func (p *Pool[V]) runCallbackBody(rec *callbackRecord[V], v V, isFinal bool) {
	outcome, err := p.safeInvoke(rec, v, isFinal)
	if err != nil {
		p.reportFailure(rec.dependent, err)
		return
	}
	val, ok := outcome.Value()
	if !ok {
		return
	}
	if outcome.IsFinal() {
		err = rec.dependent.putFinalInternal(val, false)
	} else {
		err = rec.dependent.putNextInternal(val)
	}
	if err != nil {
		p.log(LevelDebug, "callback-outcome-rejected", rec.dependent, err)
	}
}

func (p *Pool[V]) safeInvoke(rec *callbackRecord[V], v V, isFinal bool) (outcome Outcome[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackFailureError{Recovered: r}
		}
	}()
	return rec.fn(v, isFinal), nil
}
