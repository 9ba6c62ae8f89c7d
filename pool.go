package latticeflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// poolState is the quiescence detector's immutable snapshot, swapped
// wholesale via CAS on every task submission/completion: the pool is
// quiescent exactly when submitted == completed. Bundling the
// quiescent-handler slice into the same struct as the counters means a
// transition into quiescence and the draining of its waiters happen under
// one CAS, instead of two that could race.
type poolState struct {
	submitted int64
	completed int64
	// onQuiescent is the set of callbacks waiting for the next point at
	// which submitted == completed; drained (and cleared) the moment that
	// becomes true.
	onQuiescent []func()
}

func (s *poolState) quiescent() bool { return s.submitted == s.completed }

// Pool owns task submission, quiescence detection, and (once quiescent)
// cycle/fallback resolution driven by resolve.go. Construct with [New].
type Pool[V comparable] struct {
	updater Updater[V]

	logger Logger
	tracer Tracer
	metric *metricsSet
	now    func() time.Time

	unhandled func(c any, err error)

	resolvePassTimeout time.Duration

	sem   *semaphore.Weighted
	group *errgroup.Group
	ctx   context.Context

	nextSeq atomic.Uint64

	state atomic.Pointer[poolState]

	cellsMu sync.Mutex
	cells   []*Cell[V]

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
}

// New constructs a Pool over the given Updater. The Updater defines the
// lattice; the Pool drives cells through it to quiescence.
func New[V comparable](updater Updater[V], opts ...PoolOption) *Pool[V] {
	cfg := resolvePoolOptions(opts)

	// Shutdown drains via shuttingDown + group.Wait rather than context
	// cancellation, so in-flight callbacks always run to completion; the
	// errgroup's derived context exists only to satisfy semaphore.Acquire.
	group, gctx := errgroup.WithContext(context.Background())

	p := &Pool[V]{
		updater:            updater,
		logger:             cfg.logger,
		tracer:             cfg.tracer,
		metric:             cfg.metrics,
		now:                cfg.clock,
		unhandled:          cfg.unhandledExceptionHandler,
		resolvePassTimeout: cfg.resolvePassTimeout,
		sem:                semaphore.NewWeighted(int64(cfg.parallelism)),
		group:              group,
		ctx:                gctx,
	}
	p.state.Store(&poolState{})
	return p
}

// NewCell creates a new, untriggered cell with the given key and
// initializer. The cell does not begin running until Trigger is called,
// either directly or as a side effect of another cell registering a
// dependency on it.
func (p *Pool[V]) NewCell(key Key[V], init InitFunc[V]) *Cell[V] {
	c := newCell(p, key, init, p.nextSeq.Add(1))
	p.cellsMu.Lock()
	p.cells = append(p.cells, c)
	p.cellsMu.Unlock()
	if p.metric != nil {
		p.metric.cellsCreated.Inc()
	}
	return c
}

// NewCompletedCell creates a cell that is already final with value v,
// useful for seeding the engine with externally-known facts.
func (p *Pool[V]) NewCompletedCell(key Key[V], v V) *Cell[V] {
	c := newCell(p, key, nil, p.nextSeq.Add(1))
	c.triggered.Store(true)
	c.state.Store(&cellState[V]{final: true, result: Result[V]{Value: v}})
	p.cellsMu.Lock()
	p.cells = append(p.cells, c)
	p.cellsMu.Unlock()
	if p.metric != nil {
		p.metric.cellsCreated.Inc()
		p.metric.cellsFinalized.Inc()
	}
	return c
}

// submitTask schedules fn to run on the pool, subject to the configured
// parallelism limit. It accounts fn in the quiescence word before it starts
// and again after it finishes, so Wait/Run cannot observe quiescence while
// fn (or anything it transitively submits) is still outstanding.
func (p *Pool[V]) submitTask(fn func()) {
	if p.shuttingDown.Load() {
		return
	}
	p.markSubmitted()
	p.group.Go(func() error {
		defer p.markCompleted()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return nil
		}
		defer p.sem.Release(1)
		fn()
		return nil
	})
}

func (p *Pool[V]) markSubmitted() {
	for {
		old := p.state.Load()
		next := &poolState{submitted: old.submitted + 1, completed: old.completed, onQuiescent: old.onQuiescent}
		if p.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (p *Pool[V]) markCompleted() {
	for {
		old := p.state.Load()
		next := &poolState{submitted: old.submitted, completed: old.completed + 1}
		if next.quiescent() {
			// Detach the waiter list atomically with the transition into
			// quiescence: any onQuiescent registered after this CAS wins
			// sees submitted==completed directly and must re-check itself.
			next.onQuiescent = nil
			if p.state.CompareAndSwap(old, next) {
				for _, fn := range old.onQuiescent {
					fn()
				}
				return
			}
			continue
		}
		next.onQuiescent = old.onQuiescent
		if p.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// OnQuiescent registers fn to run the next time the pool transitions into
// (or is already in) a quiescent state. fn may run synchronously on the
// calling goroutine if the pool is already quiescent. Exposed so a caller
// driving its own resolve loop, rather than relying on Run, can still wait
// for the task graph to settle between rounds.
func (p *Pool[V]) OnQuiescent(fn func()) {
	for {
		old := p.state.Load()
		if old.quiescent() {
			fn()
			return
		}
		next := &poolState{submitted: old.submitted, completed: old.completed, onQuiescent: append(append([]func(){}, old.onQuiescent...), fn)}
		if p.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// Run drives every created, non-triggered cell to completion: it triggers
// all root cells that have not yet been triggered, waits for quiescence,
// then repeatedly runs closed-SCC resolution followed by fallback
// resolution (resolve.go) until no non-final cells remain or a pass makes
// no further progress. Run blocks until the pool is fully settled.
func (p *Pool[V]) Run(ctx context.Context) error {
	p.cellsMu.Lock()
	roots := append([]*Cell[V](nil), p.cells...)
	p.cellsMu.Unlock()
	for _, c := range roots {
		c.Trigger()
	}
	return p.runToQuiescence(ctx)
}

// runToQuiescence waits for the task graph to settle and then resolves any
// remaining non-final cells, looping until nothing changes. See resolve.go.
func (p *Pool[V]) runToQuiescence(ctx context.Context) error {
	for {
		if err := p.waitQuiescent(ctx); err != nil {
			return err
		}
		progressed, err := p.resolveOnce(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (p *Pool[V]) waitQuiescent(ctx context.Context) error {
	done := make(chan struct{})
	p.OnQuiescent(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has returned, ignoring quiescence
// re-entrancy. Shutdown waits on the same task group.
func (p *Pool[V]) Wait() error {
	return p.group.Wait()
}

// Shutdown stops accepting new top-level work, waits for all in-flight
// tasks to drain (or ctx to expire), and returns every cell that is not yet
// final. Safe to call more than once; every call waits for the drain.
func (p *Pool[V]) Shutdown(ctx context.Context) []*Cell[V] {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
	})
	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	p.cellsMu.Lock()
	defer p.cellsMu.Unlock()
	var incomplete []*Cell[V]
	for _, c := range p.cells {
		if !c.IsComplete() {
			incomplete = append(incomplete, c)
		}
	}
	if p.logger.IsEnabled(LevelInfo) {
		p.log(LevelInfo, "shutdown-complete", nil, nil)
	}
	return incomplete
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	CellsCreated   int
	CellsFinalized int
	TasksSubmitted int64
	TasksCompleted int64
}

// Stats returns a snapshot of current pool activity.
func (p *Pool[V]) Stats() Stats {
	s := p.state.Load()
	p.cellsMu.Lock()
	defer p.cellsMu.Unlock()
	finalized := 0
	for _, c := range p.cells {
		if c.IsComplete() {
			finalized++
		}
	}
	return Stats{
		CellsCreated:   len(p.cells),
		CellsFinalized: finalized,
		TasksSubmitted: s.submitted,
		TasksCompleted: s.completed,
	}
}

func (p *Pool[V]) onAdvance(c *Cell[V]) {
	if p.metric != nil {
		p.metric.cellAdvances.Inc()
	}
	p.log(LevelDebug, "cell-advanced", c, nil)
}

func (p *Pool[V]) onFinalize(c *Cell[V]) {
	if p.metric != nil {
		p.metric.cellsFinalized.Inc()
	}
	p.log(LevelDebug, "cell-finalized", c, nil)
}

// reportFailure routes a callback/init failure to the configured
// unhandled-exception handler, never back to whatever triggered the
// advance that caused it.
func (p *Pool[V]) reportFailure(c *Cell[V], err error) {
	if p.metric != nil {
		p.metric.unhandledFailures.Inc()
	}
	p.log(LevelError, "unhandled-failure", c, err)
	if p.unhandled != nil {
		p.unhandled(c, err)
	}
}

// allCells returns a stable snapshot of every cell this pool has created,
// in creation order, for use by the resolve loop.
func (p *Pool[V]) allCells() []*Cell[V] {
	p.cellsMu.Lock()
	defer p.cellsMu.Unlock()
	return append([]*Cell[V](nil), p.cells...)
}
