package latticeflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Scenario 3: a three-cell cycle with no putNext ever fired resolves via
// closed-SCC cycle resolution, using a key that always resolves to "pure".
func TestThreeCycleResolvesViaClosedSCC(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	b := p.NewCell(fixedKey{value: levelPure}, nil)
	c := p.NewCell(fixedKey{value: levelPure}, nil)

	a.WhenNext(b, func(v purityLevel) Outcome[purityLevel] { return Next(v) })
	b.WhenNext(c, func(v purityLevel) Outcome[purityLevel] { return Next(v) })
	c.WhenNext(a, func(v purityLevel) Outcome[purityLevel] { return Next(v) })

	runPool(t, p)

	require.True(t, a.IsComplete())
	require.True(t, b.IsComplete())
	require.True(t, c.IsComplete())
	require.Equal(t, levelPure, a.GetResult())
	require.Equal(t, levelPure, b.GetResult())
	require.Equal(t, levelPure, c.GetResult())
}

// Scenario 4: a cell that is never triggered into any dependency is
// finalized by the fallback policy at quiescence.
func TestUntouchedCellResolvedByFallback(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	d := p.NewCell(fixedKey{value: levelPure}, nil)

	runPool(t, p)

	require.True(t, d.IsComplete())
	require.Equal(t, levelPure, d.GetResult())
}

// A self-loop cell (A depends on itself) is a closed singleton SCC and
// resolves via key.Resolve([A]).
func TestSelfLoopResolves(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelImpure}, nil)
	a.WhenNext(a, func(v purityLevel) Outcome[purityLevel] { return Next(v) })

	runPool(t, p)

	require.True(t, a.IsComplete())
	require.Equal(t, levelImpure, a.GetResult())
}

// A Key.Resolve/Fallback failure is logged and does not deadlock the pool;
// the affected cells simply remain non-final (observable progress bound).
func TestResolvePolicyFailureDoesNotDeadlock(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(erroringKey{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	require.False(t, a.IsComplete())
}

// A caller can drive cycle resolution directly off the pool's public
// Quiescent* surface without ever calling Run.
func TestCallerDrivenCycleResolutionWithoutRun(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	b := p.NewCell(fixedKey{value: levelPure}, nil)
	a.WhenNext(b, func(v purityLevel) Outcome[purityLevel] { return Next(v) })
	b.WhenNext(a, func(v purityLevel) Outcome[purityLevel] { return Next(v) })

	a.Trigger()
	b.Trigger()

	done := make(chan struct{})
	p.OnQuiescent(func() { close(done) })
	<-done

	cells := p.QuiescentIncompleteCells()
	require.Len(t, cells, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	progressed, err := p.QuiescentResolveCycles(ctx, cells)
	require.NoError(t, err)
	require.True(t, progressed)
	require.True(t, a.IsComplete())
	require.True(t, b.IsComplete())
}

// WhileQuiescentResolveCell loops QuiescentResolveCell until every cell in
// the component is final, for a policy that only resolves one cell per
// call.
func TestWhileQuiescentResolveCellConvergesOnPartialPolicy(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	scc := []*Cell[purityLevel]{
		p.NewCell(partialKey{value: levelPure}, nil),
		p.NewCell(partialKey{value: levelPure}, nil),
		p.NewCell(partialKey{value: levelPure}, nil),
	}

	progressed, err := p.WhileQuiescentResolveCell(scc)
	require.NoError(t, err)
	require.True(t, progressed)
	for _, c := range scc {
		require.True(t, c.IsComplete())
		require.Equal(t, levelPure, c.GetResult())
	}
}

// WhileQuiescentResolveDefault is the fallback-policy analog of
// WhileQuiescentResolveCell.
func TestWhileQuiescentResolveDefaultConvergesOnPartialPolicy(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	group := []*Cell[purityLevel]{
		p.NewCell(partialKey{value: levelImpure}, nil),
		p.NewCell(partialKey{value: levelImpure}, nil),
	}

	progressed, err := p.WhileQuiescentResolveDefault(group)
	require.NoError(t, err)
	require.True(t, progressed)
	for _, c := range group {
		require.True(t, c.IsComplete())
		require.Equal(t, levelImpure, c.GetResult())
	}
}
