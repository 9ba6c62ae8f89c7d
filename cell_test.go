package latticeflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, u purityUpdater) *Pool[purityLevel] {
	t.Helper()
	return New[purityLevel](u)
}

func runPool(t *testing.T, p *Pool[purityLevel]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// Scenario 1: putNext then putFinal on a single cell.
func TestCellPutNextThenPutFinal(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	c := p.NewCell(fixedKey{value: levelPure}, func(*Cell[purityLevel]) (Outcome[purityLevel], error) {
		return None[purityLevel](), nil
	})

	require.NoError(t, c.PutNext(levelPure))
	require.NoError(t, c.PutFinal(levelImpure))

	snap := c.Snapshot()
	require.Equal(t, levelImpure, snap.Value)
	require.True(t, snap.Final)
	require.True(t, c.IsComplete())
}

// Scenario 2: whenComplete propagates a finalized dependee's value.
func TestWhenCompletePropagatesFinalValue(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	b := p.NewCell(fixedKey{value: levelPure}, nil)

	a.WhenComplete(b, func(v purityLevel) Outcome[purityLevel] { return Final(v) })

	require.NoError(t, b.PutFinal(levelImpure))
	runPool(t, p)

	require.Equal(t, levelImpure, a.GetResult())
	require.True(t, a.IsComplete())
}

// whenComplete registered AFTER the dependee is already final dispatches
// immediately, with no dependency installed on either side.
func TestWhenCompleteOnAlreadyFinalDependee(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	b := p.NewCell(fixedKey{value: levelImpure}, nil)
	require.NoError(t, b.PutFinal(levelImpure))

	a := p.NewCell(fixedKey{value: levelImpure}, nil)
	a.WhenComplete(b, func(v purityLevel) Outcome[purityLevel] { return Final(v) })

	runPool(t, p)

	require.True(t, a.IsComplete())
	require.Equal(t, levelImpure, a.GetResult())
}

// whenNext registered on an already-final dependee is a no-op: there is no
// future advance left to observe. a's key never resolves, so Run's resolve
// passes cannot finalize it either; only the callback could.
func TestWhenNextOnAlreadyFinalDependeeIsNoOp(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	b := p.NewCell(fixedKey{value: levelImpure}, nil)
	require.NoError(t, b.PutFinal(levelPure))

	a := p.NewCell(erroringKey{}, nil)
	fired := false
	a.WhenNext(b, func(v purityLevel) Outcome[purityLevel] {
		fired = true
		return Final(v)
	})

	runPool(t, p)

	require.False(t, fired)
	require.False(t, a.IsComplete())
}

// Registering the same whenNext(B, f) twice behaves the same as once:
// registration is idempotent per (dependent, dependee, callback-kind).
func TestWhenNextRegistrationIsIdempotent(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	b := p.NewCell(fixedKey{value: levelPure}, nil)

	count := 0
	cb := func(v purityLevel) Outcome[purityLevel] {
		count++
		return Next(v)
	}
	a.WhenNext(b, cb)
	a.WhenNext(b, cb)

	require.NoError(t, b.PutNext(levelPure))
	runPool(t, p)

	require.Equal(t, 1, count)
	require.Equal(t, levelPure, a.GetResult())
}

// Scenario 5: a panicking callback is routed to the unhandled-exception
// handler; the dependent stays incomplete, and the pool still quiesces.
// a's key never resolves, so Run's resolve passes leave it non-final too.
func TestCallbackPanicRoutedToUnhandledHandler(t *testing.T) {
	var captured error
	p := New[purityLevel](purityUpdater{}, WithUnhandledExceptionHandler(func(c any, err error) {
		captured = err
	}))

	a := p.NewCell(erroringKey{}, nil)
	b := p.NewCell(fixedKey{value: levelPure}, nil)
	a.WhenNext(b, func(purityLevel) Outcome[purityLevel] {
		panic("boom")
	})

	require.NoError(t, b.PutNext(levelPure))
	runPool(t, p)

	require.Error(t, captured)
	require.False(t, a.IsComplete())
}

// Scenario 6: an Updater-rejected join leaves the cell's value unchanged
// and returns an error.
func TestMonotonicityViolationRejected(t *testing.T) {
	p := newTestPool(t, purityUpdater{rejectImpureToPure: true})
	a := p.NewCell(fixedKey{value: levelImpure}, nil)

	require.NoError(t, a.PutNext(levelImpure))
	err := a.PutNext(levelPure)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotMonotonic)
	require.Equal(t, levelImpure, a.GetResult())
}

// putNext on an already-final cell agrees trivially when the incoming
// value does not change the join: a subsequent putNext only fails when the
// join would actually change the already-finalized value.
func TestPutNextAfterFinalAgreeingValue(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelImpure}, nil)
	require.NoError(t, a.PutFinal(levelImpure))
	require.NoError(t, a.PutNext(levelImpure))
}

// putNext on an already-final cell with a value that would change it fails
// with AlreadyFinalError unless IgnoreIfFinal is set.
func TestPutNextAfterFinalRejectedByDefault(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	require.NoError(t, a.PutFinal(levelPure))

	err := a.PutNext(levelImpure)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAlreadyFinal)
	require.Equal(t, levelPure, a.GetResult())
}

func TestPutFinalAfterFinalWithIgnoreIfFinal(t *testing.T) {
	p := New[purityLevel](purityUpdater{ignoreIfFinal: true})
	a := p.NewCell(fixedKey{value: levelPure}, nil)
	require.NoError(t, a.PutFinal(levelPure))
	// Would ordinarily raise AlreadyFinalError (impure > pure), but
	// IgnoreIfFinal silently drops it instead.
	require.NoError(t, a.PutFinal(levelImpure))
	require.Equal(t, levelPure, a.GetResult())
}

func TestNewCompletedCell(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	c := p.NewCompletedCell(fixedKey{value: levelPure}, levelPure)
	require.True(t, c.IsComplete())
	require.Equal(t, levelPure, c.GetResult())
}

// Pure fan-in: N cells all depend on B; all advance exactly when B
// advances.
func TestPureFanIn(t *testing.T) {
	p := newTestPool(t, purityUpdater{})
	b := p.NewCell(fixedKey{value: levelPure}, nil)

	const n = 16
	dependents := make([]*Cell[purityLevel], n)
	for i := range dependents {
		d := p.NewCell(fixedKey{value: levelPure}, nil)
		d.WhenNext(b, func(v purityLevel) Outcome[purityLevel] { return Next(v) })
		dependents[i] = d
	}

	require.NoError(t, b.PutNext(levelPure))
	runPool(t, p)

	for _, d := range dependents {
		require.Equal(t, levelPure, d.GetResult())
	}
}
