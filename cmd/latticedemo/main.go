// Command latticedemo runs a fixed, scripted scenario over a small
// purity lattice ({bottom, pure, impure}), exercising cell creation,
// dependency registration, and closed-SCC cycle resolution end to end.
// It takes no flags; this engine has nothing for a CLI to wrap.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/latticeflow"
	"github.com/joeycumines/stumpy"
)

// purity is the lattice value: bottom < pure < impure.
type purity int

const (
	bottom purity = iota
	pure
	impure
)

func (p purity) String() string {
	switch p {
	case pure:
		return "pure"
	case impure:
		return "impure"
	default:
		return "bottom"
	}
}

// purityUpdater is the least-upper-bound join over purity.
type purityUpdater struct{}

func (purityUpdater) Bottom() purity { return bottom }

func (purityUpdater) Update(cur, incoming purity) (purity, error) {
	if incoming > cur {
		return incoming, nil
	}
	return cur, nil
}

func (purityUpdater) IgnoreIfFinal() bool { return false }

// fixedKey resolves/falls back every cell in its group to a fixed value,
// the simplest Key useful for a demo.
type fixedKey struct {
	value purity
}

func (k fixedKey) Resolve(cells []*latticeflow.Cell[purity]) ([]latticeflow.CellValue[purity], error) {
	out := make([]latticeflow.CellValue[purity], len(cells))
	for i, c := range cells {
		out[i] = latticeflow.CellValue[purity]{Cell: c, Value: k.value}
	}
	return out, nil
}

func (k fixedKey) Fallback(cells []*latticeflow.Cell[purity]) ([]latticeflow.CellValue[purity], error) {
	return k.Resolve(cells)
}

func main() {
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(stumpy.L.LevelInformational()),
	)

	pool := latticeflow.New[purity](
		purityUpdater{},
		latticeflow.WithLogger(latticeflow.NewLogifaceLogger[*stumpy.Event](logger)),
		latticeflow.WithParallelism(4),
		latticeflow.WithUnhandledExceptionHandler(func(c any, err error) {
			fmt.Fprintf(os.Stderr, "unhandled: %v: %v\n", c, err)
		}),
	)

	// A three-cycle: A -> B -> C -> A, none ever directly updated. Cycle
	// resolution finalizes all three with "pure".
	a := pool.NewCell(fixedKey{value: pure}, nil)
	b := pool.NewCell(fixedKey{value: pure}, nil)
	c := pool.NewCell(fixedKey{value: pure}, nil)

	a.WhenNext(b, func(v purity) latticeflow.Outcome[purity] { return latticeflow.Next(v) })
	b.WhenNext(c, func(v purity) latticeflow.Outcome[purity] { return latticeflow.Next(v) })
	c.WhenNext(a, func(v purity) latticeflow.Outcome[purity] { return latticeflow.Next(v) })

	// An independent completion-propagation pair: D finalizes, E observes.
	d := pool.NewCell(fixedKey{value: impure}, func(cell *latticeflow.Cell[purity]) (latticeflow.Outcome[purity], error) {
		return latticeflow.Final(impure), nil
	})
	e := pool.NewCell(fixedKey{value: impure}, nil)
	e.WhenComplete(d, func(v purity) latticeflow.Outcome[purity] { return latticeflow.Final(v) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pool.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	for name, cell := range map[string]*latticeflow.Cell[purity]{"A": a, "B": b, "C": c, "D": d, "E": e} {
		snap := cell.Snapshot()
		fmt.Printf("%s: value=%s final=%v\n", name, snap.Value, snap.Final)
	}

	stats := pool.Stats()
	fmt.Printf("cells created=%d finalized=%d tasks submitted=%d completed=%d\n",
		stats.CellsCreated, stats.CellsFinalized, stats.TasksSubmitted, stats.TasksCompleted)
}
