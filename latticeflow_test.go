package latticeflow

import (
	"errors"
	"fmt"
)

// purityLevel implements the {bottom < pure < impure} lattice used
// throughout the test suite.
type purityLevel int

const (
	levelBottom purityLevel = iota
	levelPure
	levelImpure
)

func (p purityLevel) String() string {
	switch p {
	case levelPure:
		return "pure"
	case levelImpure:
		return "impure"
	default:
		return "bottom"
	}
}

type purityUpdater struct {
	ignoreIfFinal bool
	// rejectImpureToPure, when true, makes Update(impure, pure) fail, for
	// exercising the monotonicity-violation-rejected test cases.
	rejectImpureToPure bool
}

func (u purityUpdater) Bottom() purityLevel { return levelBottom }

func (u purityUpdater) Update(cur, incoming purityLevel) (purityLevel, error) {
	if u.rejectImpureToPure && cur == levelImpure && incoming == levelPure {
		return cur, fmt.Errorf("cannot rejoin pure into impure: %w", ErrNotMonotonic)
	}
	if incoming > cur {
		return incoming, nil
	}
	return cur, nil
}

func (u purityUpdater) IgnoreIfFinal() bool { return u.ignoreIfFinal }

// fixedKey resolves and falls back every cell in its group to a single
// fixed value.
type fixedKey struct {
	value purityLevel
}

func (k fixedKey) Resolve(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	out := make([]CellValue[purityLevel], len(cells))
	for i, c := range cells {
		out[i] = CellValue[purityLevel]{Cell: c, Value: k.value}
	}
	return out, nil
}

func (k fixedKey) Fallback(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	return k.Resolve(cells)
}

// erroringKey always fails, for exercising resolve-policy-failure logging
// paths without panicking the test.
type erroringKey struct{}

func (erroringKey) Resolve(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	return nil, errors.New("resolve always fails")
}

func (erroringKey) Fallback(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	return nil, errors.New("fallback always fails")
}

// partialKey resolves only one still-non-final cell per call, modeling a
// policy that needs several passes to finish its whole component. Used to
// exercise the WhileQuiescentResolveCell/WhileQuiescentResolveDefault
// convergence loops.
type partialKey struct {
	value purityLevel
}

func (k partialKey) Resolve(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	for _, c := range cells {
		if !c.IsComplete() {
			return []CellValue[purityLevel]{{Cell: c, Value: k.value}}, nil
		}
	}
	return nil, nil
}

func (k partialKey) Fallback(cells []*Cell[purityLevel]) ([]CellValue[purityLevel], error) {
	return k.Resolve(cells)
}
