package latticeflow

import "context"

// resolveOnce runs exactly one cycle-resolution pass followed by one
// fallback pass over the pool's currently non-final cells. It returns true
// if either pass finalized at least one cell, signalling the caller
// (runToQuiescence) should wait for quiescence again and retry — a
// finalized cell's outgoing callbacks may advance or close further cycles
// elsewhere in the graph.
func (p *Pool[V]) resolveOnce(ctx context.Context) (bool, error) {
	cells := p.QuiescentIncompleteCells()
	if len(cells) == 0 {
		return false, nil
	}

	cycleCtx, cancel := p.withResolvePassDeadline(ctx)
	progressedCycles, err := p.QuiescentResolveCycles(cycleCtx, cells)
	cancel()
	if err != nil {
		return false, err
	}

	cells = p.QuiescentIncompleteCells()
	defaultCtx, cancel2 := p.withResolvePassDeadline(ctx)
	progressedDefaults, err := p.QuiescentResolveDefaults(defaultCtx, cells)
	cancel2()
	if err != nil {
		return false, err
	}

	return progressedCycles || progressedDefaults, nil
}

// QuiescentIncompleteCells snapshots every cell not yet final, in creation
// order, for deterministic downstream processing. A caller driving its own
// resolve loop instead of Run can use this directly to see what work Run
// would currently be attempting.
func (p *Pool[V]) QuiescentIncompleteCells() []*Cell[V] {
	all := p.allCells()
	out := make([]*Cell[V], 0, len(all))
	for _, c := range all {
		if !c.IsComplete() {
			out = append(out, c)
		}
	}
	return out
}

// QuiescentResolveCycles finds closed SCCs among cells and applies each
// one's head cell's Key.Resolve policy, once per component. Exposed so a
// caller can run cycle resolution in isolation from fallback resolution.
func (p *Pool[V]) QuiescentResolveCycles(ctx context.Context, cells []*Cell[V]) (bool, error) {
	if len(cells) == 0 {
		return false, nil
	}
	ctx, end := p.tracer.StartResolvePass(ctx, "cycles", len(cells))
	var err error
	defer func() { end(err) }()

	sccs := findClosedSCCs(cells, func(c *Cell[V]) []*Cell[V] { return c.depEdges() })

	progressed := false
	for _, scc := range sccs {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return progressed, err
		default:
		}
		finalized, perr := p.QuiescentResolveCell(scc)
		if perr != nil {
			err = perr
			return progressed, err
		}
		if finalized {
			progressed = true
		}
	}
	if p.metric != nil {
		p.metric.resolvePasses.WithLabelValues("cycles").Inc()
	}
	return progressed, nil
}

// QuiescentResolveDefaults applies each remaining non-final cell's
// Key.Fallback policy, grouping cells by shared key identity (cells sharing
// a Key are resolved together, the same way Resolve receives a whole SCC).
// In the common case each cell carries its own distinct Key, so Fallback is
// usually invoked with a single-element slice.
func (p *Pool[V]) QuiescentResolveDefaults(ctx context.Context, cells []*Cell[V]) (bool, error) {
	if len(cells) == 0 {
		return false, nil
	}
	ctx, end := p.tracer.StartResolvePass(ctx, "fallback", len(cells))
	var err error
	defer func() { end(err) }()

	byKey := groupByKey(cells)
	progressed := false
	for _, group := range byKey {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return progressed, err
		default:
		}
		finalized, perr := p.QuiescentResolveDefault(group)
		if perr != nil {
			err = perr
			return progressed, err
		}
		if finalized {
			progressed = true
		}
	}
	if p.metric != nil {
		p.metric.resolvePasses.WithLabelValues("fallback").Inc()
	}
	return progressed, nil
}

// groupByKey buckets cells sharing the same Key, preserving first-seen
// (creation) order both across and within buckets.
func groupByKey[V comparable](cells []*Cell[V]) [][]*Cell[V] {
	index := map[Key[V]]int{}
	var groups [][]*Cell[V]
	for _, c := range cells {
		if i, ok := index[c.key]; ok {
			groups[i] = append(groups[i], c)
			continue
		}
		index[c.key] = len(groups)
		groups = append(groups, []*Cell[V]{c})
	}
	return groups
}

// applyKeyResults finalizes whichever cells a Resolve/Fallback call named,
// via resolveWithValue, and reports whether at least one cell was actually
// finalized — not merely whether the policy was invoked. A failing or empty
// policy therefore reports no progress, so a pathological Key can never
// wedge a resolve loop into believing it is making headway.
func applyKeyResults[V comparable](p *Pool[V], results []CellValue[V], rejectedLogTag string) bool {
	progressed := false
	for _, cv := range results {
		if cv.Cell.IsComplete() {
			// resolveWithValue leaves an already-final cell untouched and
			// reports no error; that is not progress.
			continue
		}
		if perr := cv.Cell.resolveWithValue(cv.Value); perr != nil {
			p.log(LevelDebug, rejectedLogTag, cv.Cell, perr)
			continue
		}
		progressed = true
	}
	return progressed
}

// QuiescentResolveCell applies scc's head cell's (first in creation order)
// Key.Resolve policy to the whole component in a single pass, finalizing
// whichever cells it names via resolveWithValue. Cells the policy omits are
// left untouched for a later pass. The returned bool reports whether at
// least one cell was actually finalized.
func (p *Pool[V]) QuiescentResolveCell(scc []*Cell[V]) (bool, error) {
	if len(scc) == 0 {
		return false, nil
	}
	head := scc[0]
	results, err := head.key.Resolve(scc)
	if err != nil {
		p.log(LevelWarn, "resolve-policy-failed", head, err)
		return false, nil
	}
	return applyKeyResults(p, results, "resolve-apply-rejected"), nil
}

// WhileQuiescentResolveCell repeatedly applies QuiescentResolveCell to scc
// until every cell in it is final or a pass makes no further progress.
// Useful for a Key.Resolve that only finalizes part of its component per
// call, deriving the rest from what it just finalized.
func (p *Pool[V]) WhileQuiescentResolveCell(scc []*Cell[V]) (bool, error) {
	progressedOverall := false
	for !allComplete(scc) {
		progressed, err := p.QuiescentResolveCell(scc)
		if err != nil {
			return progressedOverall, err
		}
		if !progressed {
			return progressedOverall, nil
		}
		progressedOverall = true
	}
	return progressedOverall, nil
}

// QuiescentResolveDefault applies cells' shared Key.Fallback policy in a
// single pass, finalizing whichever cells it names via resolveWithValue.
func (p *Pool[V]) QuiescentResolveDefault(cells []*Cell[V]) (bool, error) {
	if len(cells) == 0 {
		return false, nil
	}
	head := cells[0]
	results, err := head.key.Fallback(cells)
	if err != nil {
		p.log(LevelWarn, "fallback-policy-failed", head, err)
		return false, nil
	}
	return applyKeyResults(p, results, "fallback-apply-rejected"), nil
}

// WhileQuiescentResolveDefault repeatedly applies QuiescentResolveDefault to
// cells until every one of them is final or a pass makes no further
// progress.
func (p *Pool[V]) WhileQuiescentResolveDefault(cells []*Cell[V]) (bool, error) {
	progressedOverall := false
	for !allComplete(cells) {
		progressed, err := p.QuiescentResolveDefault(cells)
		if err != nil {
			return progressedOverall, err
		}
		if !progressed {
			return progressedOverall, nil
		}
		progressedOverall = true
	}
	return progressedOverall, nil
}

func allComplete[V comparable](cells []*Cell[V]) bool {
	for _, c := range cells {
		if !c.IsComplete() {
			return false
		}
	}
	return true
}

// withResolvePassDeadline bounds a single pass by the pool's configured
// resolvePassTimeout. resolveOnce wires the returned context directly into
// QuiescentResolveCycles/QuiescentResolveDefaults, which select on its
// Done channel between components; a Key.Resolve/Fallback call that is
// already running is not interrupted. The default (15 minutes) is set in
// options.go.
func (p *Pool[V]) withResolvePassDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.resolvePassTimeout)
}
