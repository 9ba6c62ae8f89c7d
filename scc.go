package latticeflow

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// findClosedSCCs computes the closed strongly connected components of the
// graph (nodes, succ): maximal subsets S where every node is reachable from
// every other node in S, and no edge leaves S. Each node appears in at most
// one returned SCC; open SCCs are omitted.
//
// Implementation note: rather than a single fused path-based traversal that
// kills a candidate the instant an escaping edge is seen, this runs a
// standard iterative (non-recursive) Tarjan pass to find every SCC, then
// filters to the closed ones in a second linear pass. Same O(|N|+|E|)
// contract, easier to verify correct over a mutating cell graph snapshot.
//
// nodes and succ must describe a fixed snapshot: the caller is responsible
// for not mutating cell dependency edges while this runs (quiescence
// guarantees that).
func findClosedSCCs[N comparable](nodes []N, succ func(N) []N) [][]N {
	order := make(map[N]int, len(nodes))
	for i, n := range nodes {
		order[n] = i
	}

	const unvisited = -1
	index := make(map[N]int, len(nodes))
	lowlink := make(map[N]int, len(nodes))
	onStack := make(map[N]bool, len(nodes))
	for _, n := range nodes {
		index[n] = unvisited
	}

	var stack []N
	var sccs [][]N
	counter := 0

	type frame struct {
		node     N
		children []N
		i        int
	}

	for _, root := range nodes {
		if index[root] != unvisited {
			continue
		}

		var work []*frame
		push := func(n N) {
			index[n] = counter
			lowlink[n] = counter
			counter++
			stack = append(stack, n)
			onStack[n] = true
			work = append(work, &frame{node: n, children: succ(n)})
		}
		push(root)

		for len(work) > 0 {
			top := work[len(work)-1]
			if top.i < len(top.children) {
				w := top.children[top.i]
				top.i++
				if _, ok := order[w]; !ok {
					// Edge to a node outside the snapshot: treat as
					// escaping (the SCC containing top.node cannot be
					// closed), but still valid for reachability walks
					// among in-snapshot nodes.
					continue
				}
				switch index[w] {
				case unvisited:
					push(w)
				default:
					if onStack[w] && index[w] < lowlink[top.node] {
						lowlink[top.node] = index[w]
					}
				}
				continue
			}

			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1]
				if lowlink[top.node] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[top.node]
				}
			}

			if lowlink[top.node] == index[top.node] {
				var scc []N
				for {
					n := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[n] = false
					scc = append(scc, n)
					if n == top.node {
						break
					}
				}
				sccs = append(sccs, scc)
			}
		}
	}

	closed := sccs[:0]
	for _, scc := range sccs {
		member := make(map[N]struct{}, len(scc))
		for _, n := range scc {
			member[n] = struct{}{}
		}
		// A singleton with no self-edge is not a cycle at all, so it only
		// counts as closed if the component has at least one edge.
		isClosed := true
		hasEdge := false
		for _, n := range scc {
			for _, w := range succ(n) {
				hasEdge = true
				if _, ok := member[w]; !ok {
					isClosed = false
					break
				}
			}
			if !isClosed {
				break
			}
		}
		if isClosed && hasEdge {
			closed = append(closed, scc)
		}
	}

	// Deterministic output order: by the minimum snapshot-order member of
	// each component, matching the creation-sequence determinism the rest
	// of the engine relies on.
	slices.SortFunc(closed, func(a, b []N) int {
		return minOrder(a, order) - minOrder(b, order)
	})
	for _, scc := range closed {
		slices.SortFunc(scc, func(a, b N) int { return order[a] - order[b] })
	}

	return closed
}

func minOrder[N comparable](nodes []N, order map[N]int) int {
	m := -1
	for _, n := range nodes {
		o := order[n]
		if m == -1 || o < m {
			m = o
		}
	}
	return m
}

// keysOf returns the keys of m, in map iteration order (which is not
// specified). Nothing in the package calls it at present.
func keysOf[K comparable, V any](m map[K]V) []K {
	return maps.Keys(m)
}
