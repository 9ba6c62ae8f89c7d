package latticeflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindClosedSCCsSimpleCycle(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	sccs := findClosedSCCs(nodes, func(n string) []string { return edges[n] })
	require.Len(t, sccs, 1)
	require.ElementsMatch(t, []string{"a", "b", "c"}, sccs[0])
}

func TestFindClosedSCCsOpenComponentOmitted(t *testing.T) {
	// a -> b -> a is closed; c -> a escapes (c is not part of a closed SCC
	// on its own, and the {a,b} cycle has no edge leaving it).
	nodes := []string{"a", "b", "c"}
	edges := map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"a"},
	}
	sccs := findClosedSCCs(nodes, func(n string) []string { return edges[n] })
	require.Len(t, sccs, 1)
	require.ElementsMatch(t, []string{"a", "b"}, sccs[0])
}

func TestFindClosedSCCsSelfLoop(t *testing.T) {
	nodes := []string{"a"}
	edges := map[string][]string{"a": {"a"}}
	sccs := findClosedSCCs(nodes, func(n string) []string { return edges[n] })
	require.Len(t, sccs, 1)
	require.Equal(t, []string{"a"}, sccs[0])
}

func TestFindClosedSCCsNoEdgesNoComponent(t *testing.T) {
	nodes := []string{"a", "b"}
	sccs := findClosedSCCs(nodes, func(n string) []string { return nil })
	require.Empty(t, sccs)
}

func TestFindClosedSCCsDeterministicOrder(t *testing.T) {
	nodes := []string{"x", "y", "a", "b"}
	edges := map[string][]string{
		"x": {"y"}, "y": {"x"},
		"a": {"b"}, "b": {"a"},
	}
	sccs := findClosedSCCs(nodes, func(n string) []string { return edges[n] })
	require.Len(t, sccs, 2)
	// x,y precede a,b in nodes order, so their component must be first.
	require.ElementsMatch(t, []string{"x", "y"}, sccs[0])
	require.ElementsMatch(t, []string{"a", "b"}, sccs[1])
}
