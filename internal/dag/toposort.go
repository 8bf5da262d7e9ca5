package dag

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found during a topological sort.
//
// Path lists the nodes of the cycle such that every node is an immediate
// dependency of the node that follows it, with the first node repeated at
// the end to close the cycle. For a two-node cycle between a and b the
// path is [a b a].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// SamePath reports whether other describes the identical cycle path. Used
// by callers to detect a cycle-breaking loop that is making no progress.
func (e *CycleError) SamePath(other *CycleError) bool {
	if other == nil || len(e.Path) != len(other.Path) {
		return false
	}
	for i, id := range e.Path {
		if other.Path[i] != id {
			return false
		}
	}
	return true
}

// TopoSort returns a linearization of the graph such that every node's
// dependencies precede it. Ties are broken by node insertion order, making
// the result deterministic for a fixed construction sequence. If the graph
// contains a cycle, a *CycleError describing it is returned.
func (g *Graph) TopoSort() ([]string, error) {
	remainingDeps := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		remainingDeps[id] = len(n.deps)
	}

	done := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	for len(result) < len(g.nodes) {
		progressed := false
		for _, id := range g.order {
			if done[id] || remainingDeps[id] != 0 {
				continue
			}
			done[id] = true
			result = append(result, id)
			progressed = true
			for _, m := range g.nodes {
				if _, ok := m.deps[id]; ok && !done[m.id] {
					remainingDeps[m.id]--
				}
			}
		}
		if !progressed {
			return nil, g.findCycle(done)
		}
	}

	return result, nil
}

// findCycle locates a cycle among the nodes not yet emitted by TopoSort.
// The walk follows dependency edges in insertion order, so the reported
// path is deterministic.
func (g *Graph) findCycle(done map[string]bool) *CycleError {
	onStack := make(map[string]int)
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		if pos, ok := onStack[id]; ok {
			// stack[pos:] walked dependency edges, so reversing it orders
			// every node before the one that depends on it.
			cycle := make([]string, 0, len(stack)-pos+1)
			for i := len(stack) - 1; i >= pos; i-- {
				cycle = append(cycle, stack[i])
			}
			cycle = append(cycle, cycle[0])
			return &CycleError{Path: cycle}
		}
		if done[id] {
			return nil
		}
		onStack[id] = len(stack)
		stack = append(stack, id)
		for _, dep := range g.sortedDeps(id) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(onStack, id)
		stack = stack[:len(stack)-1]
		done[id] = true
		return nil
	}

	for _, id := range g.order {
		if done[id] {
			continue
		}
		if err := visit(id); err != nil {
			return err
		}
	}

	// TopoSort only calls findCycle when it stalled, so a cycle must exist.
	panic("dag: topological sort stalled without a cycle")
}

func (g *Graph) sortedDeps(id string) []string {
	deps, _ := g.Dependencies(id)
	return deps
}
