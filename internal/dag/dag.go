package dag

import (
	"fmt"
	"sort"
)

// Graph is a dependency graph keyed by node ID. It is built fresh for each
// resolution pass and consumed on a single goroutine, so it carries no
// locking.
type Graph struct {
	nodes map[string]*node
	order []string // node insertion order, the topological tie-breaker
}

type node struct {
	id   string
	deps map[string]struct{}
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:   id,
		deps: make(map[string]struct{}),
	}
	g.order = append(g.order, id)
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddDependency records that node `of` depends on node `on`. An error is
// returned if either node does not exist or if the edge would create a
// self-reference.
func (g *Graph) AddDependency(of, on string) error {
	if of == on {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", of, on)
	}

	dependent, ok := g.nodes[of]
	if !ok {
		return fmt.Errorf("dependent node not found: %s", of)
	}
	if _, ok := g.nodes[on]; !ok {
		return fmt.Errorf("dependency node not found: %s (required by %s)", on, of)
	}

	dependent.deps[on] = struct{}{}
	return nil
}

// RemoveDependency deletes the `of` depends-on `on` edge if present.
func (g *Graph) RemoveDependency(of, on string) {
	if n, ok := g.nodes[of]; ok {
		delete(n.deps, on)
	}
}

// Dependencies returns the sorted IDs the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns the sorted IDs of nodes that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	var dependents []string
	for _, n := range g.nodes {
		if _, ok := n.deps[id]; ok {
			dependents = append(dependents, n.id)
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}
