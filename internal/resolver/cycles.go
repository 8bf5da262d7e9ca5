package resolver

import (
	"context"
	"errors"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/dag"
	"github.com/vk/pkgforge/internal/pkgmodel"
)

// breakState is the explicit state machine driving the cycle-breaking
// loop. Modeling it as states (rather than recursion) keeps the
// no-progress termination check auditable.
type breakState int

const (
	stateSorting breakState = iota
	stateCycleFound
	stateTolerated
	stateRejected
)

// lateInjection records that a dependent package tolerates having one of
// its runtime dependencies built immediately after it instead of before.
type lateInjection struct {
	dependent string
	deps      []string
}

// breakCycles topologically sorts the build graph, removing tolerated
// cyclic edges until the sort succeeds. Legitimate cycles occur between
// packages whose build tooling depends on each other at runtime (the
// classic example is a build backend whose own dependency needs that
// backend to build); the dependent package must declare the partner in its
// cyclic runtime dependency set, and the partner is expected to inject
// itself into the dependent's build context by environment manipulation
// rather than ordinary ordering.
//
// Unrecoverable cases: a cycle longer than two packages, a cycle identical
// to the one seen on the previous iteration (no progress), or a cycle
// neither side of which declares tolerance.
func (r *Resolver) breakCycles(ctx context.Context, g *dag.Graph, set pkgmodel.ResolvedSet) ([]string, []lateInjection, error) {
	logger := ctxlog.FromContext(ctx)

	var (
		injected  []lateInjection
		byName    = make(map[string]int)
		lastCycle *dag.CycleError
		cycleErr  *dag.CycleError
	)

	state := stateSorting
	for {
		switch state {
		case stateSorting:
			order, err := g.TopoSort()
			if err == nil {
				return order, injected, nil
			}
			if !errors.As(err, &cycleErr) {
				return nil, nil, err
			}
			state = stateCycleFound

		case stateCycleFound:
			// A recoverable cycle involves exactly two packages: its
			// reported path has length three (the first node repeated).
			if len(cycleErr.Path) > 3 || cycleErr.SamePath(lastCycle) {
				state = stateRejected
				continue
			}

			dep := set[cycleErr.Path[len(cycleErr.Path)-1]]
			dependent := set[cycleErr.Path[len(cycleErr.Path)-2]]
			if !dependent.ToleratesCycleWith(dep.Name) {
				dep, dependent = dependent, dep
				if !dependent.ToleratesCycleWith(dep.Name) {
					state = stateRejected
					continue
				}
			}

			logger.Debug("Tolerated build cycle, deferring dependency.",
				"dependent", dependent.Name, "dependency", dep.Name)

			lastCycle = cycleErr
			g.RemoveDependency(dependent.Name, dep.Name)
			if idx, ok := byName[dependent.Name]; ok {
				injected[idx].deps = append(injected[idx].deps, dep.Name)
			} else {
				byName[dependent.Name] = len(injected)
				injected = append(injected, lateInjection{
					dependent: dependent.Name,
					deps:      []string{dep.Name},
				})
			}
			state = stateTolerated

		case stateTolerated:
			state = stateSorting

		case stateRejected:
			return nil, nil, &UnresolvableGraphError{Cycle: cycleErr.Path}
		}
	}
}

// spliceLateDeps moves each late-injected dependency to immediately after
// its dependent in the linear build order. The dependent must already
// exist at build time before its cyclic partner is built, and the partner
// must follow as closely as possible so the dependent's build context is
// still warm.
func spliceLateDeps(order []string, injected []lateInjection) []string {
	if len(injected) == 0 {
		return order
	}

	moved := make(map[string]struct{})
	for _, inj := range injected {
		for _, dep := range inj.deps {
			moved[dep] = struct{}{}
		}
	}

	kept := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := moved[name]; ok {
			continue
		}
		kept = append(kept, name)
	}

	for _, inj := range injected {
		for i, name := range kept {
			if name != inj.dependent {
				continue
			}
			spliced := make([]string, 0, len(kept)+len(inj.deps))
			spliced = append(spliced, kept[:i+1]...)
			spliced = append(spliced, inj.deps...)
			spliced = append(spliced, kept[i+1:]...)
			kept = spliced
			break
		}
	}
	return kept
}
