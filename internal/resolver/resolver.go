// Package resolver implements the dependency graph resolver: it drives the
// solver oracle twice per attempt (runtime-only, then runtime+build-time),
// filters edges by environment marker, topologically orders both resolved
// sets, breaks declared build-dependency cycles, and reconciles version
// mismatches between the two graphs with a single re-resolution retry.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/dag"
	"github.com/vk/pkgforge/internal/environment"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/pool"
	"github.com/vk/pkgforge/internal/solver"
	"github.com/vk/pkgforge/internal/version"
)

// Result carries the two package orders plus the cycle-broken build graph,
// which the build driver uses as its happens-before barrier when running
// package builds in parallel.
type Result struct {
	InstallOrder []*pkgmodel.Package
	BuildOrder   []*pkgmodel.Package
	BuildGraph   *dag.Graph
}

// Resolver binds the collaborators a resolution needs. All state is
// per-invocation; a Resolver is safe to reuse across builds.
type Resolver struct {
	pool   *pool.Pool
	solver solver.Solver
	env    *environment.Environment
}

func New(p *pool.Pool, s solver.Solver, env *environment.Environment) *Resolver {
	return &Resolver{pool: p, solver: s, env: env}
}

// Resolve computes the install order and the build order for rootPkg. The
// only built-in retry is a single cross-graph reconciliation pass: if the
// build-time solve chose different versions than the runtime solve, the
// build-time choices are pinned into the runtime requirements and the
// whole procedure runs once more. A second mismatch is terminal.
func (r *Resolver) Resolve(ctx context.Context, rootPkg *pkgmodel.Package) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	res, err := r.resolveOnce(ctx, rootPkg, nil)
	if err != nil {
		return nil, err
	}

	pins := mismatchedPins(res.InstallOrder, res.BuildOrder)
	if len(pins) > 0 {
		logger.Debug("Build-time solve disagreed with runtime solve, re-resolving with pins.", "pins", len(pins))
		res, err = r.resolveOnce(ctx, rootPkg, pins)
		if err != nil {
			return nil, err
		}
		if again := mismatchedPins(res.InstallOrder, res.BuildOrder); len(again) > 0 {
			return nil, &UnresolvableGraphError{Mismatched: again}
		}
	}

	return res, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, rootPkg *pkgmodel.Package, extraPins []pkgmodel.Requirement) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	extras := r.activeExtras(rootPkg)

	// Pass 1: runtime requirements only.
	root := syntheticRoot("__root__", rootPkg, extraPins)
	runtimeSet, err := r.solver.Solve(ctx, root, r.pool, solver.Options{ActiveExtras: extras})
	if err != nil {
		return nil, err
	}
	logger.Debug("Runtime resolution complete.", "packages", len(runtimeSet))

	installGraph, err := r.buildGraph(runtimeSet, extras, false)
	if err != nil {
		return nil, err
	}
	installNames, err := installGraph.TopoSort()
	if err != nil {
		// The runtime graph is a DAG by construction; a cycle here means
		// the pool metadata itself is inconsistent.
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &UnresolvableGraphError{Cycle: cycleErr.Path}
		}
		return nil, err
	}

	// Pass 2: build requirements merged into runtime requirements. The
	// reconciliation pins restate the build solve's own choices, so only
	// the runtime root carries them.
	buildRoot := syntheticRoot("__build_root__", rootPkg, nil)
	buildSet, err := r.solver.Solve(ctx, buildRoot, r.pool, solver.Options{
		ActiveExtras:     extras,
		IncludeBuildReqs: true,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Build-time resolution complete.", "packages", len(buildSet))

	buildGraph, err := r.buildGraph(buildSet, extras, true)
	if err != nil {
		return nil, err
	}

	buildNames, lateInjected, err := r.breakCycles(ctx, buildGraph, buildSet)
	if err != nil {
		return nil, err
	}
	buildNames = spliceLateDeps(buildNames, lateInjected)

	return &Result{
		InstallOrder: toPackages(installNames, runtimeSet),
		BuildOrder:   toPackages(buildNames, buildSet),
		BuildGraph:   buildGraph,
	}, nil
}

// activeExtras is the union of the target's capability flags (prefixed
// "capability-") and the root package's own declared features.
func (r *Resolver) activeExtras(rootPkg *pkgmodel.Package) map[string]struct{} {
	extras := make(map[string]struct{})
	for _, c := range r.env.Capabilities {
		extras["capability-"+c] = struct{}{}
	}
	for _, f := range rootPkg.Features {
		extras[f] = struct{}{}
	}
	return extras
}

// syntheticRoot constructs the throwaway root package for one solver pass:
// an exact pin on the real root plus any reconciliation pins.
func syntheticRoot(name string, rootPkg *pkgmodel.Package, extraPins []pkgmodel.Requirement) *pkgmodel.Package {
	reqs := make([]pkgmodel.Requirement, 0, 1+len(extraPins))
	reqs = append(reqs, pkgmodel.Requirement{
		Name:       rootPkg.Name,
		Constraint: "==" + rootPkg.Version.String(),
	})
	reqs = append(reqs, extraPins...)
	return &pkgmodel.Package{
		Name:     name,
		Version:  version.MustParse("1.0.0"),
		Requires: reqs,
	}
}

// buildGraph constructs a marker- and extras-filtered dependency graph over
// a resolved set. Nodes are inserted in sorted name order so topological
// tie-breaking is reproducible. Every surviving edge target must itself be
// resolved; anything else is an invalid graph.
func (r *Resolver) buildGraph(set pkgmodel.ResolvedSet, extras map[string]struct{}, includeBuildReqs bool) (*dag.Graph, error) {
	g := dag.New()
	for _, name := range set.Names() {
		g.AddNode(name)
	}

	for _, name := range set.Names() {
		pkg := set[name]
		reqs := pkg.Requires
		if includeBuildReqs {
			reqs = append(append([]pkgmodel.Requirement{}, reqs...), pkg.BuildRequires...)
		}
		for _, req := range reqs {
			if req.Extra != "" {
				if _, ok := extras[req.Extra]; !ok {
					continue
				}
			}
			ok, err := r.env.IsMarkerSatisfied(req.Marker)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			// The oracle may insert a package dependency on itself as part
			// of extras handling; a package never depends on itself.
			if req.Name == pkg.Name {
				continue
			}
			if !g.HasNode(req.Name) {
				return nil, fmt.Errorf("resolver: invalid graph: %s requires %s, which is not in the resolved set", pkg.Name, req.Name)
			}
			if err := g.AddDependency(pkg.Name, req.Name); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

// mismatchedPins compares the versions chosen for names present in both
// orders and returns exact pins for every disagreement, favoring the
// build-time choice (the runtime solve is re-run with these injected).
func mismatchedPins(install, build []*pkgmodel.Package) []pkgmodel.Requirement {
	buildIndex := make(map[string]*pkgmodel.Package, len(build))
	for _, pkg := range build {
		buildIndex[pkg.Name] = pkg
	}

	var pins []pkgmodel.Requirement
	for _, pkg := range install {
		buildPkg, ok := buildIndex[pkg.Name]
		if !ok {
			continue
		}
		if version.Compare(buildPkg.Version, pkg.Version) != 0 {
			pins = append(pins, pkgmodel.Requirement{
				Name:       buildPkg.Name,
				Constraint: "==" + buildPkg.Version.String(),
			})
		}
	}
	return pins
}

func toPackages(names []string, set pkgmodel.ResolvedSet) []*pkgmodel.Package {
	pkgs := make([]*pkgmodel.Package, 0, len(names))
	for _, name := range names {
		pkgs = append(pkgs, set[name])
	}
	return pkgs
}
