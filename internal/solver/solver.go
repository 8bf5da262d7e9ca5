// Package solver defines the resolution oracle: the component that turns a
// synthetic root package plus a package pool into a flat resolved set with
// exactly one version per name. The resolver consumes it as a black box;
// Default is a deterministic highest-satisfying-version implementation.
package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/pool"
	"github.com/vk/pkgforge/internal/version"
)

// Options tune a single Solve invocation.
type Options struct {
	// ActiveExtras gates extras-conditional requirement edges.
	ActiveExtras map[string]struct{}

	// IncludeBuildReqs merges every package's build requirements into its
	// effective dependency set for this solve.
	IncludeBuildReqs bool
}

// Solver resolves a dependency closure. Implementations must be
// deterministic for a fixed pool snapshot and must report unsatisfiable
// constraints as *ResolutionFailedError, distinct from internal errors.
type Solver interface {
	Solve(ctx context.Context, root *pkgmodel.Package, p *pool.Pool, opts Options) (pkgmodel.ResolvedSet, error)
}

// ResolutionFailedError reports that no package selection can satisfy the
// named requirement set. It is unrecoverable and is not retried.
type ResolutionFailedError struct {
	Requirements []pkgmodel.Requirement
}

func (e *ResolutionFailedError) Error() string {
	reqs := make([]string, len(e.Requirements))
	for i, r := range e.Requirements {
		reqs[i] = r.String()
	}
	return fmt.Sprintf("unsatisfiable requirements: %s", strings.Join(reqs, ", "))
}

// Default is the built-in oracle. Version selection follows the rule used
// across the codebase for deterministic choice: the highest version
// satisfying every accumulated constraint wins.
type Default struct{}

// New returns the default solver.
func New() *Default {
	return &Default{}
}

// maxSolveRounds bounds the demand/selection fixpoint. Selection is
// monotone in practice; the cap guards against a pathological pool.
const maxSolveRounds = 500

func (s *Default) Solve(ctx context.Context, root *pkgmodel.Package, p *pool.Pool, opts Options) (pkgmodel.ResolvedSet, error) {
	logger := ctxlog.FromContext(ctx)

	selected := make(pkgmodel.ResolvedSet)
	for round := 0; round < maxSolveRounds; round++ {
		demands := s.collectDemands(root, selected, opts)

		changed := false
		names := make([]string, 0, len(demands))
		for name := range demands {
			names = append(names, name)
		}
		sort.Strings(names)

		next := make(pkgmodel.ResolvedSet, len(demands))
		for _, name := range names {
			choice, err := s.choose(name, p, demands[name])
			if err != nil {
				return nil, err
			}
			next[name] = choice
			if prev, ok := selected[name]; !ok || version.Compare(prev.Version, choice.Version) != 0 {
				changed = true
			}
		}
		if len(next) != len(selected) {
			changed = true
		}
		selected = next

		if !changed {
			logger.Debug("Resolution converged.", "rounds", round+1, "packages", len(selected))
			return selected, nil
		}
	}

	return nil, fmt.Errorf("solver: resolution did not converge after %d rounds", maxSolveRounds)
}

// collectDemands gathers every active requirement imposed by the root and
// by the currently selected packages, keyed by target package name.
func (s *Default) collectDemands(root *pkgmodel.Package, selected pkgmodel.ResolvedSet, opts Options) map[string][]pkgmodel.Requirement {
	demands := make(map[string][]pkgmodel.Requirement)

	add := func(reqs []pkgmodel.Requirement) {
		for _, req := range reqs {
			if !s.isActive(req, opts) {
				continue
			}
			demands[req.Name] = append(demands[req.Name], req)
		}
	}

	add(root.Requires)
	if opts.IncludeBuildReqs {
		add(root.BuildRequires)
	}

	for _, name := range selected.Names() {
		pkg := selected[name]
		add(pkg.Requires)
		if opts.IncludeBuildReqs {
			add(pkg.BuildRequires)
		}
	}

	return demands
}

func (s *Default) isActive(req pkgmodel.Requirement, opts Options) bool {
	if req.Extra == "" {
		return true
	}
	_, ok := opts.ActiveExtras[req.Extra]
	return ok
}

// choose picks the highest pool version of name satisfying every demand.
func (s *Default) choose(name string, p *pool.Pool, reqs []pkgmodel.Requirement) (*pkgmodel.Package, error) {
	candidates := p.Lookup(name)
	if len(candidates) == 0 {
		return nil, &ResolutionFailedError{Requirements: reqs}
	}

	constraints := make([]version.Constraint, 0, len(reqs))
	for _, req := range reqs {
		c, err := version.ParseConstraint(req.Constraint)
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, c)
	}

	// Candidates are stored highest-first, so the first full match wins.
	for _, candidate := range candidates {
		ok := true
		for _, c := range constraints {
			if !version.Satisfies(candidate.Version, c) {
				ok = false
				break
			}
		}
		if ok {
			return candidate, nil
		}
	}

	return nil, &ResolutionFailedError{Requirements: reqs}
}
