// Package pool implements the package metadata repository: a read-only
// collection of every known package version, loaded from HCL manifests
// discovered through a YAML channel index. The pool is the solver's source
// of truth for requirements, build requirements and declared cyclic
// runtime dependencies.
package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/version"
)

// Pool indexes packages by name. All versions of a name are retained; the
// solver chooses among them.
type Pool struct {
	packages map[string][]*pkgmodel.Package
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{packages: make(map[string][]*pkgmodel.Package)}
}

// Add registers a package. Duplicate (name, version) pairs are rejected:
// a pool must never offer two packages with the same identity.
func (p *Pool) Add(pkg *pkgmodel.Package) error {
	for _, existing := range p.packages[pkg.Name] {
		if version.Compare(existing.Version, pkg.Version) == 0 {
			return fmt.Errorf("pool: duplicate package %s", pkg.ID())
		}
	}
	p.packages[pkg.Name] = append(p.packages[pkg.Name], pkg)
	// Highest version first keeps Lookup deterministic regardless of
	// manifest discovery order.
	sort.Slice(p.packages[pkg.Name], func(i, j int) bool {
		return version.Compare(p.packages[pkg.Name][i].Version, p.packages[pkg.Name][j].Version) > 0
	})
	return nil
}

// Lookup returns all known versions of name, highest first.
func (p *Pool) Lookup(name string) []*pkgmodel.Package {
	return p.packages[name]
}

// RequirementsOf returns pkg's declared runtime requirements.
func (p *Pool) RequirementsOf(pkg *pkgmodel.Package) []pkgmodel.Requirement {
	return pkg.Requires
}

// BuildRequirementsOf returns pkg's declared build-time requirements.
func (p *Pool) BuildRequirementsOf(pkg *pkgmodel.Package) []pkgmodel.Requirement {
	return pkg.BuildRequires
}

// CyclicRuntimeDepsOf returns the names pkg tolerates as late-injected
// cycle partners.
func (p *Pool) CyclicRuntimeDepsOf(pkg *pkgmodel.Package) map[string]struct{} {
	return pkg.CyclicRuntimeDeps
}

// Load builds a pool from a channel index file. Every repository directory
// listed in the index is scanned for *.hcl package manifests.
func Load(ctx context.Context, indexPath string) (*Pool, error) {
	logger := ctxlog.FromContext(ctx)

	idx, err := readIndex(indexPath)
	if err != nil {
		return nil, err
	}

	p := New()
	for _, dir := range idx.Repositories {
		pkgs, err := loadManifestDir(dir)
		if err != nil {
			return nil, fmt.Errorf("pool: repository %q: %w", dir, err)
		}
		for _, pkg := range pkgs {
			if err := p.Add(pkg); err != nil {
				return nil, err
			}
		}
		logger.Debug("Repository loaded.", "dir", dir, "packages", len(pkgs))
	}

	return p, nil
}
