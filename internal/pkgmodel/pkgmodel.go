// Package pkgmodel defines the immutable value types shared by the pool,
// the solver and the resolver: packages, requirement edges, and resolved
// package sets.
package pkgmodel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/pkgforge/internal/version"
)

// Requirement is a single dependency edge declared by a package.
//
// Marker is an optional environment predicate (an HCL expression over the
// `target` object, e.g. `target.os == "linux"`); an empty marker always
// holds. Extra optionally gates the edge to a named capability flag: the
// edge only activates when that extra is in the active set for the
// resolution.
type Requirement struct {
	Name       string
	Constraint string
	Marker     string
	Extra      string
}

// String renders the requirement in PEP-508-like text, which is the form
// required in UnresolvableGraph error reports.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.Constraint != "" && r.Constraint != "*" {
		fmt.Fprintf(&b, " (%s)", r.Constraint)
	}
	if r.Extra != "" {
		fmt.Fprintf(&b, " [%s]", r.Extra)
	}
	if r.Marker != "" {
		fmt.Fprintf(&b, "; %s", r.Marker)
	}
	return b.String()
}

// Package is a resolvable unit. Identity equality is (Name, Version);
// packages are immutable once constructed by the pool.
type Package struct {
	Name    string
	Version version.Version

	// Requires are runtime dependency edges; BuildRequires are edges that
	// must be satisfiable at build time only.
	Requires      []Requirement
	BuildRequires []Requirement

	// CyclicRuntimeDeps names the packages this package tolerates as
	// late-injected cycle partners during build ordering.
	CyclicRuntimeDeps map[string]struct{}

	// Features are extras this package activates on its own behalf when it
	// is the resolution root.
	Features []string

	// Recipe is the shell fragment the build driver runs to build and
	// install this package into the image root. Opaque to resolution.
	Recipe string
}

// ID returns the canonical "name@version" identity string.
func (p *Package) ID() string {
	return p.Name + "@" + p.Version.String()
}

// ToleratesCycleWith reports whether p declared name as an acceptable
// late-injected cyclic runtime dependency.
func (p *Package) ToleratesCycleWith(name string) bool {
	_, ok := p.CyclicRuntimeDeps[name]
	return ok
}

// ResolvedSet is the flat output of one solver invocation: exactly one
// chosen package per name.
type ResolvedSet map[string]*Package

// Names returns the package names in sorted order, giving every consumer
// of a resolved set a deterministic iteration order.
func (s ResolvedSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
