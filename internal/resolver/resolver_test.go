package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pkgforge/internal/environment"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/pool"
	"github.com/vk/pkgforge/internal/solver"
	"github.com/vk/pkgforge/internal/version"
)

func testEnv() *environment.Environment {
	return &environment.Environment{OS: "linux", Arch: "amd64", Libc: "gnu"}
}

func addPkg(t *testing.T, p *pool.Pool, pkg *pkgmodel.Package) *pkgmodel.Package {
	t.Helper()
	require.NoError(t, p.Add(pkg))
	return pkg
}

func names(pkgs []*pkgmodel.Package) []string {
	out := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		out[i] = pkg.Name
	}
	return out
}

func indexOf(t *testing.T, list []string, name string) int {
	t.Helper()
	for i, n := range list {
		if n == name {
			return i
		}
	}
	t.Fatalf("%s not found in %v", name, list)
	return -1
}

func TestResolveLinearChain(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.3.0")})
	addPkg(t, p, &pkgmodel.Package{
		Name:     "openssl",
		Version:  version.MustParse("3.2.0"),
		Requires: []pkgmodel.Requirement{{Name: "zlib"}},
	})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:     "app",
		Version:  version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{{Name: "openssl"}},
	})

	res, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), app)
	require.NoError(t, err)

	assert.Equal(t, []string{"zlib", "openssl", "app"}, names(res.InstallOrder))
	assert.Equal(t, []string{"zlib", "openssl", "app"}, names(res.BuildOrder))
	require.NotNil(t, res.BuildGraph)
	assert.Equal(t, 3, res.BuildGraph.Len())
}

func TestResolveBuildRequirementsOnlyInBuildOrder(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "cmake", Version: version.MustParse("3.28.0")})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:          "app",
		Version:       version.MustParse("1.0.0"),
		BuildRequires: []pkgmodel.Requirement{{Name: "cmake"}},
	})

	res, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), app)
	require.NoError(t, err)

	assert.Equal(t, []string{"app"}, names(res.InstallOrder))
	assert.Equal(t, []string{"cmake", "app"}, names(res.BuildOrder))
}

func TestResolveMarkerFiltering(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "winpthreads", Version: version.MustParse("1.0.0")})
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.3.0")})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:    "app",
		Version: version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{
			{Name: "zlib", Marker: `target.os == "linux"`},
			{Name: "winpthreads", Marker: `target.os == "windows"`},
		},
	})

	res, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), app)
	require.NoError(t, err)

	// The oracle keeps the marker-excluded package in the set, but the
	// graph carries no edge to it, so it sorts as an isolated node.
	install := names(res.InstallOrder)
	assert.Contains(t, install, "winpthreads")
	assert.Less(t, indexOf(t, install, "zlib"), indexOf(t, install, "app"))

	deps, err := res.BuildGraph.Dependencies("app")
	require.NoError(t, err)
	assert.Contains(t, deps, "zlib")
	assert.NotContains(t, deps, "winpthreads")
}

func TestResolveInvalidMarker(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.3.0")})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:     "app",
		Version:  version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{{Name: "zlib", Marker: "target.os =="}},
	})

	_, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), app)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse marker")
}

func TestResolveExtrasFromFeaturesAndCapabilities(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "openssl", Version: version.MustParse("3.2.0")})
	addPkg(t, p, &pkgmodel.Package{Name: "shlibtool", Version: version.MustParse("1.0.0")})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:    "app",
		Version: version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{
			{Name: "openssl", Extra: "tls"},
			{Name: "shlibtool", Extra: "capability-shared-libs"},
		},
		Features: []string{"tls"},
	})

	t.Run("feature extras active", func(t *testing.T) {
		env := testEnv()
		res, err := New(p, solver.New(), env).Resolve(context.Background(), app)
		require.NoError(t, err)
		assert.Contains(t, names(res.InstallOrder), "openssl")
		assert.NotContains(t, names(res.InstallOrder), "shlibtool")
	})

	t.Run("capability extras active", func(t *testing.T) {
		env := testEnv()
		env.Capabilities = []string{"shared-libs"}
		res, err := New(p, solver.New(), env).Resolve(context.Background(), app)
		require.NoError(t, err)
		assert.Contains(t, names(res.InstallOrder), "openssl")
		assert.Contains(t, names(res.InstallOrder), "shlibtool")
	})
}

func TestResolveToleratedBuildCycle(t *testing.T) {
	// The classic build-backend cycle: backend build-requires helper,
	// helper needs backend at runtime, and helper declares the tolerance.
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{
		Name:              "helper",
		Version:           version.MustParse("2.0.0"),
		Requires:          []pkgmodel.Requirement{{Name: "backend"}},
		CyclicRuntimeDeps: map[string]struct{}{"backend": {}},
	})
	backend := addPkg(t, p, &pkgmodel.Package{
		Name:          "backend",
		Version:       version.MustParse("1.0.0"),
		BuildRequires: []pkgmodel.Requirement{{Name: "helper"}},
	})

	res, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), backend)
	require.NoError(t, err)

	build := names(res.BuildOrder)
	require.Len(t, build, 2)
	// The tolerated dependency is deferred: helper builds first, then its
	// cyclic partner immediately after.
	assert.Equal(t, []string{"helper", "backend"}, build)

	// The broken edge must be gone from the graph the driver will use.
	deps, err := res.BuildGraph.Dependencies("helper")
	require.NoError(t, err)
	assert.NotContains(t, deps, "backend")
}

func TestResolveUntoleratedBuildCycle(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{
		Name:     "helper",
		Version:  version.MustParse("2.0.0"),
		Requires: []pkgmodel.Requirement{{Name: "backend"}},
	})
	backend := addPkg(t, p, &pkgmodel.Package{
		Name:          "backend",
		Version:       version.MustParse("1.0.0"),
		BuildRequires: []pkgmodel.Requirement{{Name: "helper"}},
	})

	_, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), backend)
	require.Error(t, err)

	var graphErr *UnresolvableGraphError
	require.ErrorAs(t, err, &graphErr)
	assert.NotEmpty(t, graphErr.Cycle)
	assert.Contains(t, err.Error(), "unbreakable cycle")
}

func TestResolveLongCycleAlwaysFails(t *testing.T) {
	// Three packages in a build cycle fail even with tolerances declared
	// on every participant.
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{
		Name:              "b",
		Version:           version.MustParse("1.0.0"),
		Requires:          []pkgmodel.Requirement{{Name: "c"}},
		CyclicRuntimeDeps: map[string]struct{}{"a": {}, "c": {}},
	})
	addPkg(t, p, &pkgmodel.Package{
		Name:              "c",
		Version:           version.MustParse("1.0.0"),
		Requires:          []pkgmodel.Requirement{{Name: "a"}},
		CyclicRuntimeDeps: map[string]struct{}{"a": {}, "b": {}},
	})
	a := addPkg(t, p, &pkgmodel.Package{
		Name:              "a",
		Version:           version.MustParse("1.0.0"),
		BuildRequires:     []pkgmodel.Requirement{{Name: "b"}},
		CyclicRuntimeDeps: map[string]struct{}{"b": {}, "c": {}},
	})

	_, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), a)
	require.Error(t, err)

	var graphErr *UnresolvableGraphError
	require.ErrorAs(t, err, &graphErr)
	require.Len(t, graphErr.Cycle, 4)
}

func TestResolveCrossGraphReconciliation(t *testing.T) {
	// The runtime solve wants the newest zlib; the build-time solve is
	// capped below it by a build requirement. One re-resolution with the
	// build-time pin must converge both orders onto the same version.
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.2.0")})
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.3.0")})
	addPkg(t, p, &pkgmodel.Package{
		Name:          "cmake",
		Version:       version.MustParse("3.28.0"),
		BuildRequires: []pkgmodel.Requirement{{Name: "zlib", Constraint: "<1.3.0"}},
	})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:          "app",
		Version:       version.MustParse("1.0.0"),
		Requires:      []pkgmodel.Requirement{{Name: "zlib"}},
		BuildRequires: []pkgmodel.Requirement{{Name: "cmake"}},
	})

	res, err := New(p, solver.New(), testEnv()).Resolve(context.Background(), app)
	require.NoError(t, err)

	versionOf := func(pkgs []*pkgmodel.Package, name string) string {
		for _, pkg := range pkgs {
			if pkg.Name == name {
				return pkg.Version.String()
			}
		}
		return ""
	}
	assert.Equal(t, "1.2.0", versionOf(res.InstallOrder, "zlib"))
	assert.Equal(t, "1.2.0", versionOf(res.BuildOrder, "zlib"))
}

// stubSolver returns canned sets keyed by the synthetic root name,
// ignoring pins, which forces the reconciliation retry to fail.
type stubSolver struct {
	runtime pkgmodel.ResolvedSet
	build   pkgmodel.ResolvedSet
}

func (s *stubSolver) Solve(_ context.Context, root *pkgmodel.Package, _ *pool.Pool, opts solver.Options) (pkgmodel.ResolvedSet, error) {
	if opts.IncludeBuildReqs {
		return s.build, nil
	}
	return s.runtime, nil
}

func TestResolvePersistentMismatchFails(t *testing.T) {
	app := &pkgmodel.Package{Name: "app", Version: version.MustParse("1.0.0")}
	stub := &stubSolver{
		runtime: pkgmodel.ResolvedSet{
			"app":  app,
			"zlib": {Name: "zlib", Version: version.MustParse("1.3.0")},
		},
		build: pkgmodel.ResolvedSet{
			"app":  app,
			"zlib": {Name: "zlib", Version: version.MustParse("1.2.0")},
		},
	}

	_, err := New(pool.New(), stub, testEnv()).Resolve(context.Background(), app)
	require.Error(t, err)

	var graphErr *UnresolvableGraphError
	require.ErrorAs(t, err, &graphErr)
	require.Len(t, graphErr.Mismatched, 1)
	assert.Equal(t, "zlib", graphErr.Mismatched[0].Name)
	assert.Equal(t, "==1.2.0", graphErr.Mismatched[0].Constraint)
	assert.Contains(t, err.Error(), "mismatching dependencies")
}

// recordingSolver mimics a build solve that disagrees with the runtime
// solve until a pin arrives, capturing every synthetic root it is handed.
type recordingSolver struct {
	roots []*pkgmodel.Package
}

func (s *recordingSolver) Solve(_ context.Context, root *pkgmodel.Package, _ *pool.Pool, opts solver.Options) (pkgmodel.ResolvedSet, error) {
	s.roots = append(s.roots, root)

	pinned := false
	for _, req := range root.Requires {
		if req.Name == "zlib" {
			pinned = true
		}
	}
	zlibVersion := "1.3.0"
	if pinned || opts.IncludeBuildReqs {
		zlibVersion = "1.2.0"
	}
	return pkgmodel.ResolvedSet{
		"app":  {Name: "app", Version: version.MustParse("1.0.0")},
		"zlib": {Name: "zlib", Version: version.MustParse(zlibVersion)},
	}, nil
}

func TestResolvePinsOnlyTheRuntimeRoot(t *testing.T) {
	app := &pkgmodel.Package{Name: "app", Version: version.MustParse("1.0.0")}
	rec := &recordingSolver{}

	_, err := New(pool.New(), rec, testEnv()).Resolve(context.Background(), app)
	require.NoError(t, err)

	// Two attempts of two solves each: the mismatch triggers exactly one
	// re-resolution.
	require.Len(t, rec.roots, 4)

	pinFor := func(root *pkgmodel.Package) string {
		for _, req := range root.Requires {
			if req.Name == "zlib" {
				return req.Constraint
			}
		}
		return ""
	}

	// First attempt carries no pins on either root.
	assert.Empty(t, pinFor(rec.roots[0]))
	assert.Empty(t, pinFor(rec.roots[1]))

	// Second attempt pins the runtime root to the build-time choice; the
	// build root never carries reconciliation pins.
	assert.Equal(t, "__root__", rec.roots[2].Name)
	assert.Equal(t, "==1.2.0", pinFor(rec.roots[2]))
	assert.Equal(t, "__build_root__", rec.roots[3].Name)
	assert.Empty(t, pinFor(rec.roots[3]))
}

func TestResolveMissingEdgeTargetIsInvalidGraph(t *testing.T) {
	app := &pkgmodel.Package{
		Name:     "app",
		Version:  version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{{Name: "zlib"}},
	}
	stub := &stubSolver{
		runtime: pkgmodel.ResolvedSet{"app": app},
		build:   pkgmodel.ResolvedSet{"app": app},
	}

	_, err := New(pool.New(), stub, testEnv()).Resolve(context.Background(), app)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid graph")
}

func TestResolveIdempotent(t *testing.T) {
	p := pool.New()
	addPkg(t, p, &pkgmodel.Package{Name: "zlib", Version: version.MustParse("1.3.0")})
	addPkg(t, p, &pkgmodel.Package{
		Name:     "openssl",
		Version:  version.MustParse("3.2.0"),
		Requires: []pkgmodel.Requirement{{Name: "zlib"}},
	})
	app := addPkg(t, p, &pkgmodel.Package{
		Name:     "app",
		Version:  version.MustParse("1.0.0"),
		Requires: []pkgmodel.Requirement{{Name: "openssl"}, {Name: "zlib"}},
	})

	r := New(p, solver.New(), testEnv())
	first, err := r.Resolve(context.Background(), app)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), app)
		require.NoError(t, err)
		assert.Equal(t, names(first.InstallOrder), names(again.InstallOrder))
		assert.Equal(t, names(first.BuildOrder), names(again.BuildOrder))
	}
}

func TestSpliceLateDeps(t *testing.T) {
	t.Run("moves dep immediately after dependent", func(t *testing.T) {
		order := []string{"a", "helper", "x", "backend", "z"}
		got := spliceLateDeps(order, []lateInjection{
			{dependent: "helper", deps: []string{"backend"}},
		})
		assert.Equal(t, []string{"a", "helper", "backend", "x", "z"}, got)
	})

	t.Run("no injections leaves order untouched", func(t *testing.T) {
		order := []string{"a", "b"}
		assert.Equal(t, order, spliceLateDeps(order, nil))
	})

	t.Run("multiple deps keep their recorded order", func(t *testing.T) {
		order := []string{"helper", "one", "two"}
		got := spliceLateDeps(order, []lateInjection{
			{dependent: "helper", deps: []string{"one", "two"}},
		})
		assert.Equal(t, []string{"helper", "one", "two"}, got)
	})
}
