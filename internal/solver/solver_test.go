package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/pool"
	"github.com/vk/pkgforge/internal/version"
)

func mkpkg(t *testing.T, p *pool.Pool, name, ver string, reqs ...pkgmodel.Requirement) *pkgmodel.Package {
	t.Helper()
	pkg := &pkgmodel.Package{
		Name:     name,
		Version:  version.MustParse(ver),
		Requires: reqs,
	}
	require.NoError(t, p.Add(pkg))
	return pkg
}

func root(reqs ...pkgmodel.Requirement) *pkgmodel.Package {
	return &pkgmodel.Package{
		Name:     "__root__",
		Version:  version.MustParse("1.0.0"),
		Requires: reqs,
	}
}

func TestSolvePicksHighestSatisfying(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "zlib", "1.1.0")
	mkpkg(t, p, "zlib", "1.3.0")
	mkpkg(t, p, "zlib", "2.0.0")

	set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "zlib", Constraint: "^1.0.0"}), p, Options{})
	require.NoError(t, err)

	require.Len(t, set, 1)
	assert.Equal(t, "1.3.0", set["zlib"].Version.String())
}

func TestSolveTransitiveClosure(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "zlib", "1.3.0")
	mkpkg(t, p, "openssl", "3.2.0", pkgmodel.Requirement{Name: "zlib"})
	mkpkg(t, p, "curl", "8.5.0",
		pkgmodel.Requirement{Name: "openssl", Constraint: ">=3.0.0"},
		pkgmodel.Requirement{Name: "zlib"},
	)

	set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"curl", "openssl", "zlib"}, set.Names())
}

func TestSolveIntersectsConstraints(t *testing.T) {
	// curl wants the newest zlib, openssl caps it below 1.3.
	p := pool.New()
	mkpkg(t, p, "zlib", "1.2.0")
	mkpkg(t, p, "zlib", "1.3.0")
	mkpkg(t, p, "openssl", "3.2.0", pkgmodel.Requirement{Name: "zlib", Constraint: "<1.3.0"})
	mkpkg(t, p, "curl", "8.5.0",
		pkgmodel.Requirement{Name: "openssl"},
		pkgmodel.Requirement{Name: "zlib", Constraint: ">=1.0.0"},
	)

	set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", set["zlib"].Version.String())
}

func TestSolveUnknownPackage(t *testing.T) {
	p := pool.New()

	_, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "ghost"}), p, Options{})
	require.Error(t, err)

	var resErr *ResolutionFailedError
	require.ErrorAs(t, err, &resErr)
	require.Len(t, resErr.Requirements, 1)
	assert.Equal(t, "ghost", resErr.Requirements[0].Name)
}

func TestSolveUnsatisfiableConstraints(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "zlib", "1.3.0")
	mkpkg(t, p, "a", "1.0.0", pkgmodel.Requirement{Name: "zlib", Constraint: "<1.0.0"})

	_, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "a"}), p, Options{})

	var resErr *ResolutionFailedError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, err.Error(), "unsatisfiable requirements")
	assert.Contains(t, err.Error(), "zlib (<1.0.0)")
}

func TestSolveBuildRequirements(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "cmake", "3.28.0")
	app := &pkgmodel.Package{
		Name:          "app",
		Version:       version.MustParse("1.0.0"),
		BuildRequires: []pkgmodel.Requirement{{Name: "cmake"}},
	}
	require.NoError(t, p.Add(app))

	t.Run("excluded by default", func(t *testing.T) {
		set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "app"}), p, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"app"}, set.Names())
	})

	t.Run("included on request", func(t *testing.T) {
		set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "app"}), p, Options{IncludeBuildReqs: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"app", "cmake"}, set.Names())
	})
}

func TestSolveExtrasGating(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "openssl", "3.2.0")
	mkpkg(t, p, "curl", "8.5.0", pkgmodel.Requirement{Name: "openssl", Extra: "tls"})

	t.Run("inactive extra drops the edge", func(t *testing.T) {
		set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"curl"}, set.Names())
	})

	t.Run("active extra keeps the edge", func(t *testing.T) {
		set, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{
			ActiveExtras: map[string]struct{}{"tls": {}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"curl", "openssl"}, set.Names())
	})
}

func TestSolveDeterministic(t *testing.T) {
	p := pool.New()
	mkpkg(t, p, "zlib", "1.3.0")
	mkpkg(t, p, "zlib", "1.2.0")
	mkpkg(t, p, "openssl", "3.2.0", pkgmodel.Requirement{Name: "zlib"})
	mkpkg(t, p, "curl", "8.5.0", pkgmodel.Requirement{Name: "openssl"}, pkgmodel.Requirement{Name: "zlib"})

	first, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := New().Solve(context.Background(), root(pkgmodel.Requirement{Name: "curl"}), p, Options{})
		require.NoError(t, err)
		require.Equal(t, first.Names(), again.Names())
		for name := range first {
			assert.Equal(t, first[name].Version.String(), again[name].Version.String())
		}
	}
}
