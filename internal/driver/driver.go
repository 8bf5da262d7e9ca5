// Package driver executes package build recipes in dependency order,
// materializing the package image root. Builds may run in parallel up to a
// worker count; the cycle-broken build graph supplies the happens-before
// barrier: a package starts only after every package it depends on has
// finished.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/dag"
	"github.com/vk/pkgforge/internal/fsutil"
	"github.com/vk/pkgforge/internal/pkgmodel"
)

// Driver runs build recipes for one build invocation.
type Driver struct {
	imageRoot string
	workdir   string
	jobs      int
}

// New creates a driver. A jobs count below one means one worker per CPU.
func New(imageRoot, workdir string, jobs int) *Driver {
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	return &Driver{imageRoot: imageRoot, workdir: workdir, jobs: jobs}
}

// Run builds every package in order, honoring graph edges as strict
// ordering barriers, and returns the image's final file listing. The
// first recipe failure cancels the run; packages depending on the failed
// one are skipped.
func (d *Driver) Run(ctx context.Context, order []*pkgmodel.Package, g *dag.Graph) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(d.imageRoot, 0o755); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	byName := make(map[string]*pkgmodel.Package, len(order))
	remaining := make(map[string]int, len(order))
	for _, pkg := range order {
		byName[pkg.Name] = pkg
		deps, err := g.Dependencies(pkg.Name)
		if err != nil {
			return nil, err
		}
		remaining[pkg.Name] = len(deps)
	}

	ready := make(chan *pkgmodel.Package, len(order))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		finished = make(map[string]bool, len(order))
	)
	wg.Add(len(order))

	// skipDependents marks every not-yet-finished transitive dependent of
	// name as abandoned so the wait group can drain after a failure.
	var skipDependents func(name string)
	skipDependents = func(name string) {
		dependents, err := g.Dependents(name)
		if err != nil {
			return
		}
		for _, dep := range dependents {
			if finished[dep] {
				continue
			}
			finished[dep] = true
			logger.Debug("Skipping package, dependency failed.", "package", dep)
			wg.Done()
			skipDependents(dep)
		}
	}

	completed := func(pkg *pkgmodel.Package, err error) {
		mu.Lock()
		defer mu.Unlock()
		if finished[pkg.Name] {
			return
		}
		finished[pkg.Name] = true

		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			cancel()
			skipDependents(pkg.Name)
			wg.Done()
			return
		}

		dependents, depErr := g.Dependents(pkg.Name)
		if depErr == nil {
			for _, dep := range dependents {
				remaining[dep]--
				if remaining[dep] == 0 {
					ready <- byName[dep]
				}
			}
		}
		wg.Done()
	}

	// Seed packages with no dependencies, preserving the linear order for
	// deterministic dispatch.
	for _, pkg := range order {
		if remaining[pkg.Name] == 0 {
			ready <- pkg
		}
	}

	for i := 0; i < d.jobs; i++ {
		go d.worker(ctx, i, ready, completed)
	}

	wg.Wait()
	close(ready)

	if firstErr != nil {
		return nil, firstErr
	}
	return fsutil.ListImageFiles(d.imageRoot)
}

// worker is the processing loop for a single concurrent build slot.
func (d *Driver) worker(ctx context.Context, id int, ready <-chan *pkgmodel.Package, completed func(*pkgmodel.Package, error)) {
	logger := ctxlog.FromContext(ctx)

	for pkg := range ready {
		if ctx.Err() != nil {
			completed(pkg, ctx.Err())
			continue
		}
		workerLogger := logger.With("worker", id, "package", pkg.ID())
		workerLogger.Debug("Building package.")
		err := d.buildOne(ctx, pkg)
		if err != nil {
			workerLogger.Error("Package build failed.", "error", err)
		} else {
			workerLogger.Debug("Package build succeeded.")
		}
		completed(pkg, err)
	}
}

// buildOne runs a package's recipe with the image root and a per-package
// scratch directory exposed through the environment. A package without a
// recipe contributes no files and trivially succeeds.
func (d *Driver) buildOne(ctx context.Context, pkg *pkgmodel.Package) error {
	if strings.TrimSpace(pkg.Recipe) == "" {
		return nil
	}

	tmpDir := filepath.Join(d.workdir, "tmp", pkg.Name)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-ec", pkg.Recipe)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(),
		"DESTDIR="+d.imageRoot,
		"PKG_NAME="+pkg.Name,
		"PKG_VERSION="+pkg.Version.String(),
		"PKG_WORKDIR="+tmpDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("driver: build %s: %w: %s", pkg.ID(), err, strings.TrimSpace(string(out)))
	}
	return nil
}
