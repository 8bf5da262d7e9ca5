// Package app wires the build pipeline together: pool loading, dependency
// resolution, ordered package builds, binary closure validation, and
// artifact creation.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/pool"
	"github.com/vk/pkgforge/internal/target"
	"github.com/vk/pkgforge/internal/version"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	target target.Target
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and the detected
// build target.
func New(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	tgt := target.Detect(runtime.GOOS, cfg.Generic, cfg.Libc)
	logger.Debug("Build target detected.", "target", tgt.Name())

	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		target: tgt,
	}
}

// Target returns the application's build target. This is primarily for testing.
func (a *App) Target() target.Target {
	return a.target
}

// rootPackage picks the root package version from the pool: an exact
// source ref if one was given, otherwise the highest known version.
func (a *App) rootPackage(p *pool.Pool) (*pkgmodel.Package, error) {
	candidates := p.Lookup(a.config.PackageName)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("app: unknown package %q", a.config.PackageName)
	}
	if a.config.SourceRef == "" {
		// Lookup returns highest version first.
		return candidates[0], nil
	}

	want, err := version.Parse(a.config.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("app: invalid source ref: %w", err)
	}
	for _, pkg := range candidates {
		if version.Compare(pkg.Version, want) == 0 {
			return pkg, nil
		}
	}
	return nil, fmt.Errorf("app: no manifest for %s version %s", a.config.PackageName, a.config.SourceRef)
}

// loadPool reads the channel index and all manifest repositories.
func (a *App) loadPool(ctx context.Context) (*pool.Pool, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	return pool.Load(ctx, a.config.IndexPath)
}
