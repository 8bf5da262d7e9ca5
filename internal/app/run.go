package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vk/pkgforge/internal/archive"
	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/driver"
	"github.com/vk/pkgforge/internal/environment"
	"github.com/vk/pkgforge/internal/linkcheck"
	"github.com/vk/pkgforge/internal/resolver"
	"github.com/vk/pkgforge/internal/solver"
)

// Run executes one full build: resolve, build in order, validate the
// binary closure, archive. Any failure stops the build with no artifact
// published.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	p, err := a.loadPool(ctx)
	if err != nil {
		return fmt.Errorf("failed to load package pool: %w", err)
	}

	rootPkg, err := a.rootPackage(p)
	if err != nil {
		return err
	}
	a.logger.Info("Building package.", "package", rootPkg.ID(), "target", a.target.Name())

	env := &environment.Environment{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Libc:         a.config.Libc,
		Capabilities: a.target.Capabilities(),
	}

	res, err := resolver.New(p, solver.New(), env).Resolve(ctx, rootPkg)
	if err != nil {
		return fmt.Errorf("dependency resolution failed: %w", err)
	}
	a.logger.Info("Dependency graphs resolved.",
		"install_packages", len(res.InstallOrder), "build_packages", len(res.BuildOrder))

	workdir, err := os.MkdirTemp("", "pkgforge.")
	if err != nil {
		return err
	}
	if !a.config.Keepwork {
		defer os.RemoveAll(workdir)
	} else {
		a.logger.Info("Keeping work directory.", "workdir", workdir)
	}
	if err := os.Chmod(workdir, 0o755); err != nil {
		return err
	}

	imageRoot := filepath.Join(workdir, "buildroot", rootPkg.Name)
	d := driver.New(imageRoot, workdir, a.config.Jobs)
	files, err := d.Run(ctx, res.BuildOrder, res.BuildGraph)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	a.logger.Info("All packages built.", "files", len(files))

	if err := linkcheck.ValidateAndNormalize(ctx, imageRoot, files, a.target, a.config.BuildDebug); err != nil {
		return fmt.Errorf("binary closure validation failed: %w", err)
	}
	a.logger.Info("Binary closure validated.")

	dest := a.config.Dest
	if dest == "" {
		dest = "artifacts"
	}
	artifactName := rootPkg.Name + "-" + rootPkg.Version.String() + "_" + a.config.Revision
	meta, err := archive.CreateArtifacts(ctx, imageRoot, archive.Options{
		Name:        artifactName,
		Compression: a.config.Compression,
		OutputDir:   dest,
		Subdist:     a.config.Subdist,
		Tags:        a.config.Tags,
	})
	if err != nil {
		return fmt.Errorf("archiving failed: %w", err)
	}
	a.logger.Info("Artifacts written.", "dest", dest, "artifacts", meta.InstallRefs)

	a.logger.Debug("App.Run method finished.")
	return nil
}
