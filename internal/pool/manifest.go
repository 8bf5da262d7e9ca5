package pool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/vk/pkgforge/internal/fsutil"
	"github.com/vk/pkgforge/internal/pkgmodel"
	"github.com/vk/pkgforge/internal/version"
)

// channelIndex is the YAML file naming the manifest repositories a build
// draws packages from.
type channelIndex struct {
	Channel      string   `yaml:"channel"`
	Repositories []string `yaml:"repositories"`
}

func readIndex(path string) (*channelIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pool: read index: %w", err)
	}
	var idx channelIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("pool: parse index %q: %w", path, err)
	}
	if len(idx.Repositories) == 0 {
		return nil, fmt.Errorf("pool: index %q lists no repositories", path)
	}
	// Relative repository paths are anchored at the index file's directory.
	base := filepath.Dir(path)
	for i, dir := range idx.Repositories {
		if !filepath.IsAbs(dir) {
			idx.Repositories[i] = filepath.Join(base, dir)
		}
	}
	return &idx, nil
}

// manifestFile is the top-level HCL schema of a package manifest.
type manifestFile struct {
	Packages []packageBlock `hcl:"package,block"`
}

type packageBlock struct {
	Name    string `hcl:"name,label"`
	Version string `hcl:"version,label"`

	Requires      []requirementBlock `hcl:"requires,block"`
	BuildRequires []requirementBlock `hcl:"build_requires,block"`

	CyclicRuntimeDeps []string `hcl:"cyclic_runtime_deps,optional"`
	Features          []string `hcl:"features,optional"`
	Recipe            string   `hcl:"recipe,optional"`
}

type requirementBlock struct {
	Name       string `hcl:"name,label"`
	Constraint string `hcl:"constraint,optional"`
	Marker     string `hcl:"marker,optional"`
	Extra      string `hcl:"extra,optional"`
}

func loadManifestDir(dir string) ([]*pkgmodel.Package, error) {
	paths, err := fsutil.FindFilesByExtension(dir, ".hcl")
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	var pkgs []*pkgmodel.Package
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse manifest %q: %w", path, diags)
		}
		parsed, err := decodeManifest(file.Body)
		if err != nil {
			return nil, fmt.Errorf("manifest %q: %w", path, err)
		}
		pkgs = append(pkgs, parsed...)
	}
	return pkgs, nil
}

func decodeManifest(body hcl.Body) ([]*pkgmodel.Package, error) {
	var mf manifestFile
	if diags := gohcl.DecodeBody(body, nil, &mf); diags.HasErrors() {
		return nil, diags
	}

	pkgs := make([]*pkgmodel.Package, 0, len(mf.Packages))
	for _, block := range mf.Packages {
		pkg, err := block.toPackage()
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func (b packageBlock) toPackage() (*pkgmodel.Package, error) {
	v, err := version.Parse(b.Version)
	if err != nil {
		return nil, fmt.Errorf("package %q: %w", b.Name, err)
	}

	reqs, err := toRequirements(b.Name, b.Requires)
	if err != nil {
		return nil, err
	}
	breqs, err := toRequirements(b.Name, b.BuildRequires)
	if err != nil {
		return nil, err
	}

	cyclic := make(map[string]struct{}, len(b.CyclicRuntimeDeps))
	for _, name := range b.CyclicRuntimeDeps {
		cyclic[name] = struct{}{}
	}

	return &pkgmodel.Package{
		Name:              b.Name,
		Version:           v,
		Requires:          reqs,
		BuildRequires:     breqs,
		CyclicRuntimeDeps: cyclic,
		Features:          b.Features,
		Recipe:            b.Recipe,
	}, nil
}

func toRequirements(owner string, blocks []requirementBlock) ([]pkgmodel.Requirement, error) {
	reqs := make([]pkgmodel.Requirement, 0, len(blocks))
	for _, rb := range blocks {
		if _, err := version.ParseConstraint(rb.Constraint); err != nil {
			return nil, fmt.Errorf("package %q requirement %q: %w", owner, rb.Name, err)
		}
		reqs = append(reqs, pkgmodel.Requirement{
			Name:       rb.Name,
			Constraint: rb.Constraint,
			Marker:     rb.Marker,
			Extra:      rb.Extra,
		})
	}
	return reqs, nil
}
