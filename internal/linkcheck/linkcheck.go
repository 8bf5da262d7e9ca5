// Package linkcheck implements the binary closure validator. Given an
// assembled package image, it proves that every dynamically linked binary
// resolves each of its shared-library references either to an approved
// system library or to a library bundled in the same image, then
// normalizes the bundled shared-library layout: every logical library ends
// up as exactly one regular file, canonically named, with no redundant
// fully-versioned duplicates and no symlinks left behind.
package linkcheck

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/vk/pkgforge/internal/ctxlog"
	"github.com/vk/pkgforge/internal/fsutil"
	"github.com/vk/pkgforge/internal/target"
)

// shlibRefs is one binary's recorded shared-library references and its
// declared search paths, both in install-path space.
type shlibRefs struct {
	libs   []string
	rpaths []string
}

// ValidateAndNormalize checks and rewrites the image in place. On error
// the image may be partially mutated; callers must treat it as unusable
// and rebuild rather than retry. The pass is destructive and must have
// exclusive access to imageRoot for its duration.
func ValidateAndNormalize(ctx context.Context, imageRoot string, files []string, t target.Target, debugBuild bool) error {
	logger := ctxlog.FromContext(ctx)

	// Candidate provider index: shared-library basename -> set of absolute
	// install paths that could satisfy a reference to it. Rebuilt from
	// scratch on every pass; never persisted.
	providers := make(map[string]map[string]bool)
	binaries := make(map[string]bool)
	refs := make(map[string]shlibRefs)
	var symlinks []string

	register := func(instPath string) {
		base := path.Base(instPath)
		if providers[base] == nil {
			providers[base] = make(map[string]bool)
		}
		providers[base][instPath] = true
	}

	// First pass: find every binary, strip and fix it up, and record its
	// shared-library references. Symlinks are handled separately below.
	for _, rel := range files {
		hostPath := filepath.Join(imageRoot, filepath.FromSlash(rel))
		instPath := path.Clean("/" + rel)

		info, err := os.Lstat(hostPath)
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			symlinks = append(symlinks, rel)
			continue
		}

		isBin, err := t.IsBinaryCodeFile(hostPath)
		if err != nil {
			return err
		}
		if !isBin {
			continue
		}

		register(instPath)
		binaries[instPath] = true

		if !debugBuild {
			if err := t.StripDebugSymbols(hostPath); err != nil {
				return err
			}
		}

		dynamic, err := t.IsDynamicallyLinked(hostPath)
		if err != nil {
			return err
		}
		if !dynamic {
			continue
		}
		if err := t.FixupSearchPath(imageRoot, rel); err != nil {
			return err
		}
		libs, rpaths, err := t.SharedLibraryRefs(imageRoot, rel)
		if err != nil {
			return err
		}
		refs[instPath] = shlibRefs{libs: libs, rpaths: rpaths}
	}

	// Second pass: symlinks that resolve (one level, inside the image) to
	// a registered binary also provide their own basename. This captures
	// the customary libfoo.so -> libfoo.so.N chain.
	for _, rel := range symlinks {
		hostPath := filepath.Join(imageRoot, filepath.FromSlash(rel))
		instPath := path.Clean("/" + rel)

		tgt, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		var tgtInst string
		if path.IsAbs(tgt) {
			tgtInst = path.Clean(tgt)
		} else {
			tgtInst = path.Clean(path.Join(path.Dir(instPath), tgt))
		}
		if binaries[tgtInst] {
			register(instPath)
		}
	}

	logger.Debug("Provider index built.",
		"binaries", len(binaries), "symlinks", len(symlinks), "dynamic", len(refs))

	toRemove := make(map[string]bool) // host paths of fully-versioned duplicates
	used := make(map[string]bool)     // host paths satisfying some reference

	// Deterministic binary order keeps failure reports stable.
	checkOrder := make([]string, 0, len(refs))
	for instPath := range refs {
		checkOrder = append(checkOrder, instPath)
	}
	sort.Strings(checkOrder)

	for _, binary := range checkOrder {
		r := refs[binary]
		for _, lib := range r.libs {
			if t.IsAllowedSystemLibrary(lib) {
				continue
			}
			match, err := resolveRef(imageRoot, binary, lib, r.rpaths, providers)
			if err != nil {
				return err
			}
			used[match] = true
			if err := consolidate(match, toRemove); err != nil {
				return err
			}
		}
	}

	// Remove the fully-versioned variants that nothing references anymore,
	// along with any symlink still pointing at them; then clean dangling
	// symlinks around the consolidated files themselves.
	for _, hostPath := range sortedKeys(toRemove) {
		if used[hostPath] {
			continue
		}
		if err := removeSiblingSymlinksTo(hostPath); err != nil {
			return err
		}
		if err := os.Remove(hostPath); err != nil {
			return err
		}
		logger.Debug("Removed redundant shared library file.", "path", hostPath)
	}
	for _, hostPath := range sortedKeys(used) {
		if err := removeSiblingSymlinksTo(hostPath); err != nil {
			return err
		}
	}

	return nil
}

// resolveRef finds the first provider of lib along the binary's declared
// search paths. No match is a hard failure: the error distinguishes a
// binary that declares no search path at all (a packaging omission) from
// one whose search paths simply do not contain the library.
func resolveRef(imageRoot, binary, lib string, rpaths []string, providers map[string]map[string]bool) (string, error) {
	base := path.Base(lib)
	bundled := providers[base]

	for _, rpath := range rpaths {
		candidate := path.Clean(path.Join(rpath, base))
		if bundled[candidate] {
			return instToHost(imageRoot, candidate), nil
		}
	}

	reason := ReasonLibraryNotInRPath
	if len(rpaths) == 0 {
		reason = ReasonNoRPathDeclared
	}
	return "", &IntegrityError{
		Binary:  binary,
		Library: base,
		RPaths:  rpaths,
		Reason:  reason,
	}
}

// consolidate replaces a matched provider that is a symlink (typically the
// SONAME link) with a regular file holding the real library's bytes, and
// schedules the fully-versioned original for removal.
func consolidate(hostPath string, toRemove map[string]bool) error {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}

	tgt, err := os.Readlink(hostPath)
	if err != nil {
		return err
	}
	real := tgt
	if !filepath.IsAbs(real) {
		real = filepath.Clean(filepath.Join(filepath.Dir(hostPath), real))
	}

	if err := os.Remove(hostPath); err != nil {
		return err
	}
	if err := fsutil.CopyFile(real, hostPath); err != nil {
		return err
	}
	toRemove[real] = true
	return nil
}

// removeSiblingSymlinksTo deletes every symlink in hostPath's directory
// that resolves to hostPath, so file removal never leaves dangling links.
func removeSiblingSymlinksTo(hostPath string) error {
	dir := filepath.Dir(hostPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var doomed []string
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		sibling := filepath.Join(dir, entry.Name())
		tgt, err := os.Readlink(sibling)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(tgt) {
			tgt = filepath.Clean(filepath.Join(dir, tgt))
		}
		if tgt == hostPath {
			doomed = append(doomed, sibling)
		}
	}

	for _, sibling := range doomed {
		if err := os.Remove(sibling); err != nil {
			return err
		}
	}
	return nil
}

func instToHost(imageRoot, instPath string) string {
	return filepath.Join(imageRoot, filepath.FromSlash(instPath[1:]))
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
