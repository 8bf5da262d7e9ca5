// Package target abstracts the platform-specific side of packaging:
// capability flags for resolution and the binary-inspection predicates the
// closure validator needs. A platform with no dynamic linking can satisfy
// the whole interface with no-ops (see Generic).
package target

// Target is the per-platform contract consumed by the resolver (via
// Capabilities) and the binary closure validator (everything else).
type Target interface {
	// Name identifies the target, e.g. "linux-gnu" or "generic".
	Name() string

	// Capabilities are target feature flags; each activates the
	// corresponding "capability-<name>" extra during dependency resolution.
	Capabilities() []string

	// IsBinaryCodeFile reports whether the file at the given host path is
	// native binary code (executable or shared library).
	IsBinaryCodeFile(path string) (bool, error)

	// IsDynamicallyLinked reports whether the binary uses dynamic linking.
	IsDynamicallyLinked(path string) (bool, error)

	// SharedLibraryRefs returns the shared-library names the binary
	// references and its declared runtime search paths. Search paths are
	// returned as absolute install paths: $ORIGIN is expanded against the
	// binary's in-image install directory, never the host filesystem.
	SharedLibraryRefs(imageRoot, rel string) (libs []string, rpaths []string, err error)

	// IsAllowedSystemLibrary reports whether a referenced library may be
	// satisfied by the target system instead of the package image.
	IsAllowedSystemLibrary(lib string) bool

	// StripDebugSymbols removes debug info from the binary. No-op if the
	// target has no stripping tool.
	StripDebugSymbols(path string) error

	// FixupSearchPath normalizes the binary's runtime search path. No-op
	// if the target does not support it.
	FixupSearchPath(imageRoot, rel string) error
}

// Detect picks the target for the current build. A portable build always
// uses the generic target; otherwise the platform target for the host OS
// is chosen, falling back to generic on platforms without one.
func Detect(goos string, portable bool, libc string) Target {
	if portable {
		return NewGeneric()
	}
	switch goos {
	case "linux":
		return NewLinux(libc)
	default:
		return NewGeneric()
	}
}
