package target

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// allowedSystemLibs is the set of libraries a Linux package may resolve
// from the target system. Everything else must be bundled in the image.
// Keys are the unversioned soname stem (up to and including ".so").
var allowedSystemLibs = map[string]struct{}{
	"libc.so":       {},
	"libm.so":       {},
	"libdl.so":      {},
	"libpthread.so": {},
	"librt.so":      {},
	"libresolv.so":  {},
	"libutil.so":    {},
	"libnsl.so":     {},
	"libgcc_s.so":   {},
}

// Linux inspects ELF binaries with debug/elf and shells out to `strip` and
// `patchelf` for fixups when those tools are installed.
type Linux struct {
	libc string
}

func NewLinux(libc string) *Linux {
	if libc == "" {
		libc = "gnu"
	}
	return &Linux{libc: libc}
}

func (t *Linux) Name() string { return "linux-" + t.libc }

func (t *Linux) Capabilities() []string {
	return []string{"shared-libs", t.libc}
}

func (t *Linux) IsBinaryCodeFile(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() || info.Size() < int64(len(elfMagic)) {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, len(elfMagic))
	if _, err := f.Read(magic); err != nil {
		return false, err
	}
	return bytes.Equal(magic, elfMagic), nil
}

func (t *Linux) IsDynamicallyLinked(path string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, fmt.Errorf("target: open %q: %w", path, err)
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_DYNAMIC {
			return true, nil
		}
	}
	return false, nil
}

func (t *Linux) SharedLibraryRefs(imageRoot, rel string) ([]string, []string, error) {
	hostPath := filepath.Join(imageRoot, filepath.FromSlash(rel))
	f, err := elf.Open(hostPath)
	if err != nil {
		return nil, nil, fmt.Errorf("target: open %q: %w", hostPath, err)
	}
	defer f.Close()

	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil, nil, fmt.Errorf("target: read DT_NEEDED of %q: %w", rel, err)
	}

	// DT_RUNPATH supersedes DT_RPATH when both are present.
	raw, err := f.DynString(elf.DT_RUNPATH)
	if err != nil {
		return nil, nil, fmt.Errorf("target: read DT_RUNPATH of %q: %w", rel, err)
	}
	if len(raw) == 0 {
		if raw, err = f.DynString(elf.DT_RPATH); err != nil {
			return nil, nil, fmt.Errorf("target: read DT_RPATH of %q: %w", rel, err)
		}
	}

	origin := path.Dir("/" + rel)
	var rpaths []string
	for _, entry := range raw {
		for _, rp := range strings.Split(entry, ":") {
			if rp == "" {
				continue
			}
			rp = strings.ReplaceAll(rp, "$ORIGIN", origin)
			rp = strings.ReplaceAll(rp, "${ORIGIN}", origin)
			rpaths = append(rpaths, path.Clean(rp))
		}
	}

	return libs, rpaths, nil
}

func (t *Linux) IsAllowedSystemLibrary(lib string) bool {
	base := path.Base(lib)
	if strings.HasPrefix(base, "ld-linux") || base == "ld.so" {
		return true
	}
	// musl's C library carries the arch in its soname.
	if strings.HasPrefix(base, "libc.musl-") {
		return true
	}
	if i := strings.Index(base, ".so"); i >= 0 {
		base = base[:i+len(".so")]
	}
	_, ok := allowedSystemLibs[base]
	return ok
}

func (t *Linux) StripDebugSymbols(path string) error {
	strip, err := exec.LookPath("strip")
	if err != nil {
		// No toolchain on the build host; stripping is best left undone
		// rather than failing the whole build.
		return nil
	}
	out, err := exec.Command(strip, "--strip-debug", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("target: strip %q: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *Linux) FixupSearchPath(imageRoot, rel string) error {
	patchelf, err := exec.LookPath("patchelf")
	if err != nil {
		return nil
	}
	hostPath := filepath.Join(imageRoot, filepath.FromSlash(rel))
	out, err := exec.Command(patchelf, "--shrink-rpath", hostPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("target: patchelf %q: %w: %s", rel, err, strings.TrimSpace(string(out)))
	}
	return nil
}
