package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	t.Run("portable always generic", func(t *testing.T) {
		tgt := Detect("linux", true, "gnu")
		assert.Equal(t, "generic", tgt.Name())
	})

	t.Run("linux gnu", func(t *testing.T) {
		tgt := Detect("linux", false, "")
		assert.Equal(t, "linux-gnu", tgt.Name())
		assert.Contains(t, tgt.Capabilities(), "shared-libs")
		assert.Contains(t, tgt.Capabilities(), "gnu")
	})

	t.Run("linux musl", func(t *testing.T) {
		tgt := Detect("linux", false, "musl")
		assert.Equal(t, "linux-musl", tgt.Name())
	})

	t.Run("unknown platform falls back to generic", func(t *testing.T) {
		tgt := Detect("plan9", false, "")
		assert.Equal(t, "generic", tgt.Name())
	})
}

func TestGenericIsInert(t *testing.T) {
	g := NewGeneric()

	isBin, err := g.IsBinaryCodeFile("/does/not/matter")
	require.NoError(t, err)
	assert.False(t, isBin)

	dynamic, err := g.IsDynamicallyLinked("/does/not/matter")
	require.NoError(t, err)
	assert.False(t, dynamic)

	libs, rpaths, err := g.SharedLibraryRefs("/root", "bin/x")
	require.NoError(t, err)
	assert.Nil(t, libs)
	assert.Nil(t, rpaths)

	assert.False(t, g.IsAllowedSystemLibrary("libc.so.6"))
	assert.NoError(t, g.StripDebugSymbols("/does/not/matter"))
	assert.NoError(t, g.FixupSearchPath("/root", "bin/x"))
	assert.Nil(t, g.Capabilities())
}

func TestLinuxIsBinaryCodeFile(t *testing.T) {
	tgt := NewLinux("gnu")
	dir := t.TempDir()

	t.Run("elf magic", func(t *testing.T) {
		path := filepath.Join(dir, "elfish")
		require.NoError(t, os.WriteFile(path, append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 16)...), 0o755))

		isBin, err := tgt.IsBinaryCodeFile(path)
		require.NoError(t, err)
		assert.True(t, isBin)
	})

	t.Run("text file", func(t *testing.T) {
		path := filepath.Join(dir, "script.sh")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

		isBin, err := tgt.IsBinaryCodeFile(path)
		require.NoError(t, err)
		assert.False(t, isBin)
	})

	t.Run("too short", func(t *testing.T) {
		path := filepath.Join(dir, "tiny")
		require.NoError(t, os.WriteFile(path, []byte{0x7f}, 0o644))

		isBin, err := tgt.IsBinaryCodeFile(path)
		require.NoError(t, err)
		assert.False(t, isBin)
	})

	t.Run("symlink is not binary code", func(t *testing.T) {
		link := filepath.Join(dir, "link")
		require.NoError(t, os.Symlink(filepath.Join(dir, "elfish"), link))

		isBin, err := tgt.IsBinaryCodeFile(link)
		require.NoError(t, err)
		assert.False(t, isBin)
	})
}

func TestLinuxIsAllowedSystemLibrary(t *testing.T) {
	tgt := NewLinux("gnu")

	cases := []struct {
		lib  string
		want bool
	}{
		{"libc.so.6", true},
		{"libm.so.6", true},
		{"libpthread.so.0", true},
		{"libgcc_s.so.1", true},
		{"ld-linux-x86-64.so.2", true},
		{"ld.so", true},
		{"libc.musl-x86_64.so.1", true},
		{"libssl.so.3", false},
		{"libfoo.so", false},
		{"/usr/lib/libc.so.6", true},
	}

	for _, tc := range cases {
		t.Run(tc.lib, func(t *testing.T) {
			assert.Equal(t, tc.want, tgt.IsAllowedSystemLibrary(tc.lib))
		})
	}
}
