// Package archive turns a validated package image into distributable
// artifacts: a tarball compressed with any of gzip/zstd/lz4, and/or a zip
// archive, plus a build-metadata.json describing every artifact with its
// content type, encoding and BLAKE3 digest.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/vk/pkgforge/internal/ctxlog"
)

// Supported compression schemes for tarball artifacts; zip is an archive
// format of its own rather than a tarball encoding.
var supportedSchemes = map[string]struct{}{
	"gzip": {},
	"zstd": {},
	"lz4":  {},
	"zip":  {},
}

// Options describe the artifacts one build should produce.
type Options struct {
	// Name is the artifact base name, typically "<package>-<version>_<rev>".
	Name string

	// Compression lists the schemes to apply (defaults to gzip and zstd).
	Compression []string

	// OutputDir receives the artifacts and the metadata file.
	OutputDir string

	// Subdist tags the artifacts with a sub-distribution (e.g. "nightly").
	Subdist string

	// Tags are free-form key=value pairs recorded in the build metadata.
	Tags map[string]string
}

// Metadata mirrors the build-metadata.json layout.
type Metadata struct {
	InstallRefs []string               `json:"installrefs"`
	Contents    map[string]ContentInfo `json:"contents"`
	Repository  string                 `json:"repository"`
	Subdist     string                 `json:"subdist,omitempty"`
	Tags        map[string]string      `json:"tags,omitempty"`
}

// ContentInfo describes a single artifact file.
type ContentInfo struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Suffix   string `json:"suffix"`
	Digest   string `json:"blake3"`
}

// CreateArtifacts archives the image root under opts.OutputDir and writes
// build-metadata.json alongside the artifacts.
func CreateArtifacts(ctx context.Context, imageRoot string, opts Options) (*Metadata, error) {
	logger := ctxlog.FromContext(ctx)

	schemes := opts.Compression
	if len(schemes) == 0 {
		schemes = []string{"gzip", "zstd"}
	}
	for _, s := range schemes {
		if _, ok := supportedSchemes[s]; !ok {
			return nil, fmt.Errorf("archive: unsupported compression scheme(s): %s", s)
		}
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, err
	}

	meta := &Metadata{
		Contents:   make(map[string]ContentInfo),
		Repository: "generic",
		Subdist:    opts.Subdist,
		Tags:       opts.Tags,
	}

	wantTarball := false
	for _, s := range schemes {
		if s != "zip" {
			wantTarball = true
		}
	}

	if wantTarball {
		tarball := filepath.Join(opts.OutputDir, opts.Name+".tar")
		if err := writeTar(imageRoot, opts.Name, tarball); err != nil {
			return nil, err
		}

		for _, s := range schemes {
			if s == "zip" {
				continue
			}
			name, info, err := compressTarball(tarball, s)
			if err != nil {
				return nil, err
			}
			meta.InstallRefs = append(meta.InstallRefs, name)
			meta.Contents[name] = info
			logger.Debug("Artifact written.", "artifact", name)
		}

		// The raw tarball is an intermediate, not an artifact.
		if err := os.Remove(tarball); err != nil {
			return nil, err
		}
	}

	for _, s := range schemes {
		if s != "zip" {
			continue
		}
		name := opts.Name + ".zip"
		zipPath := filepath.Join(opts.OutputDir, name)
		if err := writeZip(imageRoot, opts.Name, zipPath); err != nil {
			return nil, err
		}
		digest, err := fileDigest(zipPath)
		if err != nil {
			return nil, err
		}
		meta.InstallRefs = append(meta.InstallRefs, name)
		meta.Contents[name] = ContentInfo{
			Type:     "application/zip",
			Encoding: "identity",
			Suffix:   ".zip",
			Digest:   digest,
		}
		logger.Debug("Artifact written.", "artifact", name)
	}

	sort.Strings(meta.InstallRefs)

	metaPath := filepath.Join(opts.OutputDir, "build-metadata.json")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return nil, err
	}

	return meta, nil
}

// compressTarball produces one compressed variant of the raw tarball.
func compressTarball(tarball, scheme string) (string, ContentInfo, error) {
	var (
		ext  string
		wrap func(io.Writer) (io.WriteCloser, error)
	)
	switch scheme {
	case "gzip":
		ext = ".gz"
		wrap = func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestCompression)
		}
	case "zstd":
		ext = ".zst"
		wrap = func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		}
	case "lz4":
		ext = ".lz4"
		wrap = func(w io.Writer) (io.WriteCloser, error) {
			return lz4.NewWriter(w), nil
		}
	default:
		return "", ContentInfo{}, fmt.Errorf("archive: unsupported compression scheme(s): %s", scheme)
	}

	in, err := os.Open(tarball)
	if err != nil {
		return "", ContentInfo{}, err
	}
	defer in.Close()

	outPath := tarball + ext
	out, err := os.Create(outPath)
	if err != nil {
		return "", ContentInfo{}, err
	}
	defer out.Close()

	cw, err := wrap(out)
	if err != nil {
		return "", ContentInfo{}, err
	}
	if _, err := io.Copy(cw, in); err != nil {
		cw.Close()
		return "", ContentInfo{}, err
	}
	if err := cw.Close(); err != nil {
		return "", ContentInfo{}, err
	}
	if err := out.Close(); err != nil {
		return "", ContentInfo{}, err
	}

	digest, err := fileDigest(outPath)
	if err != nil {
		return "", ContentInfo{}, err
	}

	return filepath.Base(outPath), ContentInfo{
		Type:     "application/x-tar",
		Encoding: scheme,
		Suffix:   ".tar" + ext,
		Digest:   digest,
	}, nil
}

// fileDigest returns the hex BLAKE3-256 digest of a file.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTar archives the image under a "<name>/" prefix, preserving file
// modes and symbolic links.
func writeTar(imageRoot, name, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := tar.NewWriter(out)

	err = filepath.Walk(imageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(imageRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name + "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// writeZip archives the image under a "<name>/" prefix. Symlinks are
// stored as symlink entries with the link target as content.
func writeZip(imageRoot, name, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	err = filepath.Walk(imageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(imageRoot, path)
		if err != nil {
			return err
		}
		if rel == "." || info.IsDir() {
			return nil
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name + "/" + filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_, err = w.Write([]byte(link))
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// NormalizeSchemes parses a comma-separated compression list, validating
// each scheme.
func NormalizeSchemes(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var schemes []string
	var unsupported []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := supportedSchemes[s]; !ok {
			unsupported = append(unsupported, s)
			continue
		}
		schemes = append(schemes, s)
	}
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("archive: unsupported compression scheme(s): %s", strings.Join(unsupported, ", "))
	}
	return schemes, nil
}
