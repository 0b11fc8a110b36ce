// Package installtree produces the isolated install tree: the relocatable
// filesystem subtree holding all resolved library files. The tree is built
// in a directory owned exclusively by the builder stage; the assembler later
// copies it into the runtime image at the interpreter's search path.
package installtree

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/manifest"
	"github.com/vk/kiln/internal/pkgindex"
)

// Resolved records the exact release a requirement resolved to.
type Resolved struct {
	Name    string
	Version string
	SHA256  string
}

// Builder turns a dependency manifest into an install tree on disk.
type Builder struct {
	index *pkgindex.Client
}

// NewBuilder creates a builder resolving against the given index.
func NewBuilder(index *pkgindex.Client) *Builder {
	return &Builder{index: index}
}

// Build resolves every requirement in order, downloads and verifies each
// archive, and unpacks it under dir. Any failure aborts the build with
// nothing usable produced; the caller discards dir on error.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest, dir string) ([]Resolved, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create install tree dir: %w", err)
	}

	resolved := make([]Resolved, 0, len(m.Requirements))
	for _, req := range m.Requirements {
		rel, err := b.index.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}

		archive, err := b.download(ctx, rel)
		if err != nil {
			return nil, err
		}

		err = unpack(archive, dir)
		os.Remove(archive)
		if err != nil {
			return nil, fmt.Errorf("package %s %s: %w", req.Name, rel.Version, err)
		}

		logger.Info("Installed package.", "package", req.Name, "version", rel.Version)
		resolved = append(resolved, Resolved{Name: req.Name, Version: rel.Version, SHA256: rel.SHA256})
	}

	return resolved, nil
}

// download fetches the release archive into a temp file and returns its path.
func (b *Builder) download(ctx context.Context, rel pkgindex.Release) (string, error) {
	tmp, err := os.CreateTemp("", "kiln-archive-*.tar.gz")
	if err != nil {
		return "", err
	}

	if err := b.index.Download(ctx, rel, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// unpack extracts a gzipped tar archive into dir. Entries must stay inside
// dir (no absolute names, no ".." escapes, no symlinks pointing out of the
// tree) so the tree stays relocatable, and no entry may be a build-only
// tool binary, which would leak the toolchain into the final image.
func unpack(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("not a gzipped archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}

		rel, err := safeRelPath(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "" {
			continue
		}
		if IsToolchainPath(rel) {
			return fmt.Errorf("archive ships build-only tool %q", rel)
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkSymlinkTarget(rel, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// Devices, fifos etc. have no business in a library archive.
			return fmt.Errorf("unsupported entry type %d for %q", hdr.Typeflag, hdr.Name)
		}
	}
}

// safeRelPath normalizes a tar entry name and rejects anything that would
// land outside the tree. Returns "" for the root entry.
func safeRelPath(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes the install tree", name)
	}
	return clean, nil
}

// checkSymlinkTarget ensures a symlink resolves inside the tree.
func checkSymlinkTarget(rel, linkname string) error {
	if path.IsAbs(linkname) {
		return fmt.Errorf("symlink %q has absolute target %q", rel, linkname)
	}
	resolved := path.Join(path.Dir(rel), linkname)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("symlink %q escapes the install tree (target %q)", rel, linkname)
	}
	return nil
}
