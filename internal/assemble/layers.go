package assemble

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/kiln/internal/installtree"
)

// writeTreeLayer packs the directory tree at root into a gzipped tar layer,
// remounted under target (an absolute in-image path). Walk order is sorted,
// so identical trees produce identical layers.
func writeTreeLayer(dst, root, target string) error {
	return writeLayer(dst, func(tw *tar.Writer) error {
		prefix := strings.TrimPrefix(path.Clean(target), "/")

		return filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			name := path.Join(prefix, filepath.ToSlash(rel))

			switch {
			case info.IsDir():
				return tw.WriteHeader(&tar.Header{
					Typeflag: tar.TypeDir,
					Name:     name + "/",
					Mode:     int64(info.Mode().Perm()),
				})
			case info.Mode()&fs.ModeSymlink != 0:
				link, err := os.Readlink(p)
				if err != nil {
					return err
				}
				return tw.WriteHeader(&tar.Header{
					Typeflag: tar.TypeSymlink,
					Name:     name,
					Linkname: link,
					Mode:     0o777,
				})
			case info.Mode().IsRegular():
				if err := tw.WriteHeader(&tar.Header{
					Typeflag: tar.TypeReg,
					Name:     name,
					Mode:     int64(info.Mode().Perm()),
					Size:     info.Size(),
				}); err != nil {
					return err
				}
				f, err := os.Open(p)
				if err != nil {
					return err
				}
				if _, err := io.Copy(tw, f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			default:
				return fmt.Errorf("unsupported file type at %s", p)
			}
		})
	})
}

// writeFilesLayer packs individual build-context files into a layer at
// their in-image paths. A missing source file is a fatal build error.
func writeFilesLayer(dst string, copies map[string]string, contextDir string) error {
	targets := make([]string, 0, len(copies))
	for t := range copies {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	return writeLayer(dst, func(tw *tar.Writer) error {
		for _, target := range targets {
			src := copies[target]
			if !filepath.IsAbs(src) {
				src = filepath.Join(contextDir, src)
			}

			info, err := os.Stat(src)
			if err != nil {
				return fmt.Errorf("application file %s not found: %w", src, err)
			}
			if !info.Mode().IsRegular() {
				return fmt.Errorf("application file %s is not a regular file", src)
			}

			name := strings.TrimPrefix(path.Clean(target), "/")
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeReg,
				Name:     name,
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
			}); err != nil {
				return err
			}
			f, err := os.Open(src)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
}

func writeLayer(dst string, fill func(*tar.Writer) error) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := fill(tw); err != nil {
		tw.Close()
		gz.Close()
		f.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

// scanLayerForToolchain streams the layer's entries and fails on any
// build-only tool binary. This runs over the final layer set, base rootfs
// included, because "minimal" is a property of the composed image, not of
// any one input.
func scanLayerForToolchain(blobPath, kind string) error {
	f, err := os.Open(blobPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s layer is not a gzipped tar: %w", kind, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt %s layer: %w", kind, err)
		}
		if installtree.IsToolchainPath(hdr.Name) {
			return fmt.Errorf("%s layer ships build-only tool %q; the image must stay free of toolchains", kind, hdr.Name)
		}
	}
}
