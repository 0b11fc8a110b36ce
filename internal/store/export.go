package store

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/vk/kiln/internal/image"
)

// Export writes the image's on-wire form to w: a single tar holding the
// manifest, the config, and every layer blob. This is the format push
// publishes and export saves to disk.
func (s *Store) Export(img *image.Image, w io.Writer) error {
	tw := tar.NewWriter(w)

	manifestBytes, err := image.EncodeCanonical(img.Manifest)
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}

	configBytes, err := image.EncodeCanonical(img.Config)
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "config.json", configBytes); err != nil {
		return err
	}

	for _, layer := range img.Manifest.Layers {
		if err := s.exportBlob(tw, layer); err != nil {
			return err
		}
	}

	return tw.Close()
}

func (s *Store) exportBlob(tw *tar.Writer, layer image.LayerDescriptor) error {
	f, err := os.Open(s.BlobPath(layer.Digest))
	if err != nil {
		return fmt.Errorf("layer %s (%s) missing from store: %w", layer.Digest, layer.Kind, err)
	}
	defer f.Close()

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     "layers/" + layer.Digest + ".tar.gz",
		Mode:     0o644,
		Size:     layer.Size,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to export layer %s: %w", layer.Digest, err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
