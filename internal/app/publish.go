package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/vk/kiln/internal/push"
	"github.com/vk/kiln/internal/store"
)

// runPush publishes the named image to object storage.
func (a *App) runPush(ctx context.Context, cfg *Config, st *store.Store) error {
	img, err := st.Image(cfg.ImageName)
	if err != nil {
		return err
	}

	publisher, err := push.New(cfg.Push)
	if err != nil {
		return err
	}

	key, err := publisher.Publish(ctx, st, img)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(a.outW, "%s Pushed %s to %s/%s\n", green("✓"), img.Name, cfg.Push.Bucket, key)
	return nil
}

// runExport writes the image's tarball form to the output path.
func (a *App) runExport(ctx context.Context, cfg *Config, st *store.Store) error {
	img, err := st.Image(cfg.ImageName)
	if err != nil {
		return err
	}

	outPath := cfg.OutputPath
	if outPath == "" {
		outPath = img.Name + ".tar"
	}

	// Stage into a temp file in the destination directory and rename once
	// the export is complete, so a failure never clobbers an existing file.
	f, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	tmpPath := f.Name()

	if err := st.Export(img, f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export of %s failed: %w", img.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize export file: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(a.outW, "%s Exported %s to %s\n", green("✓"), img.Name, outPath)
	return nil
}
