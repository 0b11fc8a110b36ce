// Package assemble implements the runtime assembler: it composes the
// minimal runtime image from the base rootfs, the isolated install tree,
// and the application files, bakes in the process-wide environment and the
// trigger descriptor, and stages the result for an atomic store commit.
//
// The pipeline is linear with two terminal outcomes: a staged image, or an
// error with the scratch directory discarded. There is no partial success.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/envconf"
	"github.com/vk/kiln/internal/fsutil"
	"github.com/vk/kiln/internal/image"
	"github.com/vk/kiln/internal/recipe"
)

// Input is everything the assembler needs from the earlier pipeline steps.
type Input struct {
	Recipe      *recipe.Image
	ContextDir  string // recipe directory; relative sources resolve against it
	InstallTree string // the builder stage's output directory
}

// Output is a staged image awaiting store commit. The caller removes
// ScratchDir once the commit (or the failure handling) is done.
type Output struct {
	Image      *image.Image
	LayerFiles map[string]string // layer digest -> staged blob file
	ScratchDir string
}

// Assemble composes the runtime image.
func Assemble(ctx context.Context, in Input) (*Output, error) {
	logger := ctxlog.FromContext(ctx)
	img := in.Recipe

	basePath := resolvePath(in.ContextDir, img.From)
	meta, err := image.LoadBaseMetadata(basePath)
	if err != nil {
		return nil, err
	}

	depsTarget, appCopies, err := splitCopies(img, meta)
	if err != nil {
		return nil, err
	}

	env, err := envconf.New(img.Env)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "kiln-assemble-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create assembly scratch dir: %w", err)
	}
	out, err := assembleInScratch(ctx, in, img, meta, depsTarget, appCopies, env, scratch, basePath)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	logger.Info("Image assembled.", "image", out.Image.Name, "layers", len(out.Image.Manifest.Layers), "size_bytes", out.Image.Size())
	return out, nil
}

func assembleInScratch(
	ctx context.Context,
	in Input,
	rec *recipe.Image,
	meta *image.BaseMetadata,
	depsTarget string,
	appCopies map[string]string,
	env *envconf.Config,
	scratch string,
	basePath string,
) (*Output, error) {
	logger := ctxlog.FromContext(ctx)

	layerFiles := make(map[string]string)
	var layers []image.LayerDescriptor

	addLayer := func(kind, blobPath string) error {
		digest, size, err := image.DigestFile(blobPath)
		if err != nil {
			return fmt.Errorf("failed to digest %s layer: %w", kind, err)
		}
		layerFiles[digest] = blobPath
		layers = append(layers, image.LayerDescriptor{Kind: kind, Digest: digest, Size: size})
		logger.Debug("Layer staged.", "kind", kind, "digest", digest, "size", size)
		return nil
	}

	// Base rootfs is reused as-is; its digest is the digest of the archive.
	baseBlob := filepath.Join(scratch, "base.tar.gz")
	if err := fsutil.CopyFile(basePath, baseBlob); err != nil {
		return nil, fmt.Errorf("failed to stage base rootfs: %w", err)
	}
	if err := addLayer(image.LayerKindBase, baseBlob); err != nil {
		return nil, err
	}

	depsBlob := filepath.Join(scratch, "deps.tar.gz")
	if err := writeTreeLayer(depsBlob, in.InstallTree, depsTarget); err != nil {
		return nil, fmt.Errorf("failed to build dependency layer: %w", err)
	}
	if err := addLayer(image.LayerKindDeps, depsBlob); err != nil {
		return nil, err
	}

	appBlob := filepath.Join(scratch, "app.tar.gz")
	if err := writeFilesLayer(appBlob, appCopies, in.ContextDir); err != nil {
		return nil, err
	}
	if err := addLayer(image.LayerKindApp, appBlob); err != nil {
		return nil, err
	}

	// The measurable outcome this component owes: no build-only tooling in
	// the final layer set.
	for _, l := range layers {
		if err := scanLayerForToolchain(layerFiles[l.Digest], l.Kind); err != nil {
			return nil, err
		}
	}

	sched := rec.Trigger
	cfg := &image.Config{
		Env:         env.Slice(),
		Entrypoint:  sched.Command,
		WorkingDir:  rec.WorkDir,
		SearchPaths: meta.SearchPaths,
	}
	configBytes, err := image.EncodeCanonical(cfg)
	if err != nil {
		return nil, err
	}

	manifest := &image.Manifest{
		SchemaVersion: image.SchemaVersion,
		Name:          rec.Name,
		CreatedAt:     time.Now().UTC(),
		ConfigDigest:  image.DigestBytes(configBytes),
		Layers:        layers,
		Trigger: &image.TriggerDescriptor{
			Command: sched.Command,
			Days:    dayNames(sched.Days),
			At:      sched.At,
		},
	}
	manifestBytes, err := image.EncodeCanonical(manifest)
	if err != nil {
		return nil, err
	}

	return &Output{
		Image: &image.Image{
			Name:     manifest.Name,
			Digest:   image.DigestBytes(manifestBytes),
			Manifest: manifest,
			Config:   cfg,
		},
		LayerFiles: layerFiles,
		ScratchDir: scratch,
	}, nil
}

// splitCopies validates the recipe's copy set against the base metadata and
// partitions it into the install-tree target and the app file map.
//
// The install-tree target must be one of the interpreter search paths the
// base image declares. Catching a mismatch here turns a latent
// first-invocation import failure into an immediate build failure.
func splitCopies(img *recipe.Image, meta *image.BaseMetadata) (depsTarget string, appCopies map[string]string, err error) {
	appCopies = make(map[string]string)

	for _, c := range img.Copies {
		if c.FromStage == "" {
			target := c.Target
			if !path.IsAbs(target) {
				target = path.Join(img.WorkDir, target)
			}
			appCopies[target] = c.Source
			continue
		}

		if depsTarget != "" {
			return "", nil, fmt.Errorf("image %q: multiple stage-output copies", img.Name)
		}
		if c.Source != img.Stage.Prefix {
			return "", nil, fmt.Errorf("image %q: stage copy source %q does not match the stage prefix %q", img.Name, c.Source, img.Stage.Prefix)
		}
		if !containsPath(meta.SearchPaths, c.Target) {
			return "", nil, fmt.Errorf(
				"image %q: install tree copied to %q, which is not on the interpreter search path %v; the script would fail its first import",
				img.Name, c.Target, meta.SearchPaths,
			)
		}
		depsTarget = c.Target
	}

	if len(appCopies) == 0 {
		return "", nil, fmt.Errorf("image %q: no application files are copied into the image", img.Name)
	}
	return depsTarget, appCopies, nil
}

func containsPath(haystack []string, needle string) bool {
	needle = path.Clean(needle)
	for _, p := range haystack {
		if path.Clean(p) == needle {
			return true
		}
	}
	return false
}

func dayNames(days []time.Weekday) []string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = weekdayName(d)
	}
	return names
}

func weekdayName(d time.Weekday) string {
	// time.Weekday.String gives "Tuesday"; descriptors store lowercase.
	name := d.String()
	return string(name[0]|0x20) + name[1:]
}

func resolvePath(contextDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(contextDir, p)
}
