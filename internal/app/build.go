package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/vk/kiln/internal/assemble"
	"github.com/vk/kiln/internal/installtree"
	"github.com/vk/kiln/internal/manifest"
	"github.com/vk/kiln/internal/pkgindex"
	"github.com/vk/kiln/internal/store"
)

// runBuild executes the whole packaging pipeline: recipe -> install tree ->
// assembled image -> store commit. Either a complete image is committed or
// nothing is; every failure path records a failed build and leaves the
// store untouched.
func (a *App) runBuild(ctx context.Context, cfg *Config, st *store.Store) error {
	buildID := uuid.New().String()
	startedAt := time.Now().UTC()

	// The pending row lands before any pipeline work so every attempt shows
	// up in the history, even ones that die mid-build.
	if recErr := st.RecordBuild(buildID, "", store.BuildStatusPending, "", startedAt, 0); recErr != nil {
		a.logger.Warn("Failed to record build attempt.", "error", recErr)
	}

	img, err := a.build(ctx, cfg, st, buildID)

	status := store.BuildStatusSucceeded
	errMsg := ""
	name := ""
	if err != nil {
		status = store.BuildStatusFailed
		errMsg = err.Error()
	} else {
		name = img.Name
	}
	if recErr := st.FinishBuild(buildID, name, status, errMsg, time.Since(startedAt)); recErr != nil {
		a.logger.Warn("Failed to record build outcome.", "error", recErr)
	}

	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(a.outW, "%s Built image %s (%s)\n", green("✓"), img.Name, shortDigest(img.Digest))
	return nil
}

func (a *App) build(ctx context.Context, cfg *Config, st *store.Store, buildID string) (builtImage *assembledImage, err error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.errW))
	step := func(suffix string) {
		s.Suffix = " " + suffix
		s.Start()
	}
	fail := func() {
		s.Stop()
		color.New(color.FgRed).Fprintln(a.outW, "✗ Build failed")
	}
	done := func(msg string) {
		s.Stop()
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(a.outW, "%s %s\n", green("✓"), msg)
	}

	step("Loading recipe...")
	model, err := a.loader.Load(ctx, cfg.RecipePath)
	if err != nil {
		fail()
		return nil, err
	}
	contextDir := filepath.Dir(cfg.RecipePath)
	rec := model.Image
	done("Loaded recipe")

	step("Resolving dependencies...")
	manifestPath := rec.Stage.Manifest
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(contextDir, manifestPath)
	}
	man, err := manifest.ParseFile(manifestPath)
	if err != nil {
		fail()
		return nil, err
	}

	treeDir, err := os.MkdirTemp("", "kiln-tree-*")
	if err != nil {
		fail()
		return nil, err
	}
	defer os.RemoveAll(treeDir)

	builder := installtree.NewBuilder(pkgindex.New(cfg.IndexURL))
	resolved, err := builder.Build(ctx, man, treeDir)
	if err != nil {
		fail()
		return nil, err
	}
	if err := installtree.NewLockfile(resolved).Write(manifestPath + ".lock"); err != nil {
		fail()
		return nil, err
	}
	done(fmt.Sprintf("Resolved %d dependencies", len(resolved)))

	step("Assembling image...")
	out, err := assemble.Assemble(ctx, assemble.Input{
		Recipe:      rec,
		ContextDir:  contextDir,
		InstallTree: treeDir,
	})
	if err != nil {
		fail()
		return nil, err
	}
	defer os.RemoveAll(out.ScratchDir)
	done("Assembled image")

	step("Committing to store...")
	out.Image.ID = buildID
	if err := st.Commit(out.Image, out.LayerFiles); err != nil {
		fail()
		return nil, err
	}
	done("Committed to store")

	return &assembledImage{Name: out.Image.Name, Digest: out.Image.Digest}, nil
}

type assembledImage struct {
	Name   string
	Digest string
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
