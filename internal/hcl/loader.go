// Package hcl provides the concrete HCL implementation of the recipe.Loader
// interface. It owns all file parsing and HCL-to-model translation so the
// rest of the pipeline never sees parser types.
package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/fsutil"
	"github.com/vk/kiln/internal/recipe"
)

// Loader is the HCL-specific implementation of recipe.Loader.
type Loader struct{}

// NewLoader creates a new HCL recipe loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the recipe at path, which may be a single .hcl file or a
// directory of them, and translates it into the format-agnostic model.
// Exactly one image block must be defined across all parsed files.
func (l *Loader) Load(ctx context.Context, path string) (*recipe.Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.findRecipeFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl recipe file found at %s", path)
	}
	logger.Debug("Discovered recipe files.", "count", len(files))

	parser := hclparse.NewParser()
	model := &recipe.Model{}

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse recipe %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode recipe %s: %w", file, diags)
		}

		for _, img := range root.Images {
			if model.Image != nil {
				return nil, fmt.Errorf("recipe %s: multiple image blocks (already have %q)", file, model.Image.Name)
			}
			translated, err := l.translateImage(ctx, img)
			if err != nil {
				return nil, fmt.Errorf("recipe %s: %w", file, err)
			}
			model.Image = translated
		}
	}

	if err := model.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Recipe loaded.", "image", model.Image.Name, "copies", len(model.Image.Copies))
	return model, nil
}

func (l *Loader) findRecipeFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing recipe path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtension(path, ".hcl")
}
