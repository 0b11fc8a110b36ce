package recipe

import "context"

// Loader is the interface for a format-specific recipe loader.
type Loader interface {
	// Load reads the recipe at path, translates it into the
	// format-agnostic model, and validates it.
	Load(ctx context.Context, path string) (*Model, error)
}
