package recipe

import (
	"fmt"
	"time"
)

// Model is the unified representation of one parsed recipe.
type Model struct {
	Image *Image
}

// Image describes the runtime image to assemble.
type Image struct {
	Name    string
	From    string // base rootfs archive for the runtime stage
	WorkDir string
	Stage   *Stage
	Copies  []*Copy
	Env     map[string]string
	Trigger *Trigger
}

// Stage is the builder stage: it owns the dependency manifest and produces
// the isolated install tree at Prefix. From names the build rootfs the
// stage conceptually runs in; nothing from it ever reaches the final image.
type Stage struct {
	Name     string
	From     string
	Manifest string
	Prefix   string
}

// Copy places either a builder-stage output (FromStage set) or a file from
// the build context (FromStage empty) at Target inside the image.
type Copy struct {
	FromStage string
	Source    string
	Target    string
}

// Trigger is the scheduling rule bound to the image's entrypoint command.
type Trigger struct {
	Command []string
	Days    []time.Weekday
	At      string // "HH:MM", interpreted in UTC
}

// Validate checks the cross-field invariants a parser cannot express.
func (m *Model) Validate() error {
	img := m.Image
	if img == nil {
		return fmt.Errorf("recipe defines no image")
	}
	if img.From == "" {
		return fmt.Errorf("image %q: missing base rootfs (from)", img.Name)
	}
	if img.Stage == nil {
		return fmt.Errorf("image %q: missing builder stage", img.Name)
	}
	if img.Stage.Manifest == "" {
		return fmt.Errorf("image %q: stage %q has no dependency manifest", img.Name, img.Stage.Name)
	}
	if img.Stage.Prefix == "" {
		return fmt.Errorf("image %q: stage %q has no install prefix", img.Name, img.Stage.Name)
	}

	stageCopies := 0
	for _, c := range img.Copies {
		if c.Target == "" {
			return fmt.Errorf("image %q: copy of %q has no target", img.Name, c.Source)
		}
		if c.FromStage == "" {
			if c.Source == "" {
				return fmt.Errorf("image %q: copy has neither source nor from_stage", img.Name)
			}
			continue
		}
		if c.FromStage != img.Stage.Name {
			return fmt.Errorf("image %q: copy references unknown stage %q", img.Name, c.FromStage)
		}
		stageCopies++
	}
	if stageCopies == 0 {
		return fmt.Errorf("image %q: the builder stage output is never copied into the image", img.Name)
	}

	if img.Trigger == nil {
		return fmt.Errorf("image %q: missing trigger block", img.Name)
	}
	if len(img.Trigger.Command) == 0 {
		return fmt.Errorf("image %q: trigger has an empty command", img.Name)
	}

	return nil
}
