package hcl

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/kiln/internal/recipe"
	"github.com/vk/kiln/internal/trigger"
)

// translateImage converts the HCL image schema into the agnostic model.
func (l *Loader) translateImage(ctx context.Context, img *imageBlock) (*recipe.Image, error) {
	out := &recipe.Image{
		Name:    img.Name,
		From:    img.From,
		WorkDir: img.WorkDir,
	}
	if out.WorkDir == "" {
		out.WorkDir = "/app"
	}

	if len(img.Stages) > 1 {
		return nil, fmt.Errorf("image %q: only one builder stage is supported, found %d", img.Name, len(img.Stages))
	}
	if len(img.Stages) == 1 {
		s := img.Stages[0]
		out.Stage = &recipe.Stage{
			Name:     s.Name,
			From:     s.From,
			Manifest: s.Manifest,
			Prefix:   s.Prefix,
		}
	}

	for _, c := range img.Copies {
		out.Copies = append(out.Copies, &recipe.Copy{
			FromStage: c.FromStage,
			Source:    c.Source,
			Target:    c.Target,
		})
	}

	env, err := l.translateEnv(img.Env)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", img.Name, err)
	}
	out.Env = env

	if img.Trigger != nil {
		t, err := l.translateTrigger(img.Trigger)
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", img.Name, err)
		}
		out.Trigger = t
	}

	return out, nil
}

// translateEnv evaluates the free-form attributes of an env block into a
// string map. Values must be constant expressions convertible to string.
func (l *Loader) translateEnv(block *envBlock) (map[string]string, error) {
	if block == nil || block.Body == nil {
		return nil, nil
	}

	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid env block: %w", diags)
	}

	env := make(map[string]string, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("env %s: %w", name, diags)
		}
		strVal, err := convert.Convert(val, cty.String)
		if err != nil {
			return nil, fmt.Errorf("env %s: cannot convert %s to string: %w", name, val.Type().FriendlyName(), err)
		}
		env[name] = strVal.AsString()
	}
	return env, nil
}

// translateTrigger validates the schedule fields eagerly so a bad recipe
// fails the build instead of the first serve.
func (l *Loader) translateTrigger(block *triggerBlock) (*recipe.Trigger, error) {
	sched, err := trigger.NewSchedule(block.Days, block.At)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	return &recipe.Trigger{
		Command: block.Command,
		Days:    sched.Days,
		At:      sched.At(),
	}, nil
}
