package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vk/kiln/internal/store"
	"github.com/vk/kiln/internal/trigger"
)

// runServe loads the image's trigger descriptor and runs the supervisor,
// staying resident so the weekly cadence keeps firing. It only returns
// once the context is canceled.
func (a *App) runServe(ctx context.Context, cfg *Config, st *store.Store) error {
	img, err := st.Image(cfg.ImageName)
	if err != nil {
		return err
	}

	desc := img.Manifest.Trigger
	if desc == nil {
		return fmt.Errorf("image %q carries no trigger descriptor", img.Name)
	}

	sched, err := trigger.NewSchedule(desc.Days, desc.At)
	if err != nil {
		return fmt.Errorf("image %q has an invalid trigger descriptor: %w", img.Name, err)
	}

	inv := trigger.Invocation{
		Command: desc.Command,
		Env:     img.Config.Env,
		Dir:     a.invocationDir(cfg, img.Config.WorkingDir),
	}

	runner := &trigger.ExecRunner{Stdout: a.outW, Stderr: a.errW}
	sup := trigger.NewSupervisor(trigger.SystemClock(), sched, runner, inv)
	sup.OnResult = func(res trigger.Result, err error) {
		exitCode := res.ExitCode
		output := res.Output
		if err != nil {
			exitCode = -1
			output = err.Error()
		}
		if recErr := st.RecordRun(img.Name, time.Now().UTC().Add(-res.Duration), res.Duration, output, exitCode); recErr != nil {
			a.logger.Warn("Failed to record run.", "error", recErr)
		}
	}

	return sup.Run(ctx)
}

// invocationDir picks the working directory for invocations. The image's
// working directory wins when it exists on this host; otherwise fall back
// to the current directory rather than failing every fire.
func (a *App) invocationDir(cfg *Config, imageWorkDir string) string {
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	if info, err := os.Stat(imageWorkDir); err == nil && info.IsDir() {
		return imageWorkDir
	}
	a.logger.Warn("Image working directory not present on host, using current directory.", "workdir", imageWorkDir)
	return ""
}
