package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/kiln/internal/ctxlog"
)

// Supervisor fires the invocation on the schedule and stays resident. The
// process exiting is the one failure mode that silently stops all future
// triggers, so Run only returns when its context is canceled.
type Supervisor struct {
	clock  Clock
	sched  Schedule
	runner Runner
	inv    Invocation

	// OnResult, when set, observes every completed invocation. Used by the
	// app to record runs in the store.
	OnResult func(Result, error)

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewSupervisor wires a schedule to a runner. A nil clock means the system
// clock.
func NewSupervisor(clock Clock, sched Schedule, runner Runner, inv Invocation) *Supervisor {
	if clock == nil {
		clock = SystemClock()
	}
	return &Supervisor{clock: clock, sched: sched, runner: runner, inv: inv}
}

// Run loops forever: sleep until the next fire time, invoke, repeat. It
// returns the context's error once canceled, after any in-flight
// invocation has finished.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Trigger supervisor started.", "days", s.sched.DayNames(), "at", s.sched.At())

	defer s.wg.Wait()

	for {
		now := s.clock.Now()
		next := s.sched.Next(now)
		logger.Debug("Sleeping until next fire time.", "next", next)

		select {
		case <-ctx.Done():
			logger.Info("Trigger supervisor stopping.")
			return ctx.Err()
		case <-s.clock.After(next.Sub(now)):
		}

		s.fire(ctx, next)
	}
}

// fire launches one invocation unless the previous one is still running.
// Overlapping runs are skipped rather than queued: the weekly cadence means
// a run that outlasts its interval is already pathological, and stacking a
// second copy of the script on top would make it worse.
func (s *Supervisor) fire(ctx context.Context, scheduledAt time.Time) {
	logger := ctxlog.FromContext(ctx)

	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("Skipping trigger: previous invocation still running.", "scheduled_at", scheduledAt)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		res, err := s.runner.Run(ctx, s.inv)
		if err != nil {
			logger.Error("Invocation failed to start.", "error", err)
		} else if res.ExitCode != 0 {
			logger.Warn("Invocation exited non-zero.", "exit_code", res.ExitCode, "duration", res.Duration)
		} else {
			logger.Info("Invocation completed.", "duration", res.Duration)
		}

		if s.OnResult != nil {
			s.OnResult(res, err)
		}
	}()
}
