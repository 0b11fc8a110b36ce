package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a simulated clock. Every After call parks a waiter; fire
// advances the clock by the waiter's duration and wakes it, so the test
// fully controls when the supervisor believes time has passed.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters chan fakeWaiter
}

type fakeWaiter struct {
	d  time.Duration
	ch chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, waiters: make(chan fakeWaiter, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	w := fakeWaiter{d: d, ch: make(chan time.Time, 1)}
	c.waiters <- w
	return w.ch
}

// fire waits for the supervisor to go to sleep, then advances the clock to
// its wake-up time.
func (c *fakeClock) fire(t *testing.T) time.Time {
	t.Helper()
	select {
	case w := <-c.waiters:
		c.mu.Lock()
		c.now = c.now.Add(w.d)
		now := c.now
		c.mu.Unlock()
		w.ch <- now
		return now
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never went to sleep")
		return time.Time{}
	}
}

// awaitSleep waits for the supervisor's next After call without waking it.
func (c *fakeClock) awaitSleep(t *testing.T) fakeWaiter {
	t.Helper()
	select {
	case w := <-c.waiters:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never went to sleep")
		return fakeWaiter{}
	}
}

type recordingRunner struct {
	mu      sync.Mutex
	invs    []Invocation
	started chan struct{} // when non-nil, receives once per Run
	block   chan struct{} // when non-nil, Run waits on it
	result  Result
}

func (r *recordingRunner) Run(_ context.Context, inv Invocation) (Result, error) {
	r.mu.Lock()
	r.invs = append(r.invs, inv)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return r.result, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invs)
}

func TestSupervisorFiresOnSchedule(t *testing.T) {
	// Monday midnight; the default schedule fires Tuesday 07:00.
	clock := newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	runner := &recordingRunner{result: Result{ExitCode: 0}}
	inv := Invocation{Command: []string{"/app/devaid.py"}, Env: []string{"TZ=UTC"}}

	sup := NewSupervisor(clock, DefaultSchedule(), runner, inv)

	results := make(chan Result, 8)
	sup.OnResult = func(res Result, err error) {
		require.NoError(t, err)
		results <- res
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	first := clock.fire(t)
	assert.Equal(t, time.Date(2024, 1, 2, 7, 0, 0, 0, time.UTC), first)
	<-results

	second := clock.fire(t)
	assert.Equal(t, time.Date(2024, 1, 9, 7, 0, 0, 0, time.UTC), second)
	<-results

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 2, runner.count())
	assert.Equal(t, inv, runner.invs[0])
}

func TestSupervisorSkipsOverlappingRun(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	runner := &recordingRunner{started: make(chan struct{}, 8), block: make(chan struct{})}

	sup := NewSupervisor(clock, DefaultSchedule(), runner, Invocation{Command: []string{"run"}})

	results := make(chan Result, 8)
	sup.OnResult = func(res Result, _ error) { results <- res }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// First fire starts an invocation that never finishes on its own.
	clock.fire(t)
	<-runner.started

	// Second fire happens while the first invocation is still running and
	// must be skipped, not queued.
	clock.fire(t)

	// The supervisor is asleep again; only then is the skip decision final.
	clock.awaitSleep(t)
	assert.Equal(t, 1, runner.count())

	close(runner.block)
	<-results

	cancel()
	<-done
	assert.Equal(t, 1, runner.count())
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sup := NewSupervisor(clock, DefaultSchedule(), &recordingRunner{}, Invocation{Command: []string{"run"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	clock.awaitSleep(t)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}
