package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/vk/kiln/internal/ctxlog"
)

// Invocation is one concrete run of the triggered entrypoint: the argv from
// the trigger descriptor plus the environment and working directory baked
// into the image config.
type Invocation struct {
	Command []string
	Env     []string
	Dir     string
}

// Result captures the outcome of a completed invocation.
type Result struct {
	ExitCode int
	Output   string // combined stdout/stderr tail
	Duration time.Duration
}

// Runner executes one invocation of the triggered script. The supervisor
// only cares about completion; recording and policy live in the runner.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// maxOutputTail bounds how much combined output a Result retains.
const maxOutputTail = 8 << 10

// ExecRunner runs the invocation as a local subprocess.
type ExecRunner struct {
	// Stdout and Stderr additionally receive the process output as it is
	// produced, so logs stream instead of appearing only at completion.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the command, honoring context cancellation. A non-zero exit
// is reported in the Result, not as an error; errors mean the process could
// not be run at all.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Command) == 0 {
		return Result{}, fmt.Errorf("empty invocation command")
	}

	logger := ctxlog.FromContext(ctx)
	logger.Info("Invoking entrypoint.", "command", inv.Command[0], "args", len(inv.Command)-1)

	var tail tailBuffer
	stdout := io.Writer(&tail)
	stderr := io.Writer(&tail)
	if r.Stdout != nil {
		stdout = io.MultiWriter(r.Stdout, &tail)
	}
	if r.Stderr != nil {
		stderr = io.MultiWriter(r.Stderr, &tail)
	}

	cmd := exec.CommandContext(ctx, inv.Command[0], inv.Command[1:]...)
	cmd.Env = inv.Env
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   tail.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to invoke %s: %w", inv.Command[0], err)
	}

	return res, nil
}

// tailBuffer keeps the last maxOutputTail bytes written to it. os/exec
// copies stdout and stderr on separate goroutines when the two writers are
// not the same value, so Write and String must be safe for concurrent use.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	if t.buf.Len() > maxOutputTail {
		trimmed := t.buf.Bytes()[t.buf.Len()-maxOutputTail:]
		var next bytes.Buffer
		next.Write(trimmed)
		t.buf = next
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
