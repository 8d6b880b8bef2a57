package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultTimeout bounds one run of the program under test.
const DefaultTimeout = 5 * time.Second

// waitDelay bounds stream draining after the process group is killed.
const waitDelay = time.Second

// Status tags how a run ended.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Invocation is one run of the program under test.
type Invocation struct {
	Argv    []string
	Dir     string
	Env     map[string]string
	Stdin   string
	Timeout time.Duration
}

// Result captures the streams and timing of one run. A non-zero exit code is
// still StatusCompleted; only the timeout produces StatusTimedOut.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Status   Status
}

// StartError reports that the program could not be started at all.
type StartError struct {
	Argv []string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %q: %v", e.Argv, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ProcessRunner runs the program under test.
type ProcessRunner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// OSProcessRunner runs the program under test as a host process in its own
// process group. The group is killed when the run ends, whether the program
// exited, timed out or was cancelled, so no descendant outlives a fixture.
type OSProcessRunner struct {
	// Now is the clock used for durations; nil means time.Now.
	Now func() time.Time
}

// Run executes inv. Timeouts are reported through Result.Status, never as an
// error. Cancellation of ctx kills the process group and returns ctx.Err().
func (r OSProcessRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Argv) == 0 {
		return Result{}, &StartError{Argv: inv.Argv, Err: errors.New("empty argv")}
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// #nosec G204 -- argv comes from the operator's harness configuration.
	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = mergeEnv(cmd.Environ(), inv.Env)
	cmd.Stdin = bytes.NewReader([]byte(inv.Stdin))
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	// The harness owns the output pipes so Wait returns when the program
	// exits, not when the last descendant holding a pipe does.
	streams, err := newCapture()
	if err != nil {
		return Result{}, fmt.Errorf("create output pipes: %w", err)
	}
	cmd.Stdout = streams.stdoutW
	cmd.Stderr = streams.stderrW

	start := now()
	if err := cmd.Start(); err != nil {
		streams.abort()
		return Result{}, &StartError{Argv: inv.Argv, Err: err}
	}
	streams.started()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		elapsed := now().Sub(start)
		// Background children must not outlive the fixture.
		killProcessGroup(cmd)
		stdout, stderr := streams.drain()
		res := Result{
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: elapsed,
			Status:   StatusCompleted,
		}
		if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return res, fmt.Errorf("wait %q: %w", inv.Argv, err)
			}
			res.ExitCode = exitErr.ExitCode()
		}
		return res, nil
	case <-timer.C:
		killProcessGroup(cmd)
		<-done
		elapsed := now().Sub(start)
		stdout, stderr := streams.drain()
		log.Infof("%q timed out after %s", inv.Argv, timeout)
		return Result{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: -1,
			Duration: elapsed,
			Status:   StatusTimedOut,
		}, nil
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		elapsed := now().Sub(start)
		streams.drain()
		return Result{Duration: elapsed}, fmt.Errorf("run %q cancelled: %w", inv.Argv, ctx.Err())
	}
}

// capture collects stdout and stderr through pipes the harness owns.
type capture struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	stdout, stderr   bytes.Buffer
	copied           chan struct{}
}

func newCapture() (*capture, error) {
	c := &capture{copied: make(chan struct{})}
	var err error
	if c.stdoutR, c.stdoutW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if c.stderrR, c.stderrW, err = os.Pipe(); err != nil {
		_ = c.stdoutR.Close()
		_ = c.stdoutW.Close()
		return nil, err
	}
	return c, nil
}

// started closes the parent's write ends and begins copying.
func (c *capture) started() {
	_ = c.stdoutW.Close()
	_ = c.stderrW.Close()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&c.stdout, c.stdoutR)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&c.stderr, c.stderrR)
	}()
	go func() {
		wg.Wait()
		close(c.copied)
	}()
}

func (c *capture) abort() {
	for _, f := range []*os.File{c.stdoutR, c.stdoutW, c.stderrR, c.stderrW} {
		_ = f.Close()
	}
}

// drain waits up to waitDelay for both streams to reach EOF, then closes the
// read ends. A descendant that escaped the process group cannot block it.
func (c *capture) drain() (string, string) {
	select {
	case <-c.copied:
	case <-time.After(waitDelay):
		log.Warningf("output pipes still open %s after exit; closing", waitDelay)
	}
	_ = c.stdoutR.Close()
	_ = c.stderrR.Close()
	<-c.copied
	return c.stdout.String(), c.stderr.String()
}
