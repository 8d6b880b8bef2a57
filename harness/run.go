package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/lattice-substrate/fixture-harness/fixture"
	"github.com/lattice-substrate/fixture-harness/harnesserr"
	"github.com/lattice-substrate/fixture-harness/normalize"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

var log = commonlog.GetLogger("plm-harness.harness")

// Observer is notified as the run progresses. Calls happen on the driver
// goroutine, in fixture order.
type Observer interface {
	RunStarted(total int)
	FixtureFinished(index, total int, rec Record)
}

// Options configures a Runner.
type Options struct {
	Program    []string
	Dir        string
	Env        map[string]string
	Timeout    time.Duration
	Normalizer *normalize.Normalizer
	// Exec runs the program under test; nil uses executil.OSProcessRunner.
	Exec executil.ProcessRunner
	// Writer, when set, records observed output into fixtures that have no
	// expected section yet.
	Writer   fixture.Writer
	Observer Observer
}

// Runner processes fixtures strictly one at a time.
type Runner struct {
	opts Options
}

// NewRunner validates opts and fills defaults.
func NewRunner(opts Options) (*Runner, error) {
	if len(opts.Program) == 0 || opts.Program[0] == "" {
		return nil, harnesserr.New(harnesserr.Config, "", "program command is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = executil.DefaultTimeout
	}
	if opts.Exec == nil {
		opts.Exec = executil.OSProcessRunner{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	opts.Program = append([]string(nil), opts.Program...)
	return &Runner{opts: opts}, nil
}

// Run processes paths in order and returns the summary.
//
// Cancelling ctx stops the run before the next fixture (killing the one in
// flight, which is then not counted) and returns the partial summary with an
// INTERRUPTED error. A program that cannot be started returns the partial
// summary with a PROGRAM_MISSING error. Every other per-fixture problem is
// counted as Failed and the run continues.
func (r *Runner) Run(ctx context.Context, paths []string) (RunSummary, error) {
	summary := NewRunSummary(len(paths))
	r.opts.Observer.RunStarted(len(paths))

	for i, path := range paths {
		if ctx.Err() != nil {
			return interrupted(summary, ctx.Err())
		}
		rec, err := r.runFixture(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(summary, err)
			}
			if harnesserr.ClassOf(err).Fatal() {
				return summary, err
			}
			log.Warningf("%v", err)
			rec = Record{Path: path, Outcome: Failed, Err: err}
		}
		summary.Record(rec.Outcome, rec.Duration)
		log.Debugf("%s: %s in %s", path, rec.Outcome, rec.Duration)
		r.opts.Observer.FixtureFinished(i+1, len(paths), rec)
	}
	return summary, nil
}

func interrupted(summary RunSummary, cause error) (RunSummary, error) {
	summary.Interrupted = true
	log.Noticef("run interrupted after %d fixtures", summary.TotalRun)
	return summary, harnesserr.Wrap(harnesserr.Interrupted, "", "run interrupted", cause)
}

func (r *Runner) runFixture(ctx context.Context, path string) (Record, error) {
	f, err := fixture.Read(path)
	if err != nil {
		return Record{}, err
	}

	res, err := r.opts.Exec.Run(ctx, executil.Invocation{
		Argv:    r.opts.Program,
		Dir:     r.opts.Dir,
		Env:     r.opts.Env,
		Stdin:   f.Input,
		Timeout: r.opts.Timeout,
	})
	if err != nil {
		var startErr *executil.StartError
		if errors.As(err, &startErr) {
			return Record{}, harnesserr.Wrap(harnesserr.ProgramMissing, r.opts.Program[0], "cannot start program under test", err)
		}
		if ctx.Err() != nil {
			return Record{}, err
		}
		return Record{
			Path:     path,
			Outcome:  Failed,
			Duration: res.Duration,
			Expected: f.Expected,
			Err:      fmt.Errorf("run fixture: %w", err),
		}, nil
	}

	outcome, actual := Classify(res, r.opts.Normalizer, f.Expected)
	rec := Record{
		Path:     path,
		Outcome:  outcome,
		Duration: res.Duration,
		Expected: f.Expected,
		Actual:   actual,
		ExitCode: res.ExitCode,
	}
	if outcome != TimedOut && r.opts.Writer != nil {
		if plan, ok := fixture.PlanWrite(f, actual); ok {
			rec.WriteBack = &plan
			if err := r.opts.Writer.Apply(plan); err != nil {
				rec.WriteErr = err
				log.Warningf("write-back %s: %v", path, err)
			}
		}
	}
	return rec, nil
}

type nopObserver struct{}

func (nopObserver) RunStarted(int)                   {}
func (nopObserver) FixtureFinished(int, int, Record) {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

// RunStarted implements Observer.
func (m MultiObserver) RunStarted(total int) {
	for _, o := range m {
		o.RunStarted(total)
	}
}

// FixtureFinished implements Observer.
func (m MultiObserver) FixtureFinished(index, total int, rec Record) {
	for _, o := range m {
		o.FixtureFinished(index, total, rec)
	}
}
