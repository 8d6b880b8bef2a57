package harness

import (
	"time"

	"github.com/lattice-substrate/fixture-harness/fixture"
	"github.com/lattice-substrate/fixture-harness/normalize"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

// Outcome classifies one fixture run.
type Outcome string

const (
	Passed   Outcome = "PASSED"
	Failed   Outcome = "FAILED"
	TimedOut Outcome = "TIMED_OUT"
)

// Record is everything known about one processed fixture.
type Record struct {
	Path     string
	Outcome  Outcome
	Duration time.Duration
	Expected string
	Actual   string
	ExitCode int
	// Err is set when the fixture could not be read or the run failed
	// outside the program's control. Such fixtures count as Failed.
	Err error
	// WriteBack is set when the observed output was recorded into the
	// fixture; WriteErr when that write failed.
	WriteBack *fixture.WritePlan
	WriteErr  error
}

// ActualText joins captured streams the way fixtures store expectations.
func ActualText(stdout, stderr string) string {
	return stdout + fixture.Delimiter + stderr
}

// Compare applies the exact-equality rule: no trimming, no line-ending or
// whitespace normalization.
func Compare(actual, expected string) Outcome {
	if actual == expected {
		return Passed
	}
	return Failed
}

// Classify turns an execution result into an Outcome and the actual text it
// was judged on. A timed-out result is never compared.
func Classify(res executil.Result, n *normalize.Normalizer, expected string) (Outcome, string) {
	if res.Status == executil.StatusTimedOut {
		return TimedOut, ""
	}
	actual := ActualText(res.Stdout, n.Normalize(res.Stderr))
	return Compare(actual, expected), actual
}
