package harness

import (
	"fmt"
	"time"
)

// RunSummary accumulates counts for one harness run. It is owned by the
// driver and changed only through Record.
type RunSummary struct {
	TotalDiscovered    int
	TotalRun           int
	Passed             int
	Failed             int
	TimedOut           int
	CumulativeDuration time.Duration
	Interrupted        bool
}

// NewRunSummary starts a summary for discovered fixtures.
func NewRunSummary(discovered int) RunSummary {
	return RunSummary{TotalDiscovered: discovered}
}

// Record folds one fixture outcome into the summary. Durations of timed-out
// runs are not added to the cumulative time.
func (s *RunSummary) Record(outcome Outcome, d time.Duration) {
	s.TotalRun++
	switch outcome {
	case Passed:
		s.Passed++
		s.CumulativeDuration += d
	case TimedOut:
		s.TimedOut++
	default:
		s.Failed++
		s.CumulativeDuration += d
	}
}

// AllPassed reports whether no processed fixture failed or timed out.
func (s RunSummary) AllPassed() bool {
	return s.Failed == 0 && s.TimedOut == 0
}

// Ratio returns passed over run, or 0 when nothing ran.
func (s RunSummary) Ratio() float64 {
	if s.TotalRun == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.TotalRun)
}

func (s RunSummary) String() string {
	if s.TotalRun == 0 {
		return "No tests run yet"
	}
	return fmt.Sprintf("%d/%d tests passed in %.3fs", s.Passed, s.TotalDiscovered, s.CumulativeDuration.Seconds())
}
