package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/google/uuid"
)

// ReportSchemaVersion identifies the report document layout.
const ReportSchemaVersion = "plm-harness.report.v1"

// Report is the machine-consumed run summary artifact.
type Report struct {
	SchemaVersion             string         `json:"schema_version"`
	RunID                     string         `json:"run_id"`
	GeneratedAtUTC            string         `json:"generated_at_utc"`
	TestsDir                  string         `json:"tests_dir"`
	Program                   []string       `json:"program"`
	TimeoutMS                 int64          `json:"timeout_ms"`
	TotalDiscovered           int            `json:"total_discovered"`
	TotalRun                  int            `json:"total_run"`
	Passed                    int            `json:"passed"`
	Failed                    int            `json:"failed"`
	TimedOut                  int            `json:"timed_out"`
	CumulativeDurationSeconds float64        `json:"cumulative_duration_seconds"`
	Interrupted               bool           `json:"interrupted"`
	Fixtures                  []FixtureEntry `json:"fixtures"`
}

// FixtureEntry is one processed fixture in a Report.
type FixtureEntry struct {
	Path       string `json:"path"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
}

// ReportOptions carries run identity that the summary does not hold.
type ReportOptions struct {
	TestsDir string
	Program  []string
	Timeout  time.Duration
	Now      func() time.Time
	NewID    func() string
}

// Collector is an Observer that keeps the per-fixture entries for a Report.
type Collector struct {
	Entries []FixtureEntry
}

// RunStarted implements Observer.
func (c *Collector) RunStarted(total int) {
	c.Entries = make([]FixtureEntry, 0, total)
}

// FixtureFinished implements Observer.
func (c *Collector) FixtureFinished(_, _ int, rec Record) {
	entry := FixtureEntry{
		Path:       rec.Path,
		Outcome:    string(rec.Outcome),
		DurationMS: rec.Duration.Milliseconds(),
		ExitCode:   rec.ExitCode,
	}
	if rec.Err != nil {
		entry.Error = rec.Err.Error()
	}
	c.Entries = append(c.Entries, entry)
}

// NewReport assembles a report from a finished (or interrupted) run.
func NewReport(s RunSummary, entries []FixtureEntry, opts ReportOptions) *Report {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	if entries == nil {
		entries = []FixtureEntry{}
	}
	program := append([]string(nil), opts.Program...)
	if program == nil {
		program = []string{}
	}
	return &Report{
		SchemaVersion:             ReportSchemaVersion,
		RunID:                     newID(),
		GeneratedAtUTC:            now().UTC().Format(time.RFC3339Nano),
		TestsDir:                  opts.TestsDir,
		Program:                   program,
		TimeoutMS:                 opts.Timeout.Milliseconds(),
		TotalDiscovered:           s.TotalDiscovered,
		TotalRun:                  s.TotalRun,
		Passed:                    s.Passed,
		Failed:                    s.Failed,
		TimedOut:                  s.TimedOut,
		CumulativeDurationSeconds: s.CumulativeDuration.Seconds(),
		Interrupted:               s.Interrupted,
		Fixtures:                  entries,
	}
}

// MarshalReport encodes r as RFC 8785 canonical JSON followed by a newline,
// so identical runs produce identical bytes apart from run id, time and
// durations.
func MarshalReport(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report is nil")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report: %w", err)
	}
	return append(canonical, '\n'), nil
}

// WriteReport writes r to path.
func WriteReport(path string, r *Report) error {
	data, err := MarshalReport(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// LoadReport reads and validates a report written by WriteReport.
//
//nolint:gosec // report path is explicit operator input.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if err := ValidateReport(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ValidateReport checks that a report's counters agree with each other.
func ValidateReport(r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	if r.SchemaVersion != ReportSchemaVersion {
		return fmt.Errorf("unsupported schema_version %q", r.SchemaVersion)
	}
	if r.RunID == "" {
		return fmt.Errorf("report missing run_id")
	}
	if r.Passed+r.Failed+r.TimedOut != r.TotalRun {
		return fmt.Errorf("outcome counts %d+%d+%d do not add up to total_run %d", r.Passed, r.Failed, r.TimedOut, r.TotalRun)
	}
	if r.TotalRun > r.TotalDiscovered {
		return fmt.Errorf("total_run %d exceeds total_discovered %d", r.TotalRun, r.TotalDiscovered)
	}
	if len(r.Fixtures) != r.TotalRun {
		return fmt.Errorf("report lists %d fixtures, want %d", len(r.Fixtures), r.TotalRun)
	}
	counts := map[string]int{}
	for i, f := range r.Fixtures {
		if f.Path == "" {
			return fmt.Errorf("fixture[%d] has empty path", i)
		}
		switch Outcome(f.Outcome) {
		case Passed, Failed, TimedOut:
		default:
			return fmt.Errorf("fixture %s: invalid outcome %q", f.Path, f.Outcome)
		}
		counts[f.Outcome]++
	}
	if counts[string(Passed)] != r.Passed || counts[string(Failed)] != r.Failed || counts[string(TimedOut)] != r.TimedOut {
		return fmt.Errorf("fixture outcomes do not match summary counters")
	}
	return nil
}
