package fixture

import (
	"fmt"
	"os"
)

// WritePlan describes an append that would record observed output as a
// fixture's expected section.
type WritePlan struct {
	Path   string
	Append string
}

// PlanWrite decides whether actual output should be written back to f. Only
// fixtures without an expected section are eligible. A fixture that lacks
// the delimiter gets one before the actual text so the result parses back
// into the same input.
func PlanWrite(f Fixture, actual string) (WritePlan, bool) {
	if f.HasExpected() || f.Path == "" {
		return WritePlan{}, false
	}
	text := actual
	if !f.Delimited {
		text = Delimiter + actual
	}
	return WritePlan{Path: f.Path, Append: text}, true
}

// Writer applies write plans.
type Writer interface {
	Apply(plan WritePlan) error
}

// FileWriter appends plans to fixture files on disk.
type FileWriter struct{}

// Apply appends plan.Append to plan.Path.
//
//nolint:gosec // plan paths come from discovery under the operator-chosen root.
func (FileWriter) Apply(plan WritePlan) error {
	f, err := os.OpenFile(plan.Path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open fixture for write-back: %w", err)
	}
	if _, err := f.WriteString(plan.Append); err != nil {
		_ = f.Close()
		return fmt.Errorf("write fixture %s: %w", plan.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close fixture %s: %w", plan.Path, err)
	}
	return nil
}
