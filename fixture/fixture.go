package fixture

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lattice-substrate/fixture-harness/harnesserr"
)

// Delimiter separates the input section from the expected section, and by
// convention expected stdout from expected stderr.
const Delimiter = "=====\n"

// Fixture is one parsed test case. It is immutable once read.
type Fixture struct {
	Path      string
	Input     string
	Expected  string
	Delimited bool
}

// Parse splits raw fixture content on the first Delimiter.
//
// Content without a delimiter parses to Input equal to the whole content and
// an empty Expected section; such a fixture is valid and simply has no known
// expectation yet.
func Parse(raw string) Fixture {
	input, expected, found := strings.Cut(raw, Delimiter)
	if !found {
		return Fixture{Input: raw}
	}
	return Fixture{Input: input, Expected: expected, Delimited: true}
}

// Raw rejoins the fixture into its on-disk form.
func (f Fixture) Raw() string {
	if !f.Delimited {
		return f.Input
	}
	return f.Input + Delimiter + f.Expected
}

// HasExpected reports whether the fixture carries an expected section.
func (f Fixture) HasExpected() bool {
	return f.Expected != ""
}

// Name returns the base name of the fixture path.
func (f Fixture) Name() string {
	return filepath.Base(f.Path)
}

// Read loads and parses the fixture at path. Failures are classified as
// FIXTURE_READ so the caller can count them without aborting the run.
//
//nolint:gosec // fixture paths come from discovery under the operator-chosen root.
func Read(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{Path: path}, harnesserr.Wrap(harnesserr.FixtureRead, path, "read fixture", err)
	}
	if !utf8.Valid(data) {
		return Fixture{Path: path}, harnesserr.New(harnesserr.FixtureRead, path, "fixture is not valid UTF-8")
	}
	f := Parse(string(data))
	f.Path = path
	return f, nil
}
