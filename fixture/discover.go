package fixture

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/coregx/coregex"

	"github.com/lattice-substrate/fixture-harness/harnesserr"
)

// DefaultNamePattern selects files whose name contains "test" and ends in
// ".txt". Patterns are matched case-insensitively against the base name.
const DefaultNamePattern = `^.*test.*\.txt$`

// NameMatcher decides which directory entries are fixtures.
type NameMatcher struct {
	pattern string
	re      *coregex.Regexp
}

// NewNameMatcher compiles pattern. An empty pattern selects DefaultNamePattern.
func NewNameMatcher(pattern string) (*NameMatcher, error) {
	if pattern == "" {
		pattern = DefaultNamePattern
	}
	re, err := coregex.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile fixture name pattern %q: %w", pattern, err)
	}
	return &NameMatcher{pattern: pattern, re: re}, nil
}

// Match reports whether a base name is a fixture name. Matching is
// case-insensitive.
func (m *NameMatcher) Match(name string) bool {
	return m.re.MatchString(name)
}

// String returns the source pattern.
func (m *NameMatcher) String() string {
	return m.pattern
}

// Discover walks root recursively and returns the absolute paths of every
// non-directory entry whose base name matches m, in lexical walk order.
//
// A missing or unreadable root, or any error while walking, is a DISCOVERY
// failure and fatal to the run. A nil matcher uses DefaultNamePattern.
func Discover(root string, m *NameMatcher) ([]string, error) {
	if m == nil {
		var err error
		if m, err = NewNameMatcher(""); err != nil {
			return nil, harnesserr.Wrap(harnesserr.InternalError, "", "default fixture pattern", err)
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, harnesserr.New(harnesserr.Discovery, root, "fixture directory does not exist")
		}
		return nil, harnesserr.Wrap(harnesserr.Discovery, root, "fixture directory is not accessible", err)
	}
	if !info.IsDir() {
		return nil, harnesserr.New(harnesserr.Discovery, root, "fixture root is not a directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.Discovery, root, "resolve fixture directory", err)
	}

	var paths []string
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if m.Match(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, harnesserr.Wrap(harnesserr.Discovery, root, "walk fixture directory", walkErr)
	}
	return paths, nil
}
