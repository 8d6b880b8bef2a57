// Package normalize strips runtime noise from the program's error stream
// before comparison.
//
// A runtime that dies on an uncaught fault usually prints a banner line
// (for example "Exception in thread "main" java.lang...") whose wording
// varies by installation. When any configured marker matches the error text,
// exactly the first line is removed. Nothing else is rewritten.
package normalize

import (
	"fmt"
	"strings"

	"github.com/coregx/coregex"
)

// Marker recognises one runtime banner. Contains is a literal matched
// case-insensitively; Pattern is a regular expression matched
// case-insensitively. A marker sets exactly one of the two.
type Marker struct {
	Name     string `yaml:"name" json:"name"`
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// DefaultMarkers returns the markers for a JVM-hosted program under test.
func DefaultMarkers() []Marker {
	return []Marker{{Name: "java", Contains: "JAVA"}}
}

type compiledMarker struct {
	name  string
	upper string
	re    *coregex.Regexp
}

// Normalizer applies the banner rule for a fixed marker set.
type Normalizer struct {
	markers []compiledMarker
}

// New validates and compiles markers.
func New(markers []Marker) (*Normalizer, error) {
	n := &Normalizer{markers: make([]compiledMarker, 0, len(markers))}
	for i, m := range markers {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("marker[%d]", i)
		}
		switch {
		case m.Contains != "" && m.Pattern != "":
			return nil, fmt.Errorf("%s: contains and pattern are mutually exclusive", name)
		case m.Contains != "":
			n.markers = append(n.markers, compiledMarker{name: name, upper: strings.ToUpper(m.Contains)})
		case m.Pattern != "":
			re, err := coregex.Compile("(?i)" + m.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: compile pattern: %w", name, err)
			}
			n.markers = append(n.markers, compiledMarker{name: name, re: re})
		default:
			return nil, fmt.Errorf("%s: contains or pattern is required", name)
		}
	}
	return n, nil
}

// Match returns the name of the first marker found in stderr.
func (n *Normalizer) Match(stderr string) (string, bool) {
	if n == nil || len(n.markers) == 0 {
		return "", false
	}
	var upper string
	for _, m := range n.markers {
		if m.re != nil {
			if m.re.MatchString(stderr) {
				return m.name, true
			}
			continue
		}
		if upper == "" {
			upper = strings.ToUpper(stderr)
		}
		if strings.Contains(upper, m.upper) {
			return m.name, true
		}
	}
	return "", false
}

// Normalize removes the first line of stderr when a marker matches and
// returns stderr unchanged otherwise. A single-line stderr normalizes to "".
func (n *Normalizer) Normalize(stderr string) string {
	if _, ok := n.Match(stderr); !ok {
		return stderr
	}
	return StripFirstLine(stderr)
}

// StripFirstLine drops everything up to and including the first newline.
func StripFirstLine(s string) string {
	_, rest, found := strings.Cut(s, "\n")
	if !found {
		return ""
	}
	return rest
}
