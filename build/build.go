// Package build produces the program under test before a run by executing
// the configured toolchain steps (for example javacc, then javac) in order.
//
// Any failing step aborts the run with a BUILD error; the harness never
// tests a stale or half-built program.
package build

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/lattice-substrate/fixture-harness/harnesserr"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

var log = commonlog.GetLogger("plm-harness.build")

// Run executes steps in dir through runner, streaming progress and tool
// output to out.
func Run(ctx context.Context, runner executil.CommandRunner, steps [][]string, dir string, out io.Writer) error {
	if runner == nil {
		runner = executil.OSRunner{}
	}
	for i, step := range steps {
		argv, err := ExpandArgs(dir, step)
		if err != nil {
			return harnesserr.Wrap(harnesserr.Build, strings.Join(step, " "), "expand build step", err)
		}
		label := strings.Join(argv, " ")
		if err := writef(out, "[%d/%d] %s\n", i+1, len(steps), label); err != nil {
			return harnesserr.Wrap(harnesserr.InternalIO, "", "write build progress", err)
		}
		log.Infof("build step %d: %s", i+1, label)
		output, err := runner.Run(ctx, argv, dir, nil)
		if output != "" {
			if werr := writef(out, "%s", output); werr != nil {
				return harnesserr.Wrap(harnesserr.InternalIO, "", "write build output", werr)
			}
		}
		if err != nil {
			return harnesserr.Wrap(harnesserr.Build, label, "build step failed", err)
		}
	}
	return nil
}

// ExpandArgs expands glob patterns in argv[1:] relative to dir, the way a
// shell would for "javac *.java". Matches are returned relative to dir and
// sorted. A pattern that matches nothing is an error.
func ExpandArgs(dir string, argv []string) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty build step")
	}
	expanded := []string{argv[0]}
	for _, arg := range argv[1:] {
		if !strings.ContainsAny(arg, "*?[") {
			expanded = append(expanded, arg)
			continue
		}
		pattern := arg
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, arg)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", arg)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !filepath.IsAbs(arg) {
				if rel, err := filepath.Rel(absOrDot(dir), m); err == nil {
					m = rel
				}
			}
			expanded = append(expanded, m)
		}
	}
	return expanded, nil
}

func absOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// ResolveProgram checks that the program under test can be found: a bare
// name on PATH, a path relative to dir otherwise.
func ResolveProgram(program []string, dir string) (string, error) {
	if len(program) == 0 || program[0] == "" {
		return "", harnesserr.New(harnesserr.Config, "", "program command is required")
	}
	name := program[0]
	if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) && dir != "" {
		name = filepath.Join(dir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", harnesserr.Wrap(harnesserr.ProgramMissing, program[0], "program under test not found", err)
	}
	return path, nil
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
