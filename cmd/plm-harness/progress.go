package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/lattice-substrate/fixture-harness/fixture"
	"github.com/lattice-substrate/fixture-harness/harness"
)

const (
	ansiBlue   = "\033[94m"
	ansiGreen  = "\033[92m"
	ansiYellow = "\033[93m"
	ansiRed    = "\033[91m"
	ansiReset  = "\033[0m"
)

// useColor enables ANSI colour only for terminals, unless disabled by flag
// or by NO_COLOR.
func useColor(w io.Writer, disabled bool) bool {
	if disabled {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer renders run progress. It is a harness.Observer; the first write
// error is kept in err and later writes are skipped.
type printer struct {
	w           io.Writer
	color       bool
	showFailure bool
	quiet       bool
	err         error
}

func newPrinter(w io.Writer, color, showFailure, quiet bool) *printer {
	return &printer{w: w, color: color, showFailure: showFailure, quiet: quiet}
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	if _, err := fmt.Fprintf(p.w, format, args...); err != nil {
		p.err = fmt.Errorf("write stream: %w", err)
	}
}

func (p *printer) banner(line string) {
	if p.quiet {
		return
	}
	p.printf("%s\n", p.paint(ansiBlue, line))
}

// RunStarted implements harness.Observer.
func (p *printer) RunStarted(total int) {
	if total == 0 && !p.quiet {
		p.printf("No fixtures found\n")
	}
}

// FixtureFinished implements harness.Observer.
func (p *printer) FixtureFinished(index, total int, rec harness.Record) {
	if p.quiet {
		return
	}
	name := fixture.Fixture{Path: rec.Path}.Name()
	counter := p.paint(ansiBlue, fmt.Sprintf("%d/%d)", index, total))
	seconds := rec.Duration.Seconds()
	switch rec.Outcome {
	case harness.Passed:
		p.printf("%s\tTest %s is %s in %.3fs\n", counter, name, p.paint(ansiGreen, "correct"), seconds)
	case harness.TimedOut:
		p.printf("%s\tTest %s %s in %.3fs\n", counter, name, p.paint(ansiRed, "timed out"), seconds)
	default:
		p.printf("%s\tTest %s is %s in %.3fs\n", counter, name, p.paint(ansiRed, "wrong"), seconds)
		if rec.Err != nil {
			p.printf("\t%v\n", rec.Err)
		} else if p.showFailure {
			p.printf("\n%s\n%s\n%s\n%s", p.paint(ansiYellow, "Expected:"), rec.Expected, p.paint(ansiYellow, "Got:"), rec.Actual)
			if rec.Actual != "" && rec.Actual[len(rec.Actual)-1] != '\n' {
				p.printf("\n")
			}
		}
	}
	switch {
	case rec.WriteErr != nil:
		p.printf("\t%s %v\n", p.paint(ansiRed, "write-back failed:"), rec.WriteErr)
	case rec.WriteBack != nil:
		p.printf("\twrote output to %s\n", rec.WriteBack.Path)
	}
}

func (p *printer) interrupted() {
	p.printf("\n%s\n", p.paint(ansiYellow, "Keyboard interrupt, stopping"))
}

func (p *printer) summary(s harness.RunSummary) {
	code := ansiGreen
	if !s.AllPassed() || s.Interrupted {
		code = ansiRed
	}
	if s.TotalRun == 0 {
		code = ansiYellow
	}
	p.printf("%s\n", p.paint(code, s.String()))
}
