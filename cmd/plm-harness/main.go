// Command plm-harness runs conformance fixtures against a compiled language
// implementation.
//
// Usage:
//
//	plm-harness [options]
//
// The harness optionally builds the program under test (javacc, then javac
// by default), discovers *test*.txt fixtures under the tests directory, feeds
// each fixture's input section to the program on stdin, and compares
// stdout + "=====\n" + stderr with the fixture's expected section.
//
// Exit codes:
//
//	0   every fixture passed (or none were found)
//	1   at least one fixture failed or timed out
//	2   invalid usage or configuration
//	3   precondition failure: missing tests directory, failed build, missing program
//	10  internal I/O error
//	130 interrupted; the partial summary is still printed
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/tliron/kutil/util"

	"github.com/lattice-substrate/fixture-harness/build"
	"github.com/lattice-substrate/fixture-harness/config"
	"github.com/lattice-substrate/fixture-harness/fixture"
	"github.com/lattice-substrate/fixture-harness/harness"
	"github.com/lattice-substrate/fixture-harness/harnesserr"
	"github.com/lattice-substrate/fixture-harness/normalize"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

const usageLine = "usage: plm-harness [--config file] [--tests dir] [--program cmd] [--timeout dur] [--no-build] [--write [--yes]] [--report file] [-q] [-v]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	// util.Exit flushes the buffered log backend before exiting.
	util.Exit(code)
}

// deps holds the collaborators that tests replace.
type deps struct {
	exec    executil.ProcessRunner
	builder executil.CommandRunner
	resolve func(program []string, dir string) (string, error)
	lookup  config.LookupFunc
	now     func() time.Time
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	return runWith(ctx, args, stdin, stdout, stderr, deps{})
}

//nolint:gocyclo,cyclop,funlen // the run sequence is linear and kept in one place for readability.
func runWith(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer, d deps) int {
	fl, err := parseFlags(args)
	if err != nil {
		if werr := writef(stderr, "error: %v\n%s\n", err, usageLine); werr != nil {
			return harnesserr.ExitInternal
		}
		return harnesserr.ExitUsage
	}
	if fl.help {
		if err := writeUsage(stdout); err != nil {
			return harnesserr.ExitInternal
		}
		return harnesserr.ExitSuccess
	}
	configureLogging(fl.verbosity, fl.quiet)

	if d.lookup == nil {
		if d.lookup, err = config.EnvLookup(fl.envFile); err != nil {
			return writeClassifiedError(stderr, err)
		}
	}
	cfg, err := loadConfig(fl, d.lookup)
	if err != nil {
		return writeClassifiedError(stderr, err)
	}
	if d.resolve == nil {
		d.resolve = build.ResolveProgram
	}
	if d.now == nil {
		d.now = time.Now
	}

	out := newPrinter(stdout, useColor(stdout, fl.noColor), cfg.ShowFailure, fl.quiet)

	if !fl.noBuild && len(cfg.Build) > 0 {
		out.banner("===== Compiling =====")
		if err := build.Run(ctx, d.builder, cfg.Build, cfg.WorkDir, stdout); err != nil {
			if ctx.Err() != nil {
				out.interrupted()
				return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.Interrupted, "", "build interrupted", err))
			}
			return writeClassifiedError(stderr, err)
		}
		out.banner("===== Compiled =====\n")
	}
	if _, err := d.resolve(cfg.Program, cfg.WorkDir); err != nil {
		return writeClassifiedError(stderr, err)
	}

	matcher, err := fixture.NewNameMatcher(cfg.FixturePattern)
	if err != nil {
		return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.Config, "", "fixture_pattern", err))
	}
	paths, err := fixture.Discover(cfg.TestsDir, matcher)
	if err != nil {
		return writeClassifiedError(stderr, err)
	}
	normalizer, err := normalize.New(cfg.NoiseMarkers)
	if err != nil {
		return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.Config, "", "noise_markers", err))
	}

	out.banner("===== Starting tests =====")

	var writer fixture.Writer
	if cfg.WriteOutput {
		if !fl.yes {
			ok, err := confirm(ctx, stdin, stdout, "Writing output to test files. Proceed [y/N]? ")
			if err != nil {
				if harnesserr.ClassOf(err) == harnesserr.Interrupted {
					out.interrupted()
					return harnesserr.ExitInterrupted
				}
				return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.InternalIO, "", "read confirmation", err))
			}
			if !ok {
				return harnesserr.ExitSuccess
			}
		}
		writer = fixture.FileWriter{}
	}

	collector := &harness.Collector{}
	runner, err := harness.NewRunner(harness.Options{
		Program:    cfg.Program,
		Dir:        cfg.WorkDir,
		Env:        cfg.Env,
		Timeout:    cfg.Timeout.Std(),
		Normalizer: normalizer,
		Exec:       d.exec,
		Writer:     writer,
		Observer:   harness.MultiObserver{out, collector},
	})
	if err != nil {
		return writeClassifiedError(stderr, err)
	}

	summary, runErr := runner.Run(ctx, paths)
	class := harnesserr.ClassOf(runErr)
	switch {
	case runErr == nil:
		out.banner("===== Finished tests =====")
	case class == harnesserr.Interrupted:
		out.interrupted()
	}
	out.summary(summary)

	if cfg.ReportPath != "" {
		report := harness.NewReport(summary, collector.Entries, harness.ReportOptions{
			TestsDir: cfg.TestsDir,
			Program:  cfg.Program,
			Timeout:  cfg.Timeout.Std(),
			Now:      d.now,
		})
		if err := harness.WriteReport(cfg.ReportPath, report); err != nil {
			return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.InternalIO, cfg.ReportPath, "write report", err))
		}
	}

	if out.err != nil {
		return writeClassifiedError(stderr, harnesserr.Wrap(harnesserr.InternalIO, "", "write progress", out.err))
	}
	if runErr != nil {
		if class == harnesserr.Interrupted {
			return class.ExitCode()
		}
		return writeClassifiedError(stderr, runErr)
	}
	if !summary.AllPassed() {
		return harnesserr.ExitFailures
	}
	return harnesserr.ExitSuccess
}

func loadConfig(fl flags, lookup config.LookupFunc) (config.Config, error) {
	cfg := config.Default()
	if fl.configPath != "" {
		loaded, err := config.Load(fl.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if fl.testsDir != "" {
		cfg.TestsDir = fl.testsDir
	}
	if fl.program != "" {
		cfg.Program = strings.Fields(fl.program)
	}
	if fl.timeout != "" {
		timeout, err := time.ParseDuration(fl.timeout)
		if err != nil {
			return cfg, harnesserr.Wrap(harnesserr.CLIUsage, "", "--timeout", err)
		}
		cfg.Timeout = config.Duration(timeout)
	}
	if fl.reportPath != "" {
		cfg.ReportPath = fl.reportPath
	}
	if fl.write {
		cfg.WriteOutput = true
	}
	if fl.noShowFailure {
		cfg.ShowFailure = false
	}
	if err := config.Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type flags struct {
	configPath    string
	testsDir      string
	program       string
	timeout       string
	reportPath    string
	envFile       string
	noBuild       bool
	write         bool
	yes           bool
	noShowFailure bool
	noColor       bool
	quiet         bool
	help          bool
	verbosity     int
}

var valueFlags = map[string]func(*flags, string){
	"--config":  func(f *flags, v string) { f.configPath = v },
	"--tests":   func(f *flags, v string) { f.testsDir = v },
	"--program": func(f *flags, v string) { f.program = v },
	"--timeout": func(f *flags, v string) { f.timeout = v },
	"--report":  func(f *flags, v string) { f.reportPath = v },
	"--env":     func(f *flags, v string) { f.envFile = v },
}

//nolint:gocyclo,cyclop // flag dispatch is a flat switch.
func parseFlags(args []string) (flags, error) {
	f := flags{envFile: ".env"}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		if set, ok := valueFlags[name]; ok {
			if !hasValue {
				if i+1 >= len(args) {
					return flags{}, fmt.Errorf("option %s requires a value", name)
				}
				i++
				value = args[i]
			}
			set(&f, value)
			continue
		}
		switch arg {
		case "--no-build":
			f.noBuild = true
		case "--write":
			f.write = true
		case "--yes", "-y":
			f.yes = true
		case "--no-show-failure":
			f.noShowFailure = true
		case "--no-color":
			f.noColor = true
		case "--quiet", "-q":
			f.quiet = true
		case "--help", "-h":
			f.help = true
		case "-v", "-vv", "-vvv":
			f.verbosity += len(arg) - 1
		default:
			if strings.HasPrefix(arg, "-") {
				return flags{}, fmt.Errorf("unknown option: %s", arg)
			}
			return flags{}, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return f, nil
}

func configureLogging(verbosity int, quiet bool) {
	commonlog.Configure(logLevel(verbosity, quiet), nil)
}

// logLevel maps -v flags to commonlog verbosity: notice by default, info
// with -v, debug with -vv. Quiet keeps errors only.
func logLevel(verbosity int, quiet bool) int {
	if quiet {
		return -2
	}
	return verbosity
}

// confirm asks prompt on stdout and reads one answer line. Cancelling ctx
// abandons the read and returns an INTERRUPTED error.
func confirm(ctx context.Context, stdin io.Reader, stdout io.Writer, prompt string) (bool, error) {
	if err := writef(stdout, "%s", prompt); err != nil {
		return false, err
	}
	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		answers <- answer{line: line, err: err}
	}()
	var a answer
	select {
	case <-ctx.Done():
		return false, harnesserr.Wrap(harnesserr.Interrupted, "", "confirmation interrupted", ctx.Err())
	case a = <-answers:
	}
	if a.err != nil && !errors.Is(a.err, io.EOF) {
		return false, a.err
	}
	switch strings.ToLower(strings.TrimSpace(a.line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func writeClassifiedError(stderr io.Writer, err error) int {
	class := harnesserr.ClassOf(err)
	if werr := writef(stderr, "error: %v\n", err); werr != nil {
		return harnesserr.ExitInternal
	}
	return class.ExitCode()
}

func writeUsage(w io.Writer) error {
	lines := []string{
		usageLine,
		"  --config FILE        JSON or YAML harness config (default: built-in JavaCC settings)",
		"  --tests DIR          fixture root, searched recursively for *test*.txt (default tests)",
		"  --program CMD        program under test, split on whitespace (default \"java Assignment\")",
		"  --timeout DUR        per-fixture timeout (default " + executil.DefaultTimeout.String() + ")",
		"  --no-build           skip the build steps",
		"  --write              record output into fixtures with no expected section",
		"  --yes, -y            do not ask before writing fixtures",
		"  --report FILE        write a canonical JSON run report",
		"  --env FILE           dotenv file with PLM_HARNESS_* overrides (default .env)",
		"  --no-show-failure    do not print expected/actual output of failing fixtures",
		"  --no-color           disable colour even on a terminal",
		"  --quiet, -q          print only the summary",
		"  -v, -vv              more diagnostic logging on stderr",
		"exit codes: 0 all passed, 1 failures or timeouts, 2 usage, 3 precondition, 10 internal, " + strconv.Itoa(harnesserr.ExitInterrupted) + " interrupted",
	}
	for _, l := range lines {
		if err := writeLine(w, l); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
