package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lattice-substrate/fixture-harness/harness"
	"github.com/lattice-substrate/fixture-harness/harnesserr"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

// echoProgram prefixes stdin with "OUT " on stdout. Input "hang\n" times out.
type echoProgram struct {
	calls int
}

func (p *echoProgram) Run(_ context.Context, inv executil.Invocation) (executil.Result, error) {
	p.calls++
	if inv.Stdin == "hang\n" {
		return executil.Result{Status: executil.StatusTimedOut, Duration: inv.Timeout}, nil
	}
	return executil.Result{
		Stdout:   "OUT " + inv.Stdin,
		Status:   executil.StatusCompleted,
		Duration: 10 * time.Millisecond,
	}, nil
}

type cancelOnFirst struct {
	cancel context.CancelFunc
}

func (p *cancelOnFirst) Run(ctx context.Context, _ executil.Invocation) (executil.Result, error) {
	p.cancel()
	<-ctx.Done()
	return executil.Result{}, fmt.Errorf("killed: %w", ctx.Err())
}

func testDeps(exec executil.ProcessRunner) deps {
	return deps{
		exec:    exec,
		resolve: func([]string, string) (string, error) { return "/bin/true", nil },
		lookup:  func(string) (string, bool) { return "", false },
		now:     func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runTest(t *testing.T, d deps, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runWith(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr, d)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    flags
		wantErr string
	}{
		{name: "defaults", args: nil, want: flags{envFile: ".env"}},
		{name: "separate value", args: []string{"--tests", "t", "--timeout", "2s"}, want: flags{envFile: ".env", testsDir: "t", timeout: "2s"}},
		{name: "inline value", args: []string{"--program=java Main", "--report=r.json"}, want: flags{envFile: ".env", program: "java Main", reportPath: "r.json"}},
		{name: "switches", args: []string{"--no-build", "--write", "-y", "--no-color", "-q"}, want: flags{envFile: ".env", noBuild: true, write: true, yes: true, noColor: true, quiet: true}},
		{name: "verbosity", args: []string{"-v", "-vv"}, want: flags{envFile: ".env", verbosity: 3}},
		{name: "missing value", args: []string{"--tests"}, wantErr: "requires a value"},
		{name: "unknown option", args: []string{"--bogus"}, wantErr: "unknown option"},
		{name: "positional", args: []string{"tests"}, wantErr: "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWriteClassifiedErrorWrapped(t *testing.T) {
	inner := harnesserr.New(harnesserr.Discovery, "tests", "not found")
	err := fmt.Errorf("outer: %w", inner)
	var stderr bytes.Buffer
	code := writeClassifiedError(&stderr, err)
	if code != harnesserr.ExitPrecondFail {
		t.Fatalf("expected exit %d, got %d", harnesserr.ExitPrecondFail, code)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestWriteClassifiedErrorFallback(t *testing.T) {
	var stderr bytes.Buffer
	code := writeClassifiedError(&stderr, errors.New("unclassified failure"))
	if code != harnesserr.ExitInternal {
		t.Fatalf("expected exit %d, got %d", harnesserr.ExitInternal, code)
	}
}

func TestRunAllPass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.txt"), "1+1\n=====\nOUT 1+1\n=====\n")
	writeFile(t, filepath.Join(dir, "nested", "b_test.txt"), "2\n=====\nOUT 2\n=====\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	prog := &echoProgram{}
	res := runTest(t, testDeps(prog), "", "--no-build", "--tests", dir)
	if res.code != harnesserr.ExitSuccess {
		t.Fatalf("exit %d stderr=%q stdout=%q", res.code, res.stderr, res.stdout)
	}
	if prog.calls != 2 {
		t.Fatalf("expected 2 program runs, got %d", prog.calls)
	}
	for _, want := range []string{"===== Starting tests =====", "1/2)", "2/2)", "is correct", "===== Finished tests =====", "2/2 tests passed in 0.020s"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, res.stdout)
		}
	}
	if strings.Contains(res.stdout, "\033[") {
		t.Fatalf("colour emitted to non-terminal:\n%q", res.stdout)
	}
}

func TestRunFailureShowsDiff(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "x_test.txt"), "2+2\n=====\nwrong\n=====\n")

	res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--tests", dir)
	if res.code != harnesserr.ExitFailures {
		t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
	}
	for _, want := range []string{"is wrong", "Expected:\nwrong\n=====\n", "Got:\nOUT 2+2\n=====\n", "0/1 tests passed"} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, res.stdout)
		}
	}

	res = runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--no-show-failure", "--tests", dir)
	if strings.Contains(res.stdout, "Expected:") {
		t.Fatalf("failure detail printed with --no-show-failure:\n%s", res.stdout)
	}
}

func TestRunTimeoutCountsAsFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "slow_test.txt"), "hang\n=====\nnever\n=====\n")

	res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--tests", dir, "--timeout", "1s")
	if res.code != harnesserr.ExitFailures {
		t.Fatalf("exit %d", res.code)
	}
	if !strings.Contains(res.stdout, "timed out in 1.000s") {
		t.Fatalf("stdout:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "0/1 tests passed in 0.000s") {
		t.Fatalf("timed-out duration should not count:\n%s", res.stdout)
	}
}

func TestRunNoFixtures(t *testing.T) {
	res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--tests", t.TempDir())
	if res.code != harnesserr.ExitSuccess {
		t.Fatalf("exit %d", res.code)
	}
	if !strings.Contains(res.stdout, "No tests run yet") {
		t.Fatalf("stdout:\n%s", res.stdout)
	}
}

func TestRunPreconditionFailures(t *testing.T) {
	t.Run("missing tests dir", func(t *testing.T) {
		res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--tests", filepath.Join(t.TempDir(), "absent"))
		if res.code != harnesserr.ExitPrecondFail {
			t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
		}
	})
	t.Run("missing program", func(t *testing.T) {
		d := testDeps(&echoProgram{})
		d.resolve = func(program []string, _ string) (string, error) {
			return "", harnesserr.New(harnesserr.ProgramMissing, program[0], "not found")
		}
		res := runTest(t, d, "", "--no-build", "--tests", t.TempDir())
		if res.code != harnesserr.ExitPrecondFail {
			t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
		}
	})
	t.Run("build failure", func(t *testing.T) {
		d := testDeps(&echoProgram{})
		d.builder = failingBuilder{}
		res := runTest(t, d, "", "--tests", t.TempDir())
		if res.code != harnesserr.ExitPrecondFail {
			t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
		}
		if !strings.Contains(res.stdout, "===== Compiling =====") {
			t.Fatalf("stdout:\n%s", res.stdout)
		}
	})
}

type failingBuilder struct{}

func (failingBuilder) Run(context.Context, []string, string, map[string]string) (string, error) {
	return "Assignment.jj:1: parse error\n", errors.New("exit status 1")
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"--bogus"}, {"--timeout", "soon"}, {"--timeout", "-1s"}} {
		res := runTest(t, testDeps(&echoProgram{}), "", append([]string{"--no-build"}, args...)...)
		if res.code != harnesserr.ExitUsage {
			t.Fatalf("%v: exit %d stderr=%q", args, res.code, res.stderr)
		}
	}
}

func TestRunHelp(t *testing.T) {
	res := runTest(t, testDeps(&echoProgram{}), "", "--help")
	if res.code != harnesserr.ExitSuccess || !strings.HasPrefix(res.stdout, "usage: plm-harness") {
		t.Fatalf("exit %d stdout=%q", res.code, res.stdout)
	}
}

func TestRunWriteBackConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		want    string
		runs    int
		wantOut string
	}{
		{name: "declined", stdin: "n\n", want: "3\n", runs: 0, wantOut: "Proceed [y/N]? "},
		{name: "empty answer declines", stdin: "", want: "3\n", runs: 0},
		{name: "accepted", stdin: "y\n", want: "3\n=====\nOUT 3\n=====\n", runs: 1, wantOut: "wrote output to"},
		{name: "yes flag", args: []string{"--yes"}, want: "3\n=====\nOUT 3\n=====\n", runs: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "new_test.txt")
			writeFile(t, path, "3\n")
			prog := &echoProgram{}
			args := append([]string{"--no-build", "--write", "--tests", dir}, tt.args...)
			res := runTest(t, testDeps(prog), tt.stdin, args...)
			if res.code != harnesserr.ExitSuccess {
				t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
			}
			if prog.calls != tt.runs {
				t.Fatalf("program ran %d times, want %d", prog.calls, tt.runs)
			}
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Fatalf("fixture = %q, want %q", got, tt.want)
			}
			if tt.wantOut != "" && !strings.Contains(res.stdout, tt.wantOut) {
				t.Fatalf("stdout missing %q:\n%s", tt.wantOut, res.stdout)
			}
		})
	}
}

func TestRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.txt"), "1\n=====\nOUT 1\n=====\n")
	writeFile(t, filepath.Join(dir, "b_test.txt"), "2\n=====\nnope\n=====\n")
	reportPath := filepath.Join(t.TempDir(), "report.json")

	res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "--tests", dir, "--report", reportPath)
	if res.code != harnesserr.ExitFailures {
		t.Fatalf("exit %d stderr=%q", res.code, res.stderr)
	}
	report, err := harness.LoadReport(reportPath)
	if err != nil {
		t.Fatalf("load report: %v", err)
	}
	if report.Passed != 1 || report.Failed != 1 || len(report.Fixtures) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.GeneratedAtUTC != "2026-01-02T03:04:05Z" {
		t.Fatalf("generated_at_utc = %q", report.GeneratedAtUTC)
	}
}

func TestRunInterrupted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.txt"), "1\n=====\nOUT 1\n=====\n")
	writeFile(t, filepath.Join(dir, "b_test.txt"), "2\n=====\nOUT 2\n=====\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr bytes.Buffer
	code := runWith(ctx, []string{"--no-build", "--tests", dir}, strings.NewReader(""), &stdout, &stderr, testDeps(&cancelOnFirst{cancel: cancel}))
	if code != harnesserr.ExitInterrupted {
		t.Fatalf("exit %d stderr=%q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Keyboard interrupt") || !strings.Contains(out, "No tests run yet") {
		t.Fatalf("stdout:\n%s", out)
	}
	if strings.Contains(out, "Finished tests") {
		t.Fatalf("finished banner printed after interrupt:\n%s", out)
	}
}

func TestRunConfigAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "env", "a_test.txt"), "1\n=====\nOUT 1\n=====\n")
	writeFile(t, filepath.Join(dir, "flag", "a_test.txt"), "1\n=====\nOUT 1\n=====\n")
	writeFile(t, filepath.Join(dir, "flag", "b_test.txt"), "2\n=====\nOUT 2\n=====\n")
	cfgPath := filepath.Join(dir, "harness.yaml")
	writeFile(t, cfgPath, "version: v1\ntests_dir: "+filepath.Join(dir, "missing")+"\nprogram: [java, Assignment]\ntimeout: 2s\n")

	d := testDeps(&echoProgram{})
	d.lookup = func(key string) (string, bool) {
		if key == "PLM_HARNESS_TESTS_DIR" {
			return filepath.Join(dir, "env"), true
		}
		return "", false
	}

	res := runTest(t, d, "", "--no-build", "--config", cfgPath)
	if res.code != harnesserr.ExitSuccess || !strings.Contains(res.stdout, "1/1 tests passed") {
		t.Fatalf("env should override config: exit %d stdout=%s stderr=%s", res.code, res.stdout, res.stderr)
	}
	res = runTest(t, d, "", "--no-build", "--config", cfgPath, "--tests", filepath.Join(dir, "flag"))
	if res.code != harnesserr.ExitSuccess || !strings.Contains(res.stdout, "2/2 tests passed") {
		t.Fatalf("flag should override env: exit %d stdout=%s stderr=%s", res.code, res.stdout, res.stderr)
	}
}

func TestRunQuietPrintsOnlySummary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_test.txt"), "1\n=====\nOUT 1\n=====\n")
	res := runTest(t, testDeps(&echoProgram{}), "", "--no-build", "-q", "--tests", dir)
	if res.code != harnesserr.ExitSuccess {
		t.Fatalf("exit %d", res.code)
	}
	if strings.TrimSpace(res.stdout) != "1/1 tests passed in 0.010s" {
		t.Fatalf("stdout = %q", res.stdout)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		want      int
	}{
		{verbosity: 0, want: 0},
		{verbosity: 1, want: 1},
		{verbosity: 2, want: 2},
		{verbosity: 2, quiet: true, want: -2},
	}
	for _, tt := range tests {
		if got := logLevel(tt.verbosity, tt.quiet); got != tt.want {
			t.Errorf("logLevel(%d, %v) = %d, want %d", tt.verbosity, tt.quiet, got, tt.want)
		}
	}
}

func TestRunInterruptedAtConfirmation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new_test.txt")
	writeFile(t, path, "3\n")

	// The answer never arrives; only the interrupt can end the prompt.
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	prog := &echoProgram{}
	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- runWith(ctx, []string{"--no-build", "--write", "--tests", dir}, stdin, &stdout, &stderr, testDeps(prog))
	}()

	select {
	case code := <-done:
		if code != harnesserr.ExitInterrupted {
			t.Fatalf("exit %d stderr=%q", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prompt ignored the interrupt")
	}
	if prog.calls != 0 {
		t.Fatalf("program ran %d times after an interrupted prompt", prog.calls)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "3\n" {
		t.Fatalf("fixture modified: %q", got)
	}
}

// cancellingBuilder simulates Ctrl-C arriving while a build step runs.
type cancellingBuilder struct {
	cancel context.CancelFunc
}

func (b cancellingBuilder) Run(ctx context.Context, _ []string, _ string, _ map[string]string) (string, error) {
	b.cancel()
	<-ctx.Done()
	return "", fmt.Errorf("javacc killed: %w", ctx.Err())
}

func TestRunInterruptedDuringBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := testDeps(&echoProgram{})
	d.builder = cancellingBuilder{cancel: cancel}

	var stdout, stderr bytes.Buffer
	code := runWith(ctx, []string{"--tests", t.TempDir()}, strings.NewReader(""), &stdout, &stderr, d)
	if code != harnesserr.ExitInterrupted {
		t.Fatalf("exit %d stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "INTERRUPTED") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
