// Package executil runs external commands for the harness: build steps with
// combined output capture, and the program under test with bounded,
// stdin-fed, stream-separated execution.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("plm-harness.executil")

// CommandRunner abstracts command execution for build steps.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, dir string, env map[string]string) (string, error)
}

// OSRunner executes commands on the host.
type OSRunner struct{}

// Run executes argv in dir with merged environment variables and combined
// output capture.
func (OSRunner) Run(ctx context.Context, argv []string, dir string, env map[string]string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty argv")
	}
	// #nosec G204 -- argv comes from the operator's harness configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(cmd.Environ(), env)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	log.Debugf("run %q in %q", argv, dir)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return out.String(), fmt.Errorf("run %q failed: %w: %s", argv, err, msg)
		}
		return out.String(), fmt.Errorf("run %q failed: %w", argv, err)
	}
	return out.String(), nil
}

func mergeEnv(base []string, env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := append([]string(nil), base...)
	for _, k := range keys {
		merged = append(merged, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return merged
}
