package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lattice-substrate/fixture-harness/harnesserr"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvTestsDir = "PLM_HARNESS_TESTS_DIR"
	EnvProgram  = "PLM_HARNESS_PROGRAM"
	EnvTimeout  = "PLM_HARNESS_TIMEOUT"
	EnvReport   = "PLM_HARNESS_REPORT"
)

// LookupFunc resolves one environment variable.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a LookupFunc over the process environment, falling back
// to the variables in dotenvPath when that file exists. Process variables
// win over the file.
func EnvLookup(dotenvPath string) (LookupFunc, error) {
	fileVars := map[string]string{}
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			vars, err := godotenv.Read(dotenvPath)
			if err != nil {
				return nil, harnesserr.Wrap(harnesserr.Config, dotenvPath, "read env file", err)
			}
			fileVars = vars
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

// ApplyEnv overlays PLM_HARNESS_* values onto cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvTestsDir); ok && v != "" {
		cfg.TestsDir = v
	}
	if v, ok := lookup(EnvProgram); ok && strings.TrimSpace(v) != "" {
		cfg.Program = strings.Fields(v)
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return harnesserr.Wrap(harnesserr.Config, "", EnvTimeout, err)
		}
		cfg.Timeout = Duration(d)
	}
	if v, ok := lookup(EnvReport); ok && v != "" {
		cfg.ReportPath = v
	}
	return nil
}
