// Package config loads and validates plm-harness run configuration.
//
// Values are layered: Default, then an optional config document (JSON, or
// YAML by extension), then PLM_HARNESS_* environment variables (optionally
// sourced from a .env file), then command-line flags applied by the caller.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-substrate/fixture-harness/fixture"
	"github.com/lattice-substrate/fixture-harness/harnesserr"
	"github.com/lattice-substrate/fixture-harness/normalize"
	"github.com/lattice-substrate/fixture-harness/runtime/executil"
)

// Version is the only supported config document version.
const Version = "v1"

// Config is one harness run's settings.
type Config struct {
	Version        string             `yaml:"version" json:"version"`
	TestsDir       string             `yaml:"tests_dir" json:"tests_dir"`
	FixturePattern string             `yaml:"fixture_pattern" json:"fixture_pattern"`
	Program        []string           `yaml:"program" json:"program"`
	WorkDir        string             `yaml:"work_dir" json:"work_dir"`
	Env            map[string]string  `yaml:"env" json:"env"`
	Timeout        Duration           `yaml:"timeout" json:"timeout"`
	Build          [][]string         `yaml:"build" json:"build"`
	NoiseMarkers   []normalize.Marker `yaml:"noise_markers" json:"noise_markers"`
	ShowFailure    bool               `yaml:"show_failure" json:"show_failure"`
	WriteOutput    bool               `yaml:"write_output" json:"write_output"`
	ReportPath     string             `yaml:"report_path" json:"report_path"`
}

// Default returns the settings for a JavaCC-generated program named
// Assignment with fixtures under ./tests.
func Default() Config {
	return Config{
		Version:        Version,
		TestsDir:       "tests",
		FixturePattern: fixture.DefaultNamePattern,
		Program:        []string{"java", "Assignment"},
		Timeout:        Duration(executil.DefaultTimeout),
		Build: [][]string{
			{"javacc", "Assignment.jj"},
			{"javac", "*.java"},
		},
		NoiseMarkers: normalize.DefaultMarkers(),
		ShowFailure:  true,
	}
}

// Duration is a time.Duration that decodes from strings like "5s" or from
// a number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// Load reads path over Default and validates the result. Files ending in
// .yaml or .yml are decoded as YAML, everything else as JSON. Unknown fields
// are rejected.
//
//nolint:gosec // config path is explicit operator input.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, harnesserr.Wrap(harnesserr.Config, path, "read config", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	default:
		err = decodeJSON(data, &cfg)
	}
	if err != nil {
		return cfg, harnesserr.Wrap(harnesserr.Config, path, "decode config", err)
	}
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing json content")
		}
		return fmt.Errorf("decode trailing json token: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("unexpected trailing yaml document")
		}
		return fmt.Errorf("decode trailing yaml document: %w", err)
	}
	return nil
}

// Validate checks run settings. All failures are CONFIG class.
func Validate(cfg *Config) error {
	if cfg == nil {
		return harnesserr.New(harnesserr.Config, "", "config is nil")
	}
	if cfg.Version != Version {
		return harnesserr.New(harnesserr.Config, "", fmt.Sprintf("unsupported config version %q", cfg.Version))
	}
	if strings.TrimSpace(cfg.TestsDir) == "" {
		return harnesserr.New(harnesserr.Config, "", "tests_dir is required")
	}
	if len(cfg.Program) == 0 || strings.TrimSpace(cfg.Program[0]) == "" {
		return harnesserr.New(harnesserr.Config, "", "program command is required")
	}
	if cfg.Timeout <= 0 {
		return harnesserr.New(harnesserr.Config, "", fmt.Sprintf("timeout must be positive, got %s", cfg.Timeout))
	}
	for i, step := range cfg.Build {
		if len(step) == 0 || strings.TrimSpace(step[0]) == "" {
			return harnesserr.New(harnesserr.Config, "", fmt.Sprintf("build[%d] command is required", i))
		}
	}
	if _, err := fixture.NewNameMatcher(cfg.FixturePattern); err != nil {
		return harnesserr.Wrap(harnesserr.Config, "", "fixture_pattern", err)
	}
	if _, err := normalize.New(cfg.NoiseMarkers); err != nil {
		return harnesserr.Wrap(harnesserr.Config, "", "noise_markers", err)
	}
	return nil
}
