// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit assembles the full test-quality audit pipeline: structural
// mapping, test discovery, quality assessment, the iterative improvement
// loop, optional mutation testing, and report production.
package audit

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/generate"
	"github.com/AleutianAI/TestForge/services/audit/mutation"
)

const (
	// envPrefix namespaces environment overrides (TESTFORGE_LOOP_MAX_ITERATIONS,
	// TESTFORGE_ORACLE_PROVIDER, ...).
	envPrefix = "TESTFORGE"

	// configBaseName is the config file searched in the working directory
	// when no explicit path is given (testforge.yaml).
	configBaseName = "testforge"

	reportsDirName = "reports"
)

// ErrInvalidConfig wraps validation failures from LoadConfig / Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// validate is the shared validator instance for config structs.
var validate = validator.New()

// Config is the full configuration surface of an audit run.
type Config struct {
	// ProjectPath is the root of the repository under audit.
	ProjectPath string `mapstructure:"project_path" yaml:"project_path" validate:"required"`

	// TestPath is where test discovery walks. Empty defaults to
	// ProjectPath (Go keeps tests beside sources).
	TestPath string `mapstructure:"test_path" yaml:"test_path"`

	// OutputDir is the parent for reports/ and generated/. Empty defaults
	// to ProjectPath.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// ProjectName overrides the name read from go.mod.
	ProjectName string `mapstructure:"project_name" yaml:"project_name"`

	// DataDir is the BadgerDB directory holding run history and the
	// oracle response cache. Empty disables persistence entirely.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// Include restricts the audit to paths matching at least one pattern
	// when non-empty. Exclude removes matching paths afterwards. Patterns
	// match the slash-relative file path by glob, base name, or substring.
	Include []string `mapstructure:"include" yaml:"include"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`

	// SkipGenerate turns the audit into a measure-only run: the
	// improvement loop is skipped and after metrics mirror before.
	SkipGenerate bool `mapstructure:"skip_generate" yaml:"skip_generate"`

	Oracle   OracleConfig   `mapstructure:"oracle" yaml:"oracle"`
	Loop     LoopConfig     `mapstructure:"loop" yaml:"loop"`
	Mutation MutationConfig `mapstructure:"mutation" yaml:"mutation"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// OracleConfig selects and tunes the text-generation backend.
type OracleConfig struct {
	// Provider is one of auto, azure, openai, anthropic, google, cohere,
	// ollama. "auto" picks from ambient credentials.
	Provider string `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=auto azure openai anthropic google cohere ollama"`

	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`

	// Temperature is passed through to the provider.
	Temperature float32 `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`

	// Cache enables badger-backed response reuse (requires DataDir).
	Cache bool `mapstructure:"cache" yaml:"cache"`
}

// LoopConfig tunes the improvement loop and clarity sampling.
type LoopConfig struct {
	MaxIterations       int     `mapstructure:"max_iterations" yaml:"max_iterations" validate:"gte=1,lte=50"`
	AcceptanceThreshold float64 `mapstructure:"acceptance_threshold" yaml:"acceptance_threshold" validate:"gte=0,lte=10"`
	TargetsPerIteration int     `mapstructure:"targets_per_iteration" yaml:"targets_per_iteration" validate:"gte=1,lte=100"`

	// ClaritySample caps how many test bodies the assessor sends to the
	// oracle for clarity scoring.
	ClaritySample int `mapstructure:"clarity_sample" yaml:"clarity_sample" validate:"gte=0,lte=1000"`
}

// MutationConfig controls the external mutation-testing tool.
type MutationConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Command string        `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	TraceExporter  string `mapstructure:"trace_exporter" yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `mapstructure:"metric_exporter" yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Quiet bool   `mapstructure:"quiet" yaml:"quiet"`
}

// Defaults returns the stock configuration. ProjectPath stays empty and
// must be supplied by flag, argument, or file.
func Defaults() Config {
	return Config{
		DataDir: ".testforge",
		Oracle: OracleConfig{
			Provider:    "auto",
			Temperature: 0.1,
		},
		Loop: LoopConfig{
			MaxIterations:       3,
			AcceptanceThreshold: 7.0,
			TargetsPerIteration: 5,
			ClaritySample:       10,
		},
		Mutation: MutationConfig{
			Enabled: true,
			Command: mutation.DefaultCommand,
			Timeout: mutation.DefaultTimeout,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration from an optional YAML file plus
// TESTFORGE_* environment overrides.
//
// # Description
//
// With a path, that file must exist and parse. Without one, testforge.yaml
// in the working directory is used when present and silently skipped when
// not. Defaults fill everything the file and environment leave unset, and
// the result is validated before return.
//
// # Inputs
//
//   - path: Explicit config file, or "" for the discovery behavior.
//
// # Outputs
//
//   - Config: Ready configuration with fallbacks applied.
//   - error: Read, parse, or ErrInvalidConfig-wrapped validation failure.
func LoadConfig(path string) (Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyFallbacks()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadBaseConfig reads the configuration like LoadConfig but tolerates a
// missing project path and leaves path fallbacks unresolved. Callers that
// receive the project path separately (the CLI positional argument, an API
// request) merge it in, call ApplyFallbacks, and run Validate themselves.
func LoadBaseConfig(path string) (Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := validate.StructExcept(cfg, "ProjectPath"); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// readConfig merges defaults, the optional YAML file, and TESTFORGE_*
// environment overrides without validating the result.
func readConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configBaseName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("project_path", d.ProjectPath)
	v.SetDefault("test_path", d.TestPath)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("project_name", d.ProjectName)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("include", d.Include)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("skip_generate", d.SkipGenerate)

	v.SetDefault("oracle.provider", d.Oracle.Provider)
	v.SetDefault("oracle.endpoint", d.Oracle.Endpoint)
	v.SetDefault("oracle.model", d.Oracle.Model)
	v.SetDefault("oracle.temperature", d.Oracle.Temperature)
	v.SetDefault("oracle.cache", d.Oracle.Cache)

	v.SetDefault("loop.max_iterations", d.Loop.MaxIterations)
	v.SetDefault("loop.acceptance_threshold", d.Loop.AcceptanceThreshold)
	v.SetDefault("loop.targets_per_iteration", d.Loop.TargetsPerIteration)
	v.SetDefault("loop.clarity_sample", d.Loop.ClaritySample)

	v.SetDefault("mutation.enabled", d.Mutation.Enabled)
	v.SetDefault("mutation.command", d.Mutation.Command)
	v.SetDefault("mutation.timeout", d.Mutation.Timeout)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.trace_exporter", d.Server.TraceExporter)
	v.SetDefault("server.metric_exporter", d.Server.MetricExporter)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("logging.quiet", d.Logging.Quiet)
}

// ApplyFallbacks resolves the fields that default to other fields.
func (c *Config) ApplyFallbacks() {
	if c.TestPath == "" {
		c.TestPath = c.ProjectPath
	}
	if c.OutputDir == "" {
		c.OutputDir = c.ProjectPath
	}
}

// Validate checks the struct tags and returns ErrInvalidConfig-wrapped
// details on failure.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ReportsDir is where markdown and JSON reports are written.
func (c Config) ReportsDir() string {
	return filepath.Join(c.OutputDir, reportsDirName)
}

// GeneratedDir is where accepted generated tests are persisted.
func (c Config) GeneratedDir() string {
	return filepath.Join(c.OutputDir, generate.DefaultTestDir)
}

// selectPath reports whether a slash-relative file path passes the
// include/exclude patterns.
func (c Config) selectPath(rel string) bool {
	if len(c.Include) > 0 {
		found := false
		for _, p := range c.Include {
			if matchesPattern(rel, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range c.Exclude {
		if matchesPattern(rel, p) {
			return false
		}
	}
	return true
}

// filterUnits drops units whose file path is deselected.
func (c Config) filterUnits(units []catalog.CodeUnit) []catalog.CodeUnit {
	if len(c.Include) == 0 && len(c.Exclude) == 0 {
		return units
	}
	kept := make([]catalog.CodeUnit, 0, len(units))
	for _, u := range units {
		if c.selectPath(u.FilePath) {
			kept = append(kept, u)
		}
	}
	return kept
}

// filterTests drops tests whose file path is deselected.
func (c Config) filterTests(tests []catalog.TestCase) []catalog.TestCase {
	if len(c.Include) == 0 && len(c.Exclude) == 0 {
		return tests
	}
	kept := make([]catalog.TestCase, 0, len(tests))
	for _, t := range tests {
		if c.selectPath(t.FilePath) {
			kept = append(kept, t)
		}
	}
	return kept
}

// matchesPattern tries the pattern as a glob against the whole relative
// path, then against the base name, then as a plain substring.
func matchesPattern(rel, pattern string) bool {
	if ok, err := path.Match(pattern, rel); err == nil && ok {
		return true
	}
	if ok, err := path.Match(pattern, path.Base(rel)); err == nil && ok {
		return true
	}
	return strings.Contains(rel, pattern)
}
