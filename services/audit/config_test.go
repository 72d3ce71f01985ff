// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	d := Defaults()
	if d.ProjectPath != "" {
		t.Errorf("ProjectPath = %q, want empty", d.ProjectPath)
	}
	if d.DataDir != ".testforge" {
		t.Errorf("DataDir = %q, want .testforge", d.DataDir)
	}
	if d.Oracle.Provider != "auto" {
		t.Errorf("Oracle.Provider = %q, want auto", d.Oracle.Provider)
	}
	if d.Oracle.Temperature != 0.1 {
		t.Errorf("Oracle.Temperature = %v, want 0.1", d.Oracle.Temperature)
	}
	if d.Loop.MaxIterations != 3 {
		t.Errorf("Loop.MaxIterations = %d, want 3", d.Loop.MaxIterations)
	}
	if d.Loop.AcceptanceThreshold != 7.0 {
		t.Errorf("Loop.AcceptanceThreshold = %v, want 7.0", d.Loop.AcceptanceThreshold)
	}
	if d.Loop.TargetsPerIteration != 5 {
		t.Errorf("Loop.TargetsPerIteration = %d, want 5", d.Loop.TargetsPerIteration)
	}
	if d.Loop.ClaritySample != 10 {
		t.Errorf("Loop.ClaritySample = %d, want 10", d.Loop.ClaritySample)
	}
	if !d.Mutation.Enabled {
		t.Error("Mutation.Enabled = false, want true")
	}
	if d.Mutation.Timeout != 10*time.Minute {
		t.Errorf("Mutation.Timeout = %v, want 10m", d.Mutation.Timeout)
	}
	if d.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", d.Server.Addr)
	}
	if d.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", d.Logging.Level)
	}
}

func TestLoadConfig_FileWithFallbacks(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
project_path: /work/proj
oracle:
  provider: ollama
  model: llama3
loop:
  max_iterations: 5
mutation:
  enabled: false
  timeout: 30s
exclude:
  - vendor
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ProjectPath != "/work/proj" {
		t.Errorf("ProjectPath = %q", cfg.ProjectPath)
	}
	if cfg.TestPath != "/work/proj" {
		t.Errorf("TestPath = %q, want the project path fallback", cfg.TestPath)
	}
	if cfg.OutputDir != "/work/proj" {
		t.Errorf("OutputDir = %q, want the project path fallback", cfg.OutputDir)
	}
	if cfg.Oracle.Provider != "ollama" || cfg.Oracle.Model != "llama3" {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.Temperature != 0.1 {
		t.Errorf("Oracle.Temperature = %v, want the default 0.1", cfg.Oracle.Temperature)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("Loop.MaxIterations = %d, want 5", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.AcceptanceThreshold != 7.0 {
		t.Errorf("Loop.AcceptanceThreshold = %v, want the default 7.0", cfg.Loop.AcceptanceThreshold)
	}
	if cfg.Mutation.Enabled {
		t.Error("Mutation.Enabled = true, want false")
	}
	if cfg.Mutation.Timeout != 30*time.Second {
		t.Errorf("Mutation.Timeout = %v, want 30s", cfg.Mutation.Timeout)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0] != "vendor" {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want the default", cfg.Server.Addr)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
project_path: /work/proj
loop:
  max_iterations: 5
`)
	t.Setenv("TESTFORGE_LOOP_MAX_ITERATIONS", "9")
	t.Setenv("TESTFORGE_ORACLE_MODEL", "mistral")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Loop.MaxIterations != 9 {
		t.Errorf("Loop.MaxIterations = %d, want the env override 9", cfg.Loop.MaxIterations)
	}
	if cfg.Oracle.Model != "mistral" {
		t.Errorf("Oracle.Model = %q, want the env override", cfg.Oracle.Model)
	}
}

func TestLoadBaseConfig_ToleratesMissingProjectPath(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
loop:
  max_iterations: 5
`)

	cfg, err := LoadBaseConfig(path)
	if err != nil {
		t.Fatalf("LoadBaseConfig: %v", err)
	}
	if cfg.ProjectPath != "" {
		t.Errorf("ProjectPath = %q, want empty", cfg.ProjectPath)
	}
	if cfg.TestPath != "" || cfg.OutputDir != "" {
		t.Errorf("fallbacks resolved early: TestPath=%q OutputDir=%q", cfg.TestPath, cfg.OutputDir)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("Loop.MaxIterations = %d, want 5", cfg.Loop.MaxIterations)
	}

	// The merged result still passes full validation.
	cfg.ProjectPath = "/work/proj"
	cfg.ApplyFallbacks()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after merge: %v", err)
	}
	if cfg.TestPath != "/work/proj" {
		t.Errorf("TestPath = %q, want the project path fallback", cfg.TestPath)
	}
}

func TestLoadBaseConfig_StillValidatesOtherFields(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
oracle:
  provider: carrier_pigeon
`)
	_, err := LoadBaseConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadConfig succeeded for a missing explicit file")
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "project_path: [unclosed\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig succeeded for malformed YAML")
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
project_path: /work/proj
oracle:
  provider: carrier_pigeon
`)
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults with project path", func(c *Config) {}, false},
		{"missing project path", func(c *Config) { c.ProjectPath = "" }, true},
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "skynet" }, true},
		{"temperature too high", func(c *Config) { c.Oracle.Temperature = 2.5 }, true},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, true},
		{"threshold above scale", func(c *Config) { c.Loop.AcceptanceThreshold = 11 }, true},
		{"bad server addr", func(c *Config) { c.Server.Addr = "no ports here" }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"empty optional enums pass", func(c *Config) {
			c.Oracle.Provider = ""
			c.Server.TraceExporter = ""
			c.Logging.Level = ""
		}, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := Defaults()
			cfg.ProjectPath = "/work/proj"
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate = %v, want ErrInvalidConfig", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
		})
	}
}

func TestOutputDirs(t *testing.T) {
	t.Parallel()

	cfg := Config{OutputDir: "/work/out"}
	if got := cfg.ReportsDir(); got != filepath.Join("/work/out", "reports") {
		t.Errorf("ReportsDir = %q", got)
	}
	if got := cfg.GeneratedDir(); got != filepath.Join("/work/out", "generated") {
		t.Errorf("GeneratedDir = %q", got)
	}
}

func TestFilterUnits(t *testing.T) {
	t.Parallel()

	units := []catalog.CodeUnit{
		{Name: "a", FilePath: "src/calc.go"},
		{Name: "b", FilePath: "src/parse.go"},
		{Name: "c", FilePath: "vendor/dep/dep.go"},
		{Name: "d", FilePath: "internal/util.go"},
	}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"no patterns keep everything", nil, nil, []string{"a", "b", "c", "d"}},
		{"exclude by substring", nil, []string{"vendor"}, []string{"a", "b", "d"}},
		{"include by glob", []string{"src/*.go"}, nil, []string{"a", "b"}},
		{"include by base name glob", []string{"calc.go"}, nil, []string{"a"}},
		{"exclude wins over include", []string{"src/*.go"}, []string{"parse"}, []string{"a"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := Config{Include: tc.include, Exclude: tc.exclude}
			got := cfg.filterUnits(units)

			names := make([]string, 0, len(got))
			for _, u := range got {
				names = append(names, u.Name)
			}
			if len(names) != len(tc.want) {
				t.Fatalf("kept %v, want %v", names, tc.want)
			}
			for i := range names {
				if names[i] != tc.want[i] {
					t.Fatalf("kept %v, want %v", names, tc.want)
				}
			}
		})
	}
}

func TestFilterTests(t *testing.T) {
	t.Parallel()

	cfg := Config{Exclude: []string{"integration"}}
	tests := []catalog.TestCase{
		{Name: "TestA", FilePath: "src/calc_test.go"},
		{Name: "TestB", FilePath: "integration/flow_test.go"},
	}

	got := cfg.filterTests(tests)
	if len(got) != 1 || got[0].Name != "TestA" {
		t.Errorf("filterTests kept %d tests", len(got))
	}
}
