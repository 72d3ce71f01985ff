// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/validation"
	"github.com/AleutianAI/TestForge/services/audit"
)

// newAuditFlags returns a fresh command carrying the audit command's flag
// set. Registering the flags writes their defaults back into the shared
// variables, so each call also resets state left behind by earlier tests.
func newAuditFlags(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "audit"}
	cmd.Flags().StringVar(&flagProvider, "provider", "", "")
	cmd.Flags().StringVar(&flagModel, "model", "", "")
	cmd.Flags().BoolVar(&flagNoGenerate, "no-generate", false, "")
	cmd.Flags().BoolVar(&flagNoMutation, "no-mutation", false, "")
	cmd.Flags().IntVar(&flagIterations, "iterations", 3, "")
	cmd.Flags().Float64Var(&flagThreshold, "threshold", 7.0, "")
	cmd.Flags().StringVar(&flagTestPath, "tests", "", "")
	cmd.Flags().StringVar(&flagOutputDir, "output", "", "")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "")
	cmd.Flags().BoolVar(&flagCache, "cache", false, "")
	cmd.Flags().StringSliceVar(&flagInclude, "include", nil, "")
	cmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "")
	return cmd
}

// useConfigFile points the global --config value at a throwaway YAML file
// for the duration of one test.
func useConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
}

// =============================================================================
// Project Path Resolution
// =============================================================================

func TestResolveProjectDir_Directory(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveProjectDir(dir)
	if err != nil {
		t.Fatalf("resolveProjectDir(%q) error: %v", dir, err)
	}
	if got != dir {
		t.Errorf("resolveProjectDir(%q) = %q, want %q", dir, got, dir)
	}
}

func TestResolveProjectDir_RelativeAbsolutized(t *testing.T) {
	got, err := resolveProjectDir(".")
	if err != nil {
		t.Fatalf("resolveProjectDir(.) error: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("resolveProjectDir(.) = %q, want an absolute path", got)
	}
}

func TestResolveProjectDir_Missing(t *testing.T) {
	_, err := resolveProjectDir(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestResolveProjectDir_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "main.go")
	if err := os.WriteFile(file, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := resolveProjectDir(file)
	if !errors.Is(err, validation.ErrPathNotDirectory) {
		t.Errorf("error = %v, want ErrPathNotDirectory", err)
	}
}

// =============================================================================
// Config Merging
// =============================================================================

func TestMergedConfig_FileValuesSurviveUnsetFlags(t *testing.T) {
	useConfigFile(t, `
oracle:
  provider: ollama
loop:
  max_iterations: 5
`)
	cmd := newAuditFlags(t)
	project := t.TempDir()

	cfg, err := mergedConfig(cmd, project)
	if err != nil {
		t.Fatalf("mergedConfig: %v", err)
	}

	// The iterations flag defaults to 3 but was never set, so the file
	// value must win.
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("Loop.MaxIterations = %d, want 5", cfg.Loop.MaxIterations)
	}
	if cfg.Oracle.Provider != "ollama" {
		t.Errorf("Oracle.Provider = %q, want ollama", cfg.Oracle.Provider)
	}
	if cfg.TestPath != project {
		t.Errorf("TestPath = %q, want fallback to project %q", cfg.TestPath, project)
	}
	if cfg.OutputDir != project {
		t.Errorf("OutputDir = %q, want fallback to project %q", cfg.OutputDir, project)
	}
}

func TestMergedConfig_FlagsOverrideFile(t *testing.T) {
	useConfigFile(t, `
oracle:
  provider: ollama
loop:
  max_iterations: 5
mutation:
  enabled: true
`)
	cmd := newAuditFlags(t)
	for name, value := range map[string]string{
		"iterations":  "2",
		"provider":    "openai",
		"no-mutation": "true",
		"include":     "cmd,services",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}

	cfg, err := mergedConfig(cmd, t.TempDir())
	if err != nil {
		t.Fatalf("mergedConfig: %v", err)
	}

	if cfg.Loop.MaxIterations != 2 {
		t.Errorf("Loop.MaxIterations = %d, want 2", cfg.Loop.MaxIterations)
	}
	if cfg.Oracle.Provider != "openai" {
		t.Errorf("Oracle.Provider = %q, want openai", cfg.Oracle.Provider)
	}
	if cfg.Mutation.Enabled {
		t.Error("Mutation.Enabled = true, want --no-mutation to disable it")
	}
	if len(cfg.Include) != 2 || cfg.Include[0] != "cmd" || cfg.Include[1] != "services" {
		t.Errorf("Include = %v, want [cmd services]", cfg.Include)
	}
}

func TestMergedConfig_ExplicitEmptyDataDirDisablesPersistence(t *testing.T) {
	useConfigFile(t, `
data_dir: .testforge
`)
	cmd := newAuditFlags(t)
	if err := cmd.Flags().Set("data-dir", ""); err != nil {
		t.Fatalf("set --data-dir: %v", err)
	}

	cfg, err := mergedConfig(cmd, t.TempDir())
	if err != nil {
		t.Fatalf("mergedConfig: %v", err)
	}

	// An unset flag would leave the file value; setting it to empty is an
	// explicit opt-out and must clear it.
	if cfg.DataDir != "" {
		t.Errorf("DataDir = %q, want empty after explicit --data-dir=", cfg.DataDir)
	}
}

func TestMergedConfig_RejectsUnknownProvider(t *testing.T) {
	useConfigFile(t, "logging:\n  quiet: true\n")
	cmd := newAuditFlags(t)
	if err := cmd.Flags().Set("provider", "banana"); err != nil {
		t.Fatalf("set --provider: %v", err)
	}

	_, err := mergedConfig(cmd, t.TempDir())
	if !errors.Is(err, audit.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}
