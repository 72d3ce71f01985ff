// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/ux"
)

// --- Global Command Variables ---
var (
	configFile  string
	plainOutput bool
	verbose     bool

	flagProvider   string
	flagModel      string
	flagNoGenerate bool
	flagNoMutation bool
	flagIterations int
	flagThreshold  float64
	flagTestPath   string
	flagOutputDir  string
	flagDataDir    string
	flagCache      bool
	flagInclude    []string
	flagExclude    []string
	flagJSON       bool
	flagAddr       string

	rootCmd = &cobra.Command{
		Use:   "testforge",
		Short: "Audit and improve the test quality of Go repositories",
		Long: `TestForge maps a repository's code units with tree-sitter, measures
				how well the existing tests cover and exercise them, and can drive
				an LLM through a generate-judge loop to close the gaps it finds.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Provider credentials may live in a .env file; absence is fine.
			_ = godotenv.Load()
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	// --- Audit ---
	auditCmd = &cobra.Command{
		Use:   "audit [project_path]",
		Short: "Run the full test-quality audit pipeline against a repository",
		Args:  cobra.ExactArgs(1),
		Run:   runAudit, // Defined in cmd_audit.go
	}

	// --- Analysis ---
	analyzeCmd = &cobra.Command{
		Use:   "analyze [project_path]",
		Short: "Measure current test quality without changing anything",
		Args:  cobra.ExactArgs(1),
		Run:   runAnalyze, // Defined in cmd_analyze.go
	}

	// --- Generation ---
	generateCmd = &cobra.Command{
		Use:   "generate [project_path] [unit_name]",
		Short: "Generate and judge tests for uncovered code units",
		Long: `Without a unit name, one generation round targets up to ten units
				that need work. With one, exactly that unit is targeted. Candidates
				that clear the judged acceptance threshold are written to the
				generated/ directory.`,
		Args: cobra.RangeArgs(1, 2),
		Run:  runGenerate, // Defined in cmd_generate.go
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit pipeline as an HTTP API",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Config ---
	configCmd = &cobra.Command{
		Use:   "config [project_path]",
		Short: "Print the effective configuration as YAML",
		Long: `Shows the configuration after file, environment, and flag layering.
				With a project path the fallbacks are resolved and the result is
				validated exactly as the audit command would see it.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runConfig, // Defined in cmd_config.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the testforge version",
		Run:   runVersion, // Defined in main.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to a testforge.yaml config file (default: ./testforge.yaml when present)")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Disable colors, icons, and spinners (also triggered by NO_COLOR or piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Stream debug logs instead of the progress spinner")

	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&flagProvider, "provider", "",
		"LLM provider: openai, azure, anthropic, google, cohere, or ollama (auto-detected when unset)")
	auditCmd.Flags().StringVar(&flagModel, "model", "", "LLM model (provider default when unset)")
	auditCmd.Flags().BoolVar(&flagNoGenerate, "no-generate", false, "Skip test generation, measure only")
	auditCmd.Flags().BoolVar(&flagNoMutation, "no-mutation", false, "Skip mutation testing")
	auditCmd.Flags().IntVar(&flagIterations, "iterations", 3, "Maximum improvement-loop iterations")
	auditCmd.Flags().StringVar(&flagTestPath, "tests", "", "Directory to discover tests in (defaults to the project path)")
	auditCmd.Flags().StringVar(&flagOutputDir, "output", "", "Directory for reports/ and generated/ (defaults to the project path)")
	auditCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "BadgerDB directory for run history and the oracle cache (empty disables persistence)")
	auditCmd.Flags().BoolVar(&flagCache, "cache", false, "Reuse cached oracle responses from the data dir")
	auditCmd.Flags().StringSliceVar(&flagInclude, "include", nil, "Only audit paths matching these patterns")
	auditCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "Skip paths matching these patterns")

	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider for clarity scoring (auto-detected when unset)")
	analyzeCmd.Flags().StringVar(&flagModel, "model", "", "LLM model (provider default when unset)")
	analyzeCmd.Flags().StringVar(&flagTestPath, "tests", "", "Directory to discover tests in (defaults to the project path)")
	analyzeCmd.Flags().BoolVar(&flagJSON, "json", false, "Emit the analysis as JSON instead of tables")
	analyzeCmd.Flags().StringSliceVar(&flagInclude, "include", nil, "Only analyze paths matching these patterns")
	analyzeCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "Skip paths matching these patterns")

	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (auto-detected when unset)")
	generateCmd.Flags().StringVar(&flagModel, "model", "", "LLM model (provider default when unset)")
	generateCmd.Flags().StringVar(&flagOutputDir, "output", "", "Directory for generated/ (defaults to the project path)")
	generateCmd.Flags().Float64Var(&flagThreshold, "threshold", 7.0, "Minimum judged score (0-10) to accept a candidate")
	generateCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "BadgerDB directory for the oracle cache (empty disables it)")
	generateCmd.Flags().BoolVar(&flagCache, "cache", false, "Reuse cached oracle responses from the data dir")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (defaults to the configured server.addr, :8080)")
	serveCmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (auto-detected when unset)")
	serveCmd.Flags().StringVar(&flagModel, "model", "", "LLM model (provider default when unset)")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "BadgerDB directory for run history and the oracle cache (empty disables persistence)")

	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider override to preview")
	configCmd.Flags().StringVar(&flagModel, "model", "", "LLM model override to preview")
	configCmd.Flags().StringVar(&flagTestPath, "tests", "", "Test directory override to preview")
	configCmd.Flags().StringVar(&flagOutputDir, "output", "", "Output directory override to preview")
	configCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "Data directory override to preview")

	rootCmd.AddCommand(versionCmd)
}
