// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command testforge audits the test quality of Go repositories.
//
// The pipeline maps a repository's code units with tree-sitter, discovers
// its tests, and measures coverage, assertion density, and clarity. With an
// LLM provider configured it also drives a generate-judge loop that writes
// new tests for uncovered units, then measures again and reports the delta.
//
// Usage:
//
//	testforge audit /path/to/repo
//	testforge audit /path/to/repo --no-mutation --iterations 5
//	testforge analyze /path/to/repo --json
//	testforge generate /path/to/repo src/parser.Parse
//	testforge serve --addr :8080
//	testforge config /path/to/repo
//
// Provider credentials come from the environment or a .env file
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...); with none set the CLI falls
// back to a local Ollama instance.
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// version is stamped at release time and reported by the version command.
const version = "1.0.0"

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("testforge %s\n", version)
}
