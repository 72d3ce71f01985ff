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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
)

// runAnalyze maps the project and reports its current test quality
// without generating tests or mutating anything.
func runAnalyze(cmd *cobra.Command, args []string) {
	// 1. Resolve the project directory.
	projectPath, err := resolveProjectDir(args[0])
	if err != nil {
		fatal("%v", err)
	}

	// 2. Load config and merge the command-line overrides.
	cfg, err := mergedConfig(cmd, projectPath)
	if err != nil {
		fatal("Invalid configuration: %v", err)
	}

	logger := newCLILogger(cfg.Logging)
	defer logger.Close()

	// 3. Build the oracle. Analysis only needs it for clarity scoring,
	// so a missing provider degrades to structural metrics.
	oracle, err := audit.NewOracleFromConfig(cfg.Oracle, nil)
	if err != nil {
		logger.Warn("Oracle unavailable, clarity scoring disabled", "error", err)
		if !flagJSON {
			ux.Warning("LLM oracle unavailable, test clarity defaults to heuristic scoring")
		}
		oracle = nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	// 4. Run the analysis. JSON mode keeps stdout clean for pipes, so
	// the progress renderer stays nil there.
	var render *progressRenderer
	if !flagJSON {
		render = newProgressRenderer("Mapping codebase structure")
	}
	auditor := audit.NewAuditor(cfg, oracle, logger.Slog()).WithProgress(render.Handle)
	analysis, err := auditor.Analyze(ctx)
	render.Done()
	if err != nil {
		fatal("Analysis failed: %v", err)
	}

	// 5. Render.
	if flagJSON {
		if err := outputJSON(analysis); err != nil {
			fatal("Failed to encode analysis: %v", err)
		}
		return
	}
	displayAnalysis(analysis)
}
