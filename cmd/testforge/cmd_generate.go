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
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
)

// runGenerate produces judged test candidates for one unit or for the
// worst-covered units of the project.
func runGenerate(cmd *cobra.Command, args []string) {
	unitName := ""
	if len(args) > 1 {
		unitName = args[1]
	}

	if err := generateTests(cmd, args[0], unitName); err != nil {
		switch {
		case errors.Is(err, audit.ErrUnknownUnit):
			fatal("Unknown code unit %q. Run 'testforge analyze' to list what was mapped.", unitName)
		case errors.Is(err, context.Canceled):
			ux.Warning("Generation cancelled")
			os.Exit(1)
		default:
			fatal("Generation failed: %v", err)
		}
	}
}

// generateTests owns the run so its deferred cleanups execute before the
// caller decides the exit code.
func generateTests(cmd *cobra.Command, arg, unitName string) error {
	// 1. Resolve the project directory.
	projectPath, err := resolveProjectDir(arg)
	if err != nil {
		return err
	}

	// 2. Load config and merge the command-line overrides.
	cfg, err := mergedConfig(cmd, projectPath)
	if err != nil {
		return err
	}

	logger := newCLILogger(cfg.Logging)
	defer logger.Close()

	// 3. Open the oracle cache when a data dir is configured. Repeated
	// generation rounds against the same units hit the cache instead of
	// the provider.
	db, _, cache := openStores(cfg, logger.Slog())
	if db != nil {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("Failed to close data dir", "error", closeErr)
			}
		}()
	}

	// 4. Build the oracle. Unlike audit, generation is pointless
	// without one, so failure here is fatal.
	oracle, err := audit.NewOracleFromConfig(cfg.Oracle, cache)
	if err != nil {
		return err
	}

	if verbose {
		ux.Info("Generating tests for " + projectPath)
		ux.Info("Provider: " + cfg.Oracle.Provider)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// 5. Map the project and run one generation round.
	render := newProgressRenderer("Mapping codebase structure")
	auditor := audit.NewAuditor(cfg, oracle, logger.Slog()).WithProgress(render.Handle)
	tests, err := auditor.GenerateTests(ctx, unitName)
	render.Done()
	if err != nil {
		return err
	}

	displayGenerated(tests, cfg.GeneratedDir())
	return nil
}
