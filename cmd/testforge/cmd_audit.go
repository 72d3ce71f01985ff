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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
)

func runAudit(cmd *cobra.Command, args []string) {
	if err := auditProject(cmd, args[0]); err != nil {
		if errors.Is(err, context.Canceled) {
			ux.Warning("Audit cancelled")
			os.Exit(1)
		}
		fatal("Audit failed: %v", err)
	}
}

// auditProject owns the run so its deferred cleanups execute before the
// caller decides the exit code.
func auditProject(cmd *cobra.Command, arg string) error {
	// 1. Resolve the target repository
	projectPath, err := resolveProjectDir(arg)
	if err != nil {
		return err
	}

	// 2. Configuration: file + environment + flags
	cfg, err := mergedConfig(cmd, projectPath)
	if err != nil {
		return err
	}

	logger := newCLILogger(cfg.Logging)
	defer logger.Close()

	// 3. Persistence is optional; a missing data dir degrades
	db, runs, cache := openStores(cfg, logger.Slog())
	if db != nil {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("Failed to close data dir", "error", closeErr)
			}
		}()
	}

	// 4. Oracle. Without one the audit still measures everything; it
	// just cannot generate, judge, or score clarity.
	oracle, err := audit.NewOracleFromConfig(cfg.Oracle, cache)
	if err != nil {
		logger.Warn("Oracle unavailable, running measure-only",
			slog.String("provider", cfg.Oracle.Provider),
			slog.String("error", err.Error()),
		)
		ux.Warning(fmt.Sprintf("LLM oracle unavailable (%v): generation and clarity scoring disabled", err))
		oracle = nil
	}

	if verbose {
		ux.Info("Auditing " + projectPath)
		ux.Info("Provider: " + cfg.Oracle.Provider)
	}

	// 5. Run the pipeline with cancellation on ^C
	ctx, cancel := signalContext()
	defer cancel()

	render := newProgressRenderer("Mapping codebase structure")
	auditor := audit.NewAuditor(cfg, oracle, logger.Slog()).WithProgress(render.Handle)
	if runs != nil {
		auditor = auditor.WithRunStore(runs)
	}

	rep, err := auditor.RunFullAudit(ctx)
	render.Done()
	if err != nil {
		// A report-write failure still carries the assembled report.
		if rep.RunID != "" {
			displayResults(rep)
		}
		return err
	}

	// 6. Results
	displayResults(rep)
	ux.Muted("Reports written to " + cfg.ReportsDir())
	return nil
}
