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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/logging"
	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/pkg/validation"
	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/storage"
	"github.com/AleutianAI/TestForge/services/llm"
)

// fatal prints a styled error and exits. Deferred cleanups do not run, so
// callers close anything that must be closed before calling it.
func fatal(format string, args ...any) {
	ux.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// resolveProjectDir absolutizes the positional project argument and checks
// that it names an existing directory.
func resolveProjectDir(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	if err := validation.ValidateProjectPath(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// mergedConfig resolves the effective run configuration: the config file
// and environment first, then the positional project path, then whatever
// flags of the running command were set. Flags registered on other
// commands hold their zero values and fall through.
func mergedConfig(cmd *cobra.Command, projectPath string) (audit.Config, error) {
	cfg, err := audit.LoadBaseConfig(configFile)
	if err != nil {
		return audit.Config{}, err
	}
	cfg.ProjectPath = projectPath

	if flagTestPath != "" {
		cfg.TestPath = flagTestPath
	}
	if flagOutputDir != "" {
		cfg.OutputDir = flagOutputDir
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if flagProvider != "" {
		cfg.Oracle.Provider = flagProvider
	}
	if flagModel != "" {
		cfg.Oracle.Model = flagModel
	}
	if cmd.Flags().Changed("cache") {
		cfg.Oracle.Cache = flagCache
	}
	if flagNoGenerate {
		cfg.SkipGenerate = true
	}
	if flagNoMutation {
		cfg.Mutation.Enabled = false
	}
	if cmd.Flags().Changed("iterations") {
		cfg.Loop.MaxIterations = flagIterations
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Loop.AcceptanceThreshold = flagThreshold
	}
	if len(flagInclude) > 0 {
		cfg.Include = flagInclude
	}
	if len(flagExclude) > 0 {
		cfg.Exclude = flagExclude
	}

	cfg.ApplyFallbacks()
	if err := cfg.Validate(); err != nil {
		return audit.Config{}, err
	}
	return cfg, nil
}

// newCLILogger builds the logger for one-shot commands and installs it as
// the slog default so package-level logging shares the handler. Without
// --verbose only warnings and errors reach stderr, keeping log lines out
// of the styled output; --verbose switches to debug.
func newCLILogger(cfg audit.LoggingConfig) *logging.Logger {
	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "cli",
		JSON:    cfg.JSON,
		Quiet:   cfg.Quiet,
	})
	slog.SetDefault(logger.Slog())
	return logger
}

// openStores opens the badger-backed stores when a data dir is configured.
// Open failures degrade to a warning: an audit without persistence is
// still useful. The caller owns closing the returned DB.
func openStores(cfg audit.Config, logger *slog.Logger) (*storage.DB, *storage.RunStore, llm.CacheStore) {
	if cfg.DataDir == "" {
		return nil, nil, nil
	}
	db, err := storage.Open(storage.DefaultConfig(cfg.DataDir))
	if err != nil {
		logger.Warn("Failed to open data dir, continuing without persistence",
			slog.String("dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		ux.Warning(fmt.Sprintf("Data dir %s unavailable, run history disabled", cfg.DataDir))
		return nil, nil, nil
	}
	runs := storage.NewRunStore(db, logger)
	var cache llm.CacheStore
	if cfg.Oracle.Cache {
		cache = storage.NewOracleCache(db, storage.DefaultOracleCacheTTL, logger)
	}
	return db, runs, cache
}

// signalContext returns a context cancelled on SIGINT or SIGTERM so a ^C
// stops the pipeline at the next stage boundary instead of killing the
// process mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
