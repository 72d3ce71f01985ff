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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/logging"
	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/server"
	"github.com/AleutianAI/TestForge/services/audit/telemetry"
)

// runServe starts the audit API server. Serve mode has no fixed project
// path: each POST /api/v1/audits names the repository to audit.
func runServe(cmd *cobra.Command, args []string) {
	// 1. Load config. The project path arrives per-request, so only the
	// base fields are validated here.
	cfg, err := audit.LoadBaseConfig(configFile)
	if err != nil {
		fatal("Invalid configuration: %v", err)
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
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

	// 2. Logging and telemetry. Unlike the one-shot commands the server
	// logs at the configured level, not the quiet CLI default.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "server",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	slog.SetDefault(logger.Slog())

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if cfg.Server.TraceExporter != "" {
		tcfg.TraceExporter = cfg.Server.TraceExporter
	}
	if cfg.Server.MetricExporter != "" {
		tcfg.MetricExporter = cfg.Server.MetricExporter
	}
	shutdown, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		logger.Warn("Telemetry init failed, continuing without exporters", "error", err)
		shutdown = nil
	}

	gin.SetMode(gin.ReleaseMode)

	// 3. Stores and oracle. Both degrade: no data dir means no run
	// history, no oracle means measure-only audits.
	db, runs, cache := openStores(cfg, logger.Slog())

	oracle, err := audit.NewOracleFromConfig(cfg.Oracle, cache)
	if err != nil {
		logger.Warn("Oracle unavailable, serving measure-only audits", "error", err)
		oracle = nil
	}

	// 4. Shut down cleanly on SIGINT/SIGTERM. router.Run blocks, so a
	// signal handler closes what must be closed and exits.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down audit API server")
		if db != nil {
			_ = db.Close()
		}
		if shutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = shutdown(ctx)
			cancel()
		}
		_ = logger.Close()
		os.Exit(0)
	}()

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	printServeBanner(addr)

	// 5. Serve until killed.
	srv := server.NewServer(cfg, oracle, runs, logger.Slog())
	if err := srv.Run(); err != nil {
		logger.Error("Server failed", "error", err)
		if db != nil {
			_ = db.Close()
		}
		_ = logger.Close()
		os.Exit(1)
	}
}

// printServeBanner shows the listen address and routes before the server
// blocks.
func printServeBanner(addr string) {
	content := fmt.Sprintf(`Listening on %s

POST /api/v1/audits             start an audit run
GET  /api/v1/audits             active runs and history
GET  /api/v1/audits/:id         run status and report
GET  /api/v1/audits/:id/stream  live progress over websocket
GET  /healthz                   liveness probe
GET  /metrics                   prometheus metrics

Press Ctrl+C to stop`, addr)
	ux.Box("TestForge API "+version, content)
}
