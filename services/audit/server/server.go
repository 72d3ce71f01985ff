// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the audit pipeline over HTTP: audits start
// asynchronously with POST, their state is polled with GET, and progress
// streams over a websocket. Run history comes from the badger-backed run
// store when one is attached.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/storage"
	"github.com/AleutianAI/TestForge/services/audit/telemetry"
	"github.com/AleutianAI/TestForge/services/llm"
)

// ServiceVersion is the audit API version reported by /healthz.
const ServiceVersion = "1.0.0"

// maxConcurrentRuns caps the audits executing at once; further POSTs get
// 409 until one finishes.
const maxConcurrentRuns = 4

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ActiveRuns int    `json:"active_runs"`
}

// Server is the audit API server.
//
// # Description
//
// Server holds the long-lived resources every run shares: the text oracle,
// the run store, and the tracker that fans progress out to stream clients.
// Each accepted POST builds its own Auditor from the base configuration
// plus the request overrides and executes it on a background goroutine.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Server struct {
	cfg     audit.Config
	oracle  llm.TextOracle
	store   *storage.RunStore
	logger  *slog.Logger
	tracker *Tracker
	router  *gin.Engine
}

// NewServer creates the API server.
//
// # Inputs
//
//   - cfg: Base configuration; per-request fields are overridden by the
//     request body
//   - oracle: Text oracle shared by all runs. Nil disables generation,
//     judging, and narratives while keeping structural metrics
//   - store: Run history store. Nil disables history and the report half
//     of GET /api/v1/audits/:id
//   - logger: Nil falls back to slog.Default()
func NewServer(cfg audit.Config, oracle llm.TextOracle, store *storage.RunStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		oracle:  oracle,
		store:   store,
		logger:  logger,
		tracker: NewTracker(logger),
	}
	s.initRouter()
	return s
}

// initRouter creates the Gin engine, applies middleware, and registers
// all routes.
func (s *Server) initRouter() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("testforge-service"))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)

	api := router.Group("/api/v1")
	{
		audits := api.Group("/audits")
		{
			audits.POST("", s.handleStartAudit)
			audits.GET("", s.handleListAudits)
			audits.GET("/:id", s.handleGetAudit)
			audits.GET("/:id/stream", s.handleStreamAudit)
		}
	}

	s.router = router
}

// Run starts the HTTP server on the configured address and blocks until
// it stops.
func (s *Server) Run() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info("Starting audit API server", slog.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    ServiceVersion,
		ActiveRuns: s.tracker.ActiveCount(),
	})
}

// handleMetrics handles GET /metrics. It serves the Prometheus registry
// when that exporter is active and 503 otherwise.
func (s *Server) handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "prometheus exporter is not active",
			Code:  "METRICS_DISABLED",
		})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}
