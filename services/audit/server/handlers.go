// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TestForge/pkg/validation"
	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/astmap"
	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/storage"
)

// StartAuditRequest is the body of POST /api/v1/audits. ProjectPath must
// be an absolute path visible to the server process; everything else
// overrides the server's base configuration for this run only.
type StartAuditRequest struct {
	ProjectPath string `json:"project_path" binding:"required"`
	TestPath    string `json:"test_path"`
	OutputDir   string `json:"output_dir"`
	ProjectName string `json:"project_name"`

	Include []string `json:"include"`
	Exclude []string `json:"exclude"`

	SkipGenerate bool `json:"skip_generate"`
	SkipMutation bool `json:"skip_mutation"`

	MaxIterations int `json:"max_iterations" binding:"omitempty,gte=1,lte=50"`
}

// StartAuditResponse acknowledges an accepted run.
type StartAuditResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// ListAuditsResponse pairs in-flight runs with persisted history.
type ListAuditsResponse struct {
	Active  []RunState           `json:"active"`
	History []storage.RunSummary `json:"history"`
}

// GetAuditResponse is the state of one run. Report is present once the
// run completed and a run store holds it.
type GetAuditResponse struct {
	State  RunState             `json:"state"`
	Report *catalog.AuditReport `json:"report,omitempty"`
}

// handleStartAudit handles POST /api/v1/audits.
//
// # Description
//
// Validates the request, registers the run with the tracker, and launches
// the pipeline on a background goroutine. The response carries the run id
// used by the poll and stream endpoints and, after completion, by run
// history.
//
// # Response
//
//	202 Accepted: StartAuditResponse
//	400 Bad Request: Malformed body, relative or missing project path,
//	    or a configuration that fails validation
//	409 Conflict: Too many runs already executing
func (s *Server) handleStartAudit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With(slog.String("request_id", requestID))

	var req StartAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid audit request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := validation.ValidateProjectPath(req.ProjectPath); err != nil {
		code := "PROJECT_NOT_FOUND"
		if errors.Is(err, validation.ErrPathNotAbsolute) {
			code = "INVALID_PATH"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  code,
		})
		return
	}

	if s.tracker.ActiveCount() >= maxConcurrentRuns {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "too many concurrent audits",
			Code:  "TOO_MANY_RUNS",
		})
		return
	}

	cfg := s.runConfig(req)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_CONFIG",
		})
		return
	}

	id := uuid.NewString()
	state := s.tracker.Start(id, cfg.ProjectName)
	recordAuditLaunched(c.Request.Context())
	logger.Info("Audit run accepted",
		slog.String("audit_id", id),
		slog.String("project", cfg.ProjectName),
		slog.String("path", cfg.ProjectPath),
	)

	go s.executeAudit(id, cfg)

	c.JSON(http.StatusAccepted, StartAuditResponse{ID: id, Status: state.Status})
}

// runConfig merges the request into the server's base configuration.
// Base-level skips stay in force: a request can narrow a run but not
// re-enable what the operator disabled.
func (s *Server) runConfig(req StartAuditRequest) audit.Config {
	cfg := s.cfg
	cfg.ProjectPath = req.ProjectPath
	cfg.TestPath = req.TestPath
	cfg.OutputDir = req.OutputDir

	if req.ProjectName != "" {
		cfg.ProjectName = req.ProjectName
	} else {
		cfg.ProjectName = astmap.ProjectName(req.ProjectPath)
	}

	if len(req.Include) > 0 {
		cfg.Include = req.Include
	}
	if len(req.Exclude) > 0 {
		cfg.Exclude = req.Exclude
	}

	cfg.SkipGenerate = cfg.SkipGenerate || req.SkipGenerate
	if req.SkipMutation {
		cfg.Mutation.Enabled = false
	}
	if req.MaxIterations > 0 {
		cfg.Loop.MaxIterations = req.MaxIterations
	}

	cfg.ApplyFallbacks()
	return cfg
}

// executeAudit runs the pipeline for one accepted request and records the
// outcome in the tracker. It runs on its own goroutine with a background
// context so the run survives the originating HTTP request.
func (s *Server) executeAudit(id string, cfg audit.Config) {
	ctx, span := tracer.Start(context.Background(), "Server.executeAudit",
		trace.WithAttributes(attribute.String("audit_id", id)),
	)
	defer span.End()
	recordRunActive(ctx, 1)
	defer recordRunActive(ctx, -1)

	logger := s.logger.With(slog.String("audit_id", id))

	auditor := audit.NewAuditor(cfg, s.oracle, logger).
		WithRunID(id).
		WithProgress(func(ev audit.ProgressEvent) { s.tracker.Progress(id, ev) })
	if s.store != nil {
		auditor = auditor.WithRunStore(s.store)
	}

	rep, err := auditor.RunFullAudit(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Audit run failed", slog.String("error", err.Error()))
		s.tracker.Fail(id, err)
		return
	}

	s.tracker.Complete(id, len(rep.GeneratedTests))
	logger.Info("Audit run finished",
		slog.String("run_id", rep.RunID),
		slog.Int("generated", len(rep.GeneratedTests)),
	)
}

// handleListAudits handles GET /api/v1/audits.
func (s *Server) handleListAudits(c *gin.Context) {
	resp := ListAuditsResponse{
		Active:  s.tracker.Active(),
		History: make([]storage.RunSummary, 0),
	}

	if s.store != nil {
		history, err := s.store.List(c.Request.Context())
		if err != nil {
			s.logger.Error("Failed to list run history", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "failed to list run history",
			})
			return
		}
		if history != nil {
			resp.History = history
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetAudit handles GET /api/v1/audits/:id.
//
// # Description
//
// Serves both live and historical runs: tracker state when the server
// launched the run this process, the stored report once one exists, and
// both when they overlap. Historical ids unknown to the tracker get a
// state synthesized from the report.
//
// # Response
//
//	200 OK: GetAuditResponse
//	400 Bad Request: Malformed run id
//	404 Not Found: Unknown run id
func (s *Server) handleGetAudit(c *gin.Context) {
	id, err := validation.SanitizeRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid run id",
			Code:  "INVALID_RUN_ID",
		})
		return
	}

	state, tracked := s.tracker.Get(id)

	var rep *catalog.AuditReport
	if s.store != nil {
		stored, err := s.store.Get(c.Request.Context(), id)
		switch {
		case err == nil:
			rep = &stored
		case !errors.Is(err, storage.ErrRunNotFound):
			s.logger.Error("Failed to load run",
				slog.String("run_id", id),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "failed to load run",
			})
			return
		}
	}

	if !tracked && rep == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	if !tracked {
		state = stateFromReport(*rep)
	}

	c.JSON(http.StatusOK, GetAuditResponse{State: state, Report: rep})
}

// stateFromReport reconstructs a RunState for runs that predate this
// server process.
func stateFromReport(rep catalog.AuditReport) RunState {
	return RunState{
		ID:         rep.RunID,
		Project:    rep.ProjectName,
		Status:     StatusCompleted,
		StartedAt:  rep.Timestamp,
		FinishedAt: rep.Timestamp,
		Generated:  len(rep.GeneratedTests),
	}
}

// getOrCreateRequestID returns the inbound X-Request-ID, minting one when
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
