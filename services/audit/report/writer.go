// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

// timestampLayout names report files so runs sort lexically by time.
const timestampLayout = "20060102_150405"

// Writer persists one rendered report pair: the markdown narrative and a
// JSON snapshot of the run's numbers.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer targeting dir. A nil logger falls back to
// slog.Default().
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger}
}

// snapshot is the JSON shape written next to the markdown report.
type snapshot struct {
	RunID               string                   `json:"run_id"`
	ProjectName         string                   `json:"project_name"`
	Timestamp           string                   `json:"timestamp"`
	Codebase            catalog.CodebaseCounts   `json:"codebase"`
	BeforeMetrics       catalog.QualityMetrics   `json:"before_metrics"`
	AfterMetrics        catalog.QualityMetrics   `json:"after_metrics"`
	BeforeMutation      *catalog.MutationResults `json:"before_mutation,omitempty"`
	AfterMutation       *catalog.MutationResults `json:"after_mutation,omitempty"`
	Improvements        map[string]float64       `json:"improvements"`
	Recommendations     []string                 `json:"recommendations"`
	GeneratedTestsCount int                      `json:"generated_tests_count"`
	ModifiedTestsCount  int                      `json:"modified_tests_count"`
}

// Write persists the markdown narrative as audit_report_<ts>.md and the
// JSON snapshot as audit_data_<ts>.json under the writer's directory.
//
// # Outputs
//   - mdPath, jsonPath: the written file paths.
//   - error: non-nil when the directory or either file cannot be written.
func (w *Writer) Write(r catalog.AuditReport, markdown string) (mdPath, jsonPath string, err error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stamp := ts.Format(timestampLayout)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}

	mdPath = filepath.Join(w.dir, "audit_report_"+stamp+".md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return "", "", fmt.Errorf("write markdown report: %w", err)
	}

	snap := snapshot{
		RunID:               r.RunID,
		ProjectName:         r.ProjectName,
		Timestamp:           ts.Format(time.RFC3339),
		Codebase:            r.Codebase,
		BeforeMetrics:       r.BeforeMetrics,
		AfterMetrics:        r.AfterMetrics,
		BeforeMutation:      r.BeforeMutation,
		AfterMutation:       r.AfterMutation,
		Improvements:        r.ImprovementSummary(),
		Recommendations:     r.Recommendations,
		GeneratedTestsCount: len(r.GeneratedTests),
		ModifiedTestsCount:  len(r.ModifiedTests),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal report snapshot: %w", err)
	}

	jsonPath = filepath.Join(w.dir, "audit_data_"+stamp+".json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write report snapshot: %w", err)
	}

	w.logger.Info("report saved", "markdown", mdPath, "data", jsonPath)
	return mdPath, jsonPath, nil
}
