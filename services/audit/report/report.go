// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report assembles the final AuditReport and renders it to a
// markdown narrative plus a JSON snapshot. Rendering prefers an oracle-
// written narrative and falls back to a static template, so a report is
// produced even when every oracle call fails.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/llm"
)

// Recommendation thresholds.
const (
	coverageFloor = 80.0
	mutationFloor = 70.0
	densityFloor  = 2.0
)

// BuildInput carries everything one audit run accumulated for the report.
type BuildInput struct {
	// RunID presets the report's run id. Empty means mint a fresh one;
	// callers that hand out the id before the run finishes (the API
	// server) set it so history and status share one identifier.
	RunID string

	ProjectName    string
	Codebase       catalog.CodebaseCounts
	Before         catalog.QualityMetrics
	After          catalog.QualityMetrics
	BeforeMutation *catalog.MutationResults
	AfterMutation  *catalog.MutationResults
	GeneratedTests []catalog.TestCase
	ModifiedTests  []string
}

// Builder assembles audit reports and renders their narratives.
//
// # Description
//
// Build derives improvements and recommendations from the metric deltas;
// Render asks the oracle for a polished markdown narrative and falls back
// to FallbackMarkdown on any failure. A nil oracle always uses the
// fallback.
//
// # Thread Safety
//
// Builder is safe for concurrent use.
type Builder struct {
	oracle llm.TextOracle
	logger *slog.Logger
}

// NewBuilder creates a Builder. The oracle may be nil; a nil logger falls
// back to slog.Default().
func NewBuilder(oracle llm.TextOracle, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{oracle: oracle, logger: logger}
}

// Build assembles the immutable AuditReport for one run.
func (b *Builder) Build(in BuildInput) catalog.AuditReport {
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	r := catalog.AuditReport{
		RunID:           runID,
		ProjectName:     in.ProjectName,
		Timestamp:       time.Now().UTC(),
		Codebase:        in.Codebase,
		BeforeMetrics:   in.Before,
		AfterMetrics:    in.After,
		BeforeMutation:  in.BeforeMutation,
		AfterMutation:   in.AfterMutation,
		GeneratedTests:  in.GeneratedTests,
		ModifiedTests:   in.ModifiedTests,
		Improvements:    improvements(in.Before, in.After),
		Recommendations: recommendations(in.After, in.AfterMutation),
	}
	if r.GeneratedTests == nil {
		r.GeneratedTests = make([]catalog.TestCase, 0)
	}
	if r.ModifiedTests == nil {
		r.ModifiedTests = make([]string, 0)
	}
	return r
}

// improvements lists the positive before/after deltas as prose.
func improvements(before, after catalog.QualityMetrics) []string {
	out := make([]string, 0, 2)

	if delta := after.CoveragePercentage - before.CoveragePercentage; delta > 0 {
		out = append(out, fmt.Sprintf("Coverage improved by %.1f%%", delta))
	}
	if added := after.TotalTests - before.TotalTests; added > 0 {
		out = append(out, fmt.Sprintf("Added %d new test cases", added))
	}
	return out
}

// recommendations flags the metrics still below their thresholds. The
// mutation recommendation only fires when mutation testing actually ran.
func recommendations(after catalog.QualityMetrics, afterMutation *catalog.MutationResults) []string {
	out := make([]string, 0, 3)

	if after.CoveragePercentage < coverageFloor {
		out = append(out, "Increase test coverage to at least 80%")
	}
	if afterMutation != nil && afterMutation.MutationScore < mutationFloor {
		out = append(out, "Improve mutation score by adding more comprehensive assertions")
	}
	if after.AssertionDensity < densityFloor {
		out = append(out, "Increase assertion density for better test effectiveness")
	}
	return out
}

// Render produces the markdown narrative for a report.
//
// # Description
//
// With an oracle configured, Render prompts it for a professional
// markdown write-up of the run. Any oracle failure, or an empty reply,
// degrades to the static FallbackMarkdown template. The returned string
// is always non-empty.
func (b *Builder) Render(ctx context.Context, r catalog.AuditReport) string {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.oracle == nil {
		return FallbackMarkdown(r)
	}

	reply, err := b.oracle.Generate(ctx, buildReportPrompt(r))
	if err != nil {
		b.logger.Warn("report narrative generation failed, using fallback", "error", err)
		return FallbackMarkdown(r)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		b.logger.Warn("report narrative was empty, using fallback")
		return FallbackMarkdown(r)
	}
	return reply
}

// buildReportPrompt summarizes the run for the narrative oracle.
func buildReportPrompt(r catalog.AuditReport) string {
	var sb strings.Builder

	sb.WriteString("Generate a comprehensive audit report for the testing framework improvement project.\n\n")
	fmt.Fprintf(&sb, "Project: %s\n", r.ProjectName)
	fmt.Fprintf(&sb, "Timestamp: %s\n\n", r.Timestamp.Format(time.RFC3339))

	sb.WriteString("Codebase:\n")
	writeCodebaseBlock(&sb, r.Codebase)

	sb.WriteString("\nBefore Metrics:\n")
	writeMetricsBlock(&sb, r.BeforeMetrics, r.BeforeMutation)
	sb.WriteString("\nAfter Metrics:\n")
	writeMetricsBlock(&sb, r.AfterMetrics, r.AfterMutation)

	sb.WriteString("\nImprovements:\n")
	summary := r.ImprovementSummary()
	for _, key := range sortedKeys(summary) {
		fmt.Fprintf(&sb, "- %s: %.2f\n", key, summary[key])
	}

	fmt.Fprintf(&sb, "\nGenerated Tests: %d\n", len(r.GeneratedTests))
	fmt.Fprintf(&sb, "Modified Tests: %d\n", len(r.ModifiedTests))
	fmt.Fprintf(&sb, "\nRecommendations: %s\n", strings.Join(r.Recommendations, "; "))

	sb.WriteString("\nCreate a professional markdown report with:\n")
	sb.WriteString("1. Executive Summary\n")
	sb.WriteString("2. Detailed Metrics Comparison\n")
	sb.WriteString("3. Key Improvements\n")
	sb.WriteString("4. Recommendations\n")
	sb.WriteString("5. Next Steps\n")
	sb.WriteString("\nFormat as clean markdown.\n")

	return sb.String()
}

func writeCodebaseBlock(sb *strings.Builder, c catalog.CodebaseCounts) {
	fmt.Fprintf(sb, "- Source files: %d\n", c.Modules)
	fmt.Fprintf(sb, "- Classes: %d\n", c.Classes)
	fmt.Fprintf(sb, "- Functions: %d\n", c.Functions)
	fmt.Fprintf(sb, "- Methods: %d\n", c.Methods)
	fmt.Fprintf(sb, "- Total code units: %d\n", c.TotalUnits)
}

func writeMetricsBlock(sb *strings.Builder, m catalog.QualityMetrics, mut *catalog.MutationResults) {
	fmt.Fprintf(sb, "- Coverage: %.1f%%\n", m.CoveragePercentage)
	if mut != nil {
		fmt.Fprintf(sb, "- Mutation Score: %.1f%%\n", mut.MutationScore)
	} else {
		sb.WriteString("- Mutation Score: N/A\n")
	}
	fmt.Fprintf(sb, "- Total Tests: %d\n", m.TotalTests)
	fmt.Fprintf(sb, "- Total Assertions: %d\n", m.TotalAssertions)
}

// FallbackMarkdown renders the static report template used when no
// oracle narrative is available.
func FallbackMarkdown(r catalog.AuditReport) string {
	var sb strings.Builder

	sb.WriteString("# Testing Framework Audit Report\n\n")
	fmt.Fprintf(&sb, "## Project: %s\n", r.ProjectName)
	fmt.Fprintf(&sb, "**Generated:** %s\n", r.Timestamp.Format(time.RFC3339))
	if r.RunID != "" {
		fmt.Fprintf(&sb, "**Run:** %s\n", r.RunID)
	}

	sb.WriteString("\n## Executive Summary\n")
	sb.WriteString("This report details the improvements made to the test suite through oracle-driven analysis and enhancement.\n")

	sb.WriteString("\n## Codebase\n")
	writeCodebaseBlock(&sb, r.Codebase)

	sb.WriteString("\n## Metrics Comparison\n\n")
	sb.WriteString("### Before Enhancement\n")
	writeMetricsBlock(&sb, r.BeforeMetrics, r.BeforeMutation)
	sb.WriteString("\n### After Enhancement\n")
	writeMetricsBlock(&sb, r.AfterMetrics, r.AfterMutation)

	sb.WriteString("\n## Key Improvements\n")
	summary := r.ImprovementSummary()
	for _, key := range sortedKeys(summary) {
		fmt.Fprintf(&sb, "- **%s**: %+.2f\n", titleWords(key), summary[key])
	}

	sb.WriteString("\n## Generated Tests\n")
	fmt.Fprintf(&sb, "- New test cases created: %d\n", len(r.GeneratedTests))
	fmt.Fprintf(&sb, "- Modified test cases: %d\n", len(r.ModifiedTests))

	sb.WriteString("\n## Recommendations\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&sb, "- %s\n", rec)
	}

	return sb.String()
}

// sortedKeys returns the improvement-summary keys in stable order.
func sortedKeys(summary map[string]float64) []string {
	keys := make([]string, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// titleWords renders "coverage_delta" as "Coverage Delta".
func titleWords(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
