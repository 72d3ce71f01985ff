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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

// uncoveredDisplayCap bounds how many uncovered units the analysis view
// lists before collapsing the rest into a count.
const uncoveredDisplayCap = 10

// outputJSON writes v to stdout as indented JSON.
//
// # Inputs
//   - v: any JSON-serializable value
//
// # Outputs
//   - error: if encoding fails
func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// =============================================================================
// Progress Rendering
// =============================================================================

// progressRenderer turns auditor progress events into terminal feedback.
// Default mode runs a spinner whose label tracks the latest event; verbose
// mode prints every event as its own line so nothing scrolls away. A nil
// renderer discards events, which lets JSON-mode commands skip terminal
// output without branching at every call site.
type progressRenderer struct {
	spin   *ux.Spinner
	stream bool
}

// newProgressRenderer starts rendering with an initial label.
func newProgressRenderer(initial string) *progressRenderer {
	if verbose {
		return &progressRenderer{stream: true}
	}
	spin := ux.NewSpinner(initial)
	spin.Start()
	return &progressRenderer{spin: spin}
}

// Handle consumes one progress event. Safe on a nil receiver.
func (r *progressRenderer) Handle(ev audit.ProgressEvent) {
	if r == nil {
		return
	}
	if r.spin != nil {
		r.spin.UpdateMessage(ev.Message)
		return
	}
	if r.stream {
		ux.Info(fmt.Sprintf("[%s] %s", ev.Stage, ev.Message))
	}
}

// Done stops the spinner and clears its line. Safe on a nil receiver.
func (r *progressRenderer) Done() {
	if r == nil || r.spin == nil {
		return
	}
	r.spin.Stop()
}

// =============================================================================
// Audit Results
// =============================================================================

// displayResults renders the before/after comparison of a finished audit.
func displayResults(rep catalog.AuditReport) {
	fmt.Println()
	ux.Title("Audit Results: " + rep.ProjectName)
	ux.Muted("run " + rep.RunID)
	fmt.Println()

	before, after := rep.BeforeMetrics, rep.AfterMetrics
	rows := []ux.MetricRow{
		{Label: "Coverage", Value: compareFloat(before.CoveragePercentage, after.CoveragePercentage, "%.1f%%", "%+.1f%%")},
		{Label: "Total Tests", Value: compareInt(before.TotalTests, after.TotalTests)},
		{Label: "Total Assertions", Value: compareInt(before.TotalAssertions, after.TotalAssertions)},
		{Label: "Assertion Density", Value: compareFloat(before.AssertionDensity, after.AssertionDensity, "%.2f", "%+.2f")},
		{Label: "Test Clarity", Value: compareFloat(before.TestClarityScore, after.TestClarityScore, "%.1f/10", "%+.1f")},
	}
	if rep.BeforeMutation != nil && rep.AfterMutation != nil {
		rows = append(rows, ux.MetricRow{
			Label: "Mutation Score",
			Value: compareFloat(rep.BeforeMutation.MutationScore, rep.AfterMutation.MutationScore, "%.1f%%", "%+.1f%%"),
		})
	}
	for i := range rows {
		rows[i].Style = lipgloss.NewStyle()
	}

	ux.Title("Metrics Comparison")
	fmt.Println(ux.MetricsTable(rows))

	if len(rep.Improvements) > 0 {
		fmt.Println()
		ux.Title("Improvements")
		for _, line := range rep.Improvements {
			ux.Success(line)
		}
	}

	if len(rep.Recommendations) > 0 {
		fmt.Println()
		ux.Title("Recommendations")
		for _, line := range rep.Recommendations {
			ux.Info(line)
		}
	}

	if n := len(rep.GeneratedTests); n > 0 {
		fmt.Println()
		ux.Success(fmt.Sprintf("Generated %d new test cases", n))
	}
}

// compareFloat renders "before → after (delta)" for one float metric.
// valueFormat prints the two values, deltaFormat the signed change.
func compareFloat(before, after float64, valueFormat, deltaFormat string) string {
	return comparison(
		fmt.Sprintf(valueFormat, before),
		fmt.Sprintf(valueFormat, after),
		fmt.Sprintf(deltaFormat, after-before),
		after-before,
	)
}

// compareInt renders "before → after (delta)" for one integer metric.
func compareInt(before, after int) string {
	return comparison(
		strconv.Itoa(before),
		strconv.Itoa(after),
		fmt.Sprintf("%+d", after-before),
		float64(after-before),
	)
}

// comparison joins the pre-formatted pieces, coloring the delta by
// direction. Plain mode swaps the arrow for ASCII.
func comparison(before, after, delta string, diff float64) string {
	if ux.IsPlain() {
		return fmt.Sprintf("%s -> %s (%s)", before, after, delta)
	}
	styled := ux.Styles.Muted.Render(delta)
	switch {
	case diff > 0:
		styled = ux.Styles.Success.Render(delta)
	case diff < 0:
		styled = ux.Styles.Error.Render(delta)
	}
	arrow := ux.Styles.Muted.Render(string(ux.IconArrow))
	return fmt.Sprintf("%s %s %s (%s)", before, arrow, after, styled)
}

// =============================================================================
// Analysis
// =============================================================================

// displayAnalysis renders the structural snapshot produced by Analyze.
func displayAnalysis(analysis audit.Analysis) {
	fmt.Println()
	ux.Title("Codebase Analysis: " + analysis.ProjectName)
	fmt.Println()

	summary := analysis.Summary
	ux.Title("Code Units")
	fmt.Println(ux.MetricsTable([]ux.MetricRow{
		{Label: "Modules", Value: strconv.Itoa(summary.Modules), Style: ux.Styles.Bold},
		{Label: "Classes", Value: strconv.Itoa(summary.Classes), Style: ux.Styles.Bold},
		{Label: "Functions", Value: strconv.Itoa(summary.Functions), Style: ux.Styles.Bold},
		{Label: "Methods", Value: strconv.Itoa(summary.Methods), Style: ux.Styles.Bold},
		{Label: "Total", Value: strconv.Itoa(summary.TotalUnits), Style: ux.Styles.Highlight},
	}))
	fmt.Println()

	ux.Title("Test Cases")
	kinds := make([]string, 0, len(summary.TestKinds))
	for kind := range summary.TestKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	testRows := make([]ux.MetricRow, 0, len(kinds)+1)
	for _, kind := range kinds {
		testRows = append(testRows, ux.MetricRow{
			Label: kind, Value: strconv.Itoa(summary.TestKinds[kind]), Style: ux.Styles.Bold,
		})
	}
	testRows = append(testRows, ux.MetricRow{
		Label: "Total", Value: strconv.Itoa(summary.TotalTests), Style: ux.Styles.Highlight,
	})
	fmt.Println(ux.MetricsTable(testRows))
	fmt.Println()

	metrics := analysis.Metrics
	ux.Title("Quality Metrics")
	fmt.Println(ux.MetricsTable([]ux.MetricRow{
		{Label: "Coverage", Value: fmt.Sprintf("%.1f%%", metrics.CoveragePercentage), Style: ux.PercentStyle(metrics.CoveragePercentage)},
		{Label: "Assertion Density", Value: fmt.Sprintf("%.2f", metrics.AssertionDensity), Style: ux.Styles.Bold},
		{Label: "Mock Coverage", Value: fmt.Sprintf("%.2f", metrics.MockCoverage), Style: ux.Styles.Bold},
		{Label: "Complexity", Value: fmt.Sprintf("%.2f", metrics.ComplexityScore), Style: ux.Styles.Bold},
		{Label: "Test Clarity", Value: fmt.Sprintf("%.1f/10", metrics.TestClarityScore), Style: ux.ScoreStyle(metrics.TestClarityScore)},
	}))

	if len(metrics.UncoveredUnits) > 0 {
		fmt.Println()
		ux.Warning(fmt.Sprintf("%d units have no covering test", len(metrics.UncoveredUnits)))
		for i, name := range metrics.UncoveredUnits {
			if i == uncoveredDisplayCap {
				ux.Muted(fmt.Sprintf("  ... and %d more", len(metrics.UncoveredUnits)-uncoveredDisplayCap))
				break
			}
			ux.Muted("  - " + name)
		}
	}
}

// =============================================================================
// Generation
// =============================================================================

// displayGenerated lists the accepted tests and where they were written.
func displayGenerated(tests []catalog.TestCase, dir string) {
	if len(tests) == 0 {
		ux.Warning("No candidates cleared the acceptance threshold")
		return
	}
	fmt.Println()
	for _, tc := range tests {
		line := tc.Name
		if len(tc.TestedUnits) > 0 {
			line += " covering " + tc.TestedUnits[0]
		}
		ux.Success(line)
	}
	fmt.Println()
	ux.Success(fmt.Sprintf("Generated %d new test cases in %s", len(tests), dir))
}
