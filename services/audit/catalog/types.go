// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the data model for one audited project snapshot:
// the enumerated code units, the working set of test cases, and the
// aggregate structures the rest of the audit pipeline exchanges.
package catalog

import (
	"time"
)

// ===== UNIT AND TEST KINDS =====

// UnitKind classifies a structural element of the analyzed project.
type UnitKind string

const (
	UnitKindModule   UnitKind = "module"
	UnitKindClass    UnitKind = "class"
	UnitKindFunction UnitKind = "function"
	UnitKindMethod   UnitKind = "method"
)

// TestKind classifies a test case.
type TestKind string

const (
	TestKindUnit        TestKind = "unit"
	TestKindIntegration TestKind = "integration"
	TestKindFunctional  TestKind = "functional"
	TestKindMutation    TestKind = "mutation"
)

// ===== IDENTITY =====

// Key is the identity triple shared by code units and test cases. Two
// entries are the same entity iff their Key values are equal.
type Key struct {
	Name      string
	FilePath  string
	StartLine int
}

// ===== CORE ENTITIES =====

// CodeUnit identifies one structural element of the analyzed project.
// Units are produced once per snapshot by the structural mapper and are
// immutable afterwards.
type CodeUnit struct {
	// Name is unique within a snapshot. Methods are qualified as
	// "Type.Method".
	Name      string   `json:"name"`
	Kind      UnitKind `json:"kind"`
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`

	// Signature and Docstring are generation-prompt context only.
	Signature string `json:"signature,omitempty"`
	Docstring string `json:"docstring,omitempty"`
}

// Key returns the unit's identity triple.
func (u CodeUnit) Key() Key {
	return Key{Name: u.Name, FilePath: u.FilePath, StartLine: u.StartLine}
}

// TestCase identifies one test, discovered or generated. Generated tests
// are appended to the working set on acceptance and never mutated.
type TestCase struct {
	Name      string   `json:"name"`
	Kind      TestKind `json:"kind"`
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`

	// TestedUnits lists the unit names this test is considered to cover.
	// Empty for tests with no discovered association.
	TestedUnits []string `json:"tested_units,omitempty"`

	// Assertions and Mocks are substring-count approximations of
	// assertion-like and mock-like calls in the body, not parse results.
	Assertions int `json:"assertions"`
	Mocks      int `json:"mocks"`

	// Complexity is a cyclomatic-style count: 1 plus branches.
	Complexity int `json:"complexity"`

	// SourceCode carries the literal test body. Required for generated
	// tests; optional for discovered ones.
	SourceCode string `json:"source_code,omitempty"`

	// Docstring is the test's doc comment, when present.
	Docstring string `json:"docstring,omitempty"`
}

// Key returns the test's identity triple.
func (t TestCase) Key() Key {
	return Key{Name: t.Name, FilePath: t.FilePath, StartLine: t.StartLine}
}

// CoversUnit reports whether the test lists unitName in TestedUnits.
func (t TestCase) CoversUnit(unitName string) bool {
	for _, name := range t.TestedUnits {
		if name == unitName {
			return true
		}
	}
	return false
}

// ===== AGGREGATES =====

// QualityMetrics is a pure aggregate computed from a (units, tests) pair.
// It is recomputed from scratch on every assessment and never persisted
// back into the catalog.
type QualityMetrics struct {
	// CoveragePercentage is 100 * |covered units| / |all units|, 0 when
	// the snapshot has no units.
	CoveragePercentage float64 `json:"coverage_percentage"`

	TotalTests      int `json:"total_tests"`
	TotalAssertions int `json:"total_assertions"`
	TotalMocks      int `json:"total_mocks"`

	// AssertionDensity and MockCoverage are per-test averages, 0 when
	// there are no tests.
	AssertionDensity float64 `json:"assertion_density"`
	MockCoverage     float64 `json:"mock_coverage"`

	// ComplexityScore is the average per-test complexity.
	ComplexityScore float64 `json:"complexity_score"`

	// TestClarityScore is an oracle-scored 0-10 average over a bounded
	// sample of test bodies.
	TestClarityScore float64 `json:"test_clarity_score"`

	// UncoveredUnits lists unit names no test claims to cover, in the
	// catalog's unit order.
	UncoveredUnits []string `json:"uncovered_units"`

	// LowQualityTests holds one diagnostic string per flagged test, of
	// the form "name (reason, reason)".
	LowQualityTests []string `json:"low_quality_tests"`
}

// CodebaseCounts tallies one snapshot's units by kind for the report
// header. Modules doubles as the source-file count: the mapper emits one
// module unit per parsed file.
type CodebaseCounts struct {
	TotalUnits int `json:"total_units"`
	Modules    int `json:"modules"`
	Classes    int `json:"classes"`
	Functions  int `json:"functions"`
	Methods    int `json:"methods"`
}

// CountUnits tallies units by kind.
func CountUnits(units []CodeUnit) CodebaseCounts {
	c := CodebaseCounts{TotalUnits: len(units)}
	for _, u := range units {
		switch u.Kind {
		case UnitKindModule:
			c.Modules++
		case UnitKindClass:
			c.Classes++
		case UnitKindFunction:
			c.Functions++
		case UnitKindMethod:
			c.Methods++
		}
	}
	return c
}

// MutationResults captures the counters scraped from one mutation-testing
// run. Consumed read-only.
type MutationResults struct {
	TotalMutations int     `json:"total_mutations"`
	Killed         int     `json:"killed"`
	Survived       int     `json:"survived"`
	MutationScore  float64 `json:"mutation_score"`
}

// NewMutationResults derives the total and score from the two scraped
// counters. The score is 0 when no mutations ran.
func NewMutationResults(killed, survived int) MutationResults {
	total := killed + survived
	score := 0.0
	if total > 0 {
		score = 100 * float64(killed) / float64(total)
	}
	return MutationResults{
		TotalMutations: total,
		Killed:         killed,
		Survived:       survived,
		MutationScore:  score,
	}
}

// ===== AUDIT REPORT =====

// AuditReport is the immutable end product of one audit run. It is always
// produced, even when every oracle call failed; in that case the after
// metrics simply mirror the before metrics.
type AuditReport struct {
	RunID       string    `json:"run_id"`
	ProjectName string    `json:"project_name"`
	Timestamp   time.Time `json:"timestamp"`

	// Codebase sizes the audited snapshot the metrics were computed over.
	Codebase CodebaseCounts `json:"codebase"`

	BeforeMetrics QualityMetrics `json:"before_metrics"`
	AfterMetrics  QualityMetrics `json:"after_metrics"`

	// BeforeMutation and AfterMutation are nil when mutation testing was
	// skipped or unavailable.
	BeforeMutation *MutationResults `json:"before_mutation,omitempty"`
	AfterMutation  *MutationResults `json:"after_mutation,omitempty"`

	Improvements    []string `json:"improvements"`
	Recommendations []string `json:"recommendations"`

	GeneratedTests []TestCase `json:"generated_tests"`
	ModifiedTests  []string   `json:"modified_tests"`
}

// GeneratedTestNames returns the names of all generated tests, in
// acceptance order.
func (r AuditReport) GeneratedTestNames() []string {
	names := make([]string, 0, len(r.GeneratedTests))
	for _, tc := range r.GeneratedTests {
		names = append(names, tc.Name)
	}
	return names
}

// ImprovementSummary calculates the before/after deltas the report
// narrative is built from. The mutation delta is zero unless both runs
// happened.
func (r AuditReport) ImprovementSummary() map[string]float64 {
	summary := map[string]float64{
		"coverage_delta":          r.AfterMetrics.CoveragePercentage - r.BeforeMetrics.CoveragePercentage,
		"mutation_score_delta":    0,
		"assertion_density_delta": r.AfterMetrics.AssertionDensity - r.BeforeMetrics.AssertionDensity,
		"test_clarity_delta":      r.AfterMetrics.TestClarityScore - r.BeforeMetrics.TestClarityScore,
		"complexity_score_delta":  r.AfterMetrics.ComplexityScore - r.BeforeMetrics.ComplexityScore,
		"mock_coverage_delta":     r.AfterMetrics.MockCoverage - r.BeforeMetrics.MockCoverage,
		"tests_added":             float64(r.AfterMetrics.TotalTests - r.BeforeMetrics.TotalTests),
		"assertions_added":        float64(r.AfterMetrics.TotalAssertions - r.BeforeMetrics.TotalAssertions),
	}
	if r.BeforeMutation != nil && r.AfterMutation != nil {
		summary["mutation_score_delta"] = r.AfterMutation.MutationScore - r.BeforeMutation.MutationScore
	}
	return summary
}
