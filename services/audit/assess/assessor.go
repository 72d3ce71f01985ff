// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assess computes aggregate quality metrics for one snapshot of
// code units and test cases.
package assess

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/llm"
)

const (
	// DefaultClaritySampleCap bounds how many test bodies are sent to the
	// oracle for clarity scoring per assessment.
	DefaultClaritySampleCap = 10

	// neutralClarityScore substitutes for a sample whose oracle call or
	// response parse failed.
	neutralClarityScore = 5.0

	// clarityChunkSize bounds how much of a test body goes into one
	// clarity prompt.
	clarityChunkSize = 2000
)

var goSeparators = []string{"\nfunc ", "\n\n", "\n", " "}

// Assessor computes QualityMetrics from a (units, tests) pair.
//
// # Description
//
// Assess is a pure aggregation over its inputs; the single external effect
// is the bounded set of oracle calls used for clarity scoring. It never
// fails: every oracle or parse error degrades to a neutral score.
//
// # Thread Safety
//
// Safe for concurrent use if the oracle is.
type Assessor struct {
	oracle    llm.TextOracle
	logger    *slog.Logger
	sampleCap int
	splitter  textsplitter.TextSplitter
}

// NewAssessor creates an assessor backed by the given oracle.
//
// # Inputs
//
//   - oracle: Clarity-scoring oracle. Nil disables clarity sampling; the
//     clarity score is then 0.
//   - logger: Structured logger. Nil falls back to slog.Default().
//
// # Outputs
//
//   - *Assessor: Ready assessor with the default sampling cap.
func NewAssessor(oracle llm.TextOracle, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		oracle:    oracle,
		logger:    logger,
		sampleCap: DefaultClaritySampleCap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(clarityChunkSize),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators(goSeparators),
		),
	}
}

// WithSampleCap overrides the clarity sampling cap. Zero or negative
// disables clarity sampling.
func (a *Assessor) WithSampleCap(cap int) *Assessor {
	a.sampleCap = cap
	return a
}

// Assess computes fresh metrics for the given units and tests.
//
// # Description
//
// Coverage is a set difference: a unit counts as covered when any test
// lists its name in TestedUnits. UncoveredUnits preserves the input unit
// order. Clarity scoring samples at most the first sampleCap tests that
// carry a non-empty body; each failed sample contributes the neutral 5.0
// instead of aborting.
//
// # Inputs
//
//   - ctx: Context for the clarity oracle calls.
//   - units: Snapshot code units, in catalog order.
//   - tests: Working test set, in catalog order.
//
// # Outputs
//
//   - catalog.QualityMetrics: Freshly computed aggregate. Never an error;
//     degraded figures stand in where the oracle misbehaved.
func (a *Assessor) Assess(ctx context.Context, units []catalog.CodeUnit, tests []catalog.TestCase) catalog.QualityMetrics {
	if ctx == nil {
		ctx = context.Background()
	}

	metrics := catalog.QualityMetrics{
		TotalTests:      len(tests),
		UncoveredUnits:  []string{},
		LowQualityTests: []string{},
	}

	covered := make(map[string]bool)
	for _, t := range tests {
		for _, name := range t.TestedUnits {
			covered[name] = true
		}
	}

	seen := make(map[string]bool, len(units))
	coveredCount := 0
	for _, u := range units {
		if seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		if covered[u.Name] {
			coveredCount++
		} else {
			metrics.UncoveredUnits = append(metrics.UncoveredUnits, u.Name)
		}
	}
	if len(seen) > 0 {
		metrics.CoveragePercentage = 100 * float64(coveredCount) / float64(len(seen))
	}

	totalComplexity := 0
	for _, t := range tests {
		metrics.TotalAssertions += t.Assertions
		metrics.TotalMocks += t.Mocks
		totalComplexity += t.Complexity

		if reasons := lowQualityReasons(t); len(reasons) > 0 {
			metrics.LowQualityTests = append(metrics.LowQualityTests,
				fmt.Sprintf("%s (%s)", t.Name, strings.Join(reasons, ", ")))
		}
	}
	if len(tests) > 0 {
		metrics.AssertionDensity = float64(metrics.TotalAssertions) / float64(len(tests))
		metrics.MockCoverage = float64(metrics.TotalMocks) / float64(len(tests))
		metrics.ComplexityScore = float64(totalComplexity) / float64(len(tests))
	}

	metrics.TestClarityScore = a.scoreClarity(ctx, tests)

	a.logger.Debug("Assessment complete",
		slog.Float64("coverage", metrics.CoveragePercentage),
		slog.Int("tests", metrics.TotalTests),
		slog.Int("uncovered", len(metrics.UncoveredUnits)),
		slog.Int("low_quality", len(metrics.LowQualityTests)),
	)
	return metrics
}

// lowQualityReasons returns the deterministic flag reasons for one test,
// in rule order. Empty means the test is not flagged.
func lowQualityReasons(t catalog.TestCase) []string {
	var reasons []string
	if t.Assertions == 0 {
		reasons = append(reasons, "no assertions")
	}
	if t.Complexity > 5 {
		reasons = append(reasons, "high complexity")
	}
	if t.Docstring == "" {
		reasons = append(reasons, "no documentation")
	}
	if t.Assertions > 0 && t.Mocks == 0 {
		reasons = append(reasons, "no mocking")
	}
	return reasons
}

// scoreClarity samples test bodies and averages the oracle's 0-10 ratings.
func (a *Assessor) scoreClarity(ctx context.Context, tests []catalog.TestCase) float64 {
	if a.oracle == nil || a.sampleCap <= 0 {
		return 0
	}

	sum := 0.0
	sampled := 0
	for _, t := range tests {
		if sampled >= a.sampleCap {
			break
		}
		if strings.TrimSpace(t.SourceCode) == "" {
			continue
		}
		sampled++
		sum += a.scoreOneTest(ctx, t)
	}
	if sampled == 0 {
		return 0
	}
	return sum / float64(sampled)
}

// scoreOneTest asks the oracle to rate one test body, substituting the
// neutral score on any failure.
func (a *Assessor) scoreOneTest(ctx context.Context, t catalog.TestCase) float64 {
	body := t.SourceCode
	if len(body) > clarityChunkSize {
		chunks, err := a.splitter.SplitText(body)
		if err == nil && len(chunks) > 0 {
			body = chunks[0]
		} else {
			body = body[:clarityChunkSize]
		}
	}

	prompt := buildClarityPrompt(t.Name, body)
	response, err := a.oracle.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("Clarity scoring failed, using neutral score",
			slog.String("test", t.Name),
			slog.String("error", err.Error()),
		)
		return neutralClarityScore
	}

	score, ok := parseLeadingScore(response)
	if !ok {
		a.logger.Warn("Clarity response had no numeric score, using neutral score",
			slog.String("test", t.Name),
		)
		return neutralClarityScore
	}
	return clampScore(score)
}

func buildClarityPrompt(name, body string) string {
	var sb strings.Builder
	sb.WriteString("Rate the clarity and readability of this test on a scale of 0-10.\n")
	sb.WriteString("Respond with the numeric score first.\n\n")
	sb.WriteString("Test name: ")
	sb.WriteString(name)
	sb.WriteString("\n\nTest body:\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String()
}

// parseLeadingScore extracts the first numeric token from an oracle
// response. Tokens like "8/10" or "7," still parse via their leading
// numeric run.
func parseLeadingScore(response string) (float64, bool) {
	for _, field := range strings.Fields(response) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		})
		if token == "" {
			continue
		}
		if idx := strings.IndexAny(token, "/"); idx >= 0 {
			token = token[:idx]
		}
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
