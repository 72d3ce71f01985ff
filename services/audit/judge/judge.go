// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package judge scores candidate tests against their target unit through
// the text oracle.
package judge

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/llm"
)

// neutralScore stands in when the reply carries no parseable criterion
// lines, or when the oracle call fails outright.
const neutralScore = 5.0

// criterionKeywords mark a reply line as a score line. Matching is a plain
// lowercase substring test, so "3. Assertion quality: 8" scores under the
// key "3. Assertion quality".
var criterionKeywords = []string{
	"coverage",
	"variety",
	"assertion",
	"mocking",
	"readability",
	"documentation",
}

// Judgment is the parsed verdict for one candidate.
type Judgment struct {
	// OverallScore is the mean of the parsed criterion scores, or the
	// neutral 5.0 when none parsed.
	OverallScore float64

	// CriterionScores maps the reply's criterion labels to their raw,
	// unclamped scores.
	CriterionScores map[string]float64

	// Feedback collects the reply's prose lines.
	Feedback []string
}

// Judge evaluates candidate tests.
//
// # Description
//
// Evaluate makes one oracle call naming six criteria (coverage
// completeness, variety, assertion quality, mocking effectiveness,
// readability, documentation) and parses per-criterion scores from the
// reply line by line. It never returns an error: a failed call or an
// unparseable reply degrades to the neutral score, which sits below the
// default acceptance threshold.
//
// # Thread Safety
//
// Safe for concurrent use if the oracle is.
type Judge struct {
	oracle llm.TextOracle
	logger *slog.Logger
}

// NewJudge creates a judge backed by the given oracle. A nil logger falls
// back to slog.Default().
func NewJudge(oracle llm.TextOracle, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{oracle: oracle, logger: logger}
}

// Evaluate scores one candidate against its target unit.
//
// # Inputs
//
//   - ctx: Context for the oracle call.
//   - candidate: Candidate test carrying its SourceCode.
//   - unit: The unit the candidate claims to cover.
//
// # Outputs
//
//   - Judgment: Parsed verdict. On oracle failure the judgment is the
//     neutral 5.0 with feedback "Error in evaluation".
func (j *Judge) Evaluate(ctx context.Context, candidate catalog.TestCase, unit catalog.CodeUnit) Judgment {
	if ctx == nil {
		ctx = context.Background()
	}
	if j.oracle == nil {
		j.logger.Warn("Judging skipped, no oracle configured", slog.String("candidate", candidate.Name))
		return errorJudgment()
	}

	response, err := j.oracle.Generate(ctx, buildJudgmentPrompt(candidate, unit))
	if err != nil {
		j.logger.Warn("Judging failed",
			slog.String("candidate", candidate.Name),
			slog.String("error", err.Error()),
		)
		return errorJudgment()
	}

	verdict := parseJudgment(response)
	j.logger.Debug("Judged candidate",
		slog.String("candidate", candidate.Name),
		slog.Float64("overall", verdict.OverallScore),
		slog.Int("criteria", len(verdict.CriterionScores)),
	)
	return verdict
}

func errorJudgment() Judgment {
	return Judgment{OverallScore: neutralScore, Feedback: []string{"Error in evaluation"}}
}

func buildJudgmentPrompt(candidate catalog.TestCase, unit catalog.CodeUnit) string {
	var sb strings.Builder

	sb.WriteString("Evaluate the following test case for quality and effectiveness:\n\n")
	sb.WriteString("Test Case:\nName: ")
	sb.WriteString(candidate.Name)
	sb.WriteString("\nCode:\n")
	sb.WriteString(candidate.SourceCode)
	sb.WriteString("\n\nCode Unit Being Tested:\nName: ")
	sb.WriteString(unit.Name)
	sb.WriteString("\nType: ")
	sb.WriteString(string(unit.Kind))
	sb.WriteString("\nSignature: ")
	if unit.Signature != "" {
		sb.WriteString(unit.Signature)
	} else {
		sb.WriteString("N/A")
	}
	sb.WriteString("\nDocstring: ")
	if unit.Docstring != "" {
		sb.WriteString(unit.Docstring)
	} else {
		sb.WriteString("N/A")
	}
	sb.WriteString("\n\nEvaluate on a scale of 1-10 for each criterion:\n")
	sb.WriteString("1. Coverage completeness\n")
	sb.WriteString("2. Test case variety (happy path, edge cases, error cases)\n")
	sb.WriteString("3. Assertion quality\n")
	sb.WriteString("4. Mocking effectiveness\n")
	sb.WriteString("5. Code readability\n")
	sb.WriteString("6. Documentation quality\n\n")
	sb.WriteString("Report each criterion as \"name: score\" on its own line, then feedback.\n")

	return sb.String()
}

// parseJudgment walks the reply line by line. A line containing a criterion
// keyword is treated as a score line: the text before the first colon is
// the criterion label, the first field after it must parse as a float.
// Malformed score lines are dropped silently. Everything else non-blank
// that does not start with '#' is feedback.
func parseJudgment(response string) Judgment {
	scores := make(map[string]float64)
	var feedback []string

	for _, line := range strings.Split(response, "\n") {
		if isScoreLine(line) {
			parts := strings.SplitN(line, ":", 3)
			if len(parts) < 2 {
				continue
			}
			criterion := strings.TrimSpace(parts[0])
			fields := strings.Fields(parts[1])
			if len(fields) == 0 {
				continue
			}
			score, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			scores[criterion] = score
			continue
		}
		if strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "#") {
			feedback = append(feedback, strings.TrimSpace(line))
		}
	}

	overall := neutralScore
	if len(scores) > 0 {
		sum := 0.0
		for _, v := range scores {
			sum += v
		}
		overall = sum / float64(len(scores))
	}
	return Judgment{OverallScore: overall, CriterionScores: scores, Feedback: feedback}
}

func isScoreLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range criterionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
