// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generate produces candidate test cases for a target code unit
// through the text oracle.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/llm"
)

// DefaultTestDir is the planned destination directory recorded on
// candidate FilePaths when none is configured.
const DefaultTestDir = "generated"

// existingNameCap bounds how many existing test names go into the prompt.
const existingNameCap = 10

var branchKeywords = []string{"if ", "for ", "switch ", "select ", "case "}

// Generator asks the oracle for one candidate test per target unit.
//
// # Description
//
// Generate makes a single oracle call and extracts a fenced code block from
// the reply. It never returns an error: oracle failures and empty replies
// degrade to zero candidates so a target slot is simply spent. Assertion,
// mock, and complexity figures on the candidate come from documented
// substring heuristics, not parsing.
//
// # Thread Safety
//
// Safe for concurrent use if the oracle is.
type Generator struct {
	oracle  llm.TextOracle
	logger  *slog.Logger
	testDir string
}

// NewGenerator creates a generator backed by the given oracle.
//
// # Inputs
//
//   - oracle: Candidate-producing oracle. Nil yields a generator that
//     always returns zero candidates.
//   - logger: Structured logger. Nil falls back to slog.Default().
func NewGenerator(oracle llm.TextOracle, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		oracle:  oracle,
		logger:  logger,
		testDir: DefaultTestDir,
	}
}

// WithTestDir overrides the planned destination directory recorded on
// candidate FilePaths.
func (g *Generator) WithTestDir(dir string) *Generator {
	if dir != "" {
		g.testDir = dir
	}
	return g
}

// Generate produces zero or one candidate tests for the unit.
//
// # Inputs
//
//   - ctx: Context for the oracle call.
//   - unit: Target code unit.
//   - existing: Current working test set, used as prompt context only.
//
// # Outputs
//
//   - []catalog.TestCase: Zero or one candidates. Never an error; failures
//     are logged and swallowed.
func (g *Generator) Generate(ctx context.Context, unit catalog.CodeUnit, existing []catalog.TestCase) []catalog.TestCase {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.oracle == nil {
		g.logger.Warn("Test generation skipped, no oracle configured", slog.String("unit", unit.Name))
		return nil
	}

	response, err := g.oracle.Generate(ctx, buildGenerationPrompt(unit, existing))
	if err != nil {
		g.logger.Warn("Test generation failed",
			slog.String("unit", unit.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	source := extractCodeBlock(response, "go")
	if source == "" {
		// Unfenced replies are taken verbatim; some backends skip the fence.
		source = strings.TrimSpace(response)
	}
	if source == "" {
		g.logger.Warn("Test generation produced no code", slog.String("unit", unit.Name))
		return nil
	}

	name := CandidateName(unit.Name)
	candidate := catalog.TestCase{
		Name:        name,
		Kind:        catalog.TestKindUnit,
		FilePath:    path.Join(g.testDir, testFileName(name)),
		StartLine:   1,
		EndLine:     1 + strings.Count(source, "\n"),
		TestedUnits: []string{unit.Name},
		Assertions:  CountAssertions(source),
		Mocks:       CountMocks(source),
		Complexity:  EstimateComplexity(source),
		SourceCode:  source,
		Docstring:   "Generated test for " + unit.Name,
	}

	g.logger.Debug("Generated candidate test",
		slog.String("unit", unit.Name),
		slog.String("candidate", candidate.Name),
		slog.Int("assertions", candidate.Assertions),
		slog.Int("mocks", candidate.Mocks),
	)
	return []catalog.TestCase{candidate}
}

// CandidateName derives the generated test name for a unit. Qualified
// method names keep their receiver with the dot flattened to an
// underscore, so "Catalog.AddTest" becomes "TestCatalog_AddTest_Generated".
// Path-named module units flatten the same way.
func CandidateName(unitName string) string {
	flat := strings.NewReplacer(".", "_", "/", "_").Replace(unitName)
	return "Test" + flat + "_Generated"
}

// testFileName maps a candidate name to its planned _test.go file name.
func testFileName(candidateName string) string {
	stem := strings.ToLower(strings.TrimPrefix(candidateName, "Test"))
	return stem + "_test.go"
}

// CountAssertions counts assertion-like calls in a test body. The substring
// heuristic is deliberately imprecise: "assert " and ".assert" carry over
// from the generic rule, "assert." and "require." cover testify-style
// attribute calls.
func CountAssertions(source string) int {
	return strings.Count(source, "assert ") +
		strings.Count(source, ".assert") +
		strings.Count(source, "assert.") +
		strings.Count(source, "require.")
}

// CountMocks counts mock- and patch-like references in a test body.
func CountMocks(source string) int {
	return strings.Count(source, "mock") +
		strings.Count(source, "Mock") +
		strings.Count(source, "patch")
}

// EstimateComplexity returns 1 plus the number of branch statements,
// counted by line-leading keyword.
func EstimateComplexity(source string) int {
	complexity := 1
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, kw := range branchKeywords {
			if strings.HasPrefix(trimmed, kw) {
				complexity++
				break
			}
		}
	}
	return complexity
}

func buildGenerationPrompt(unit catalog.CodeUnit, existing []catalog.TestCase) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Generate a comprehensive Go unit test for the following %s:\n\n", unit.Kind))
	sb.WriteString("Name: ")
	sb.WriteString(unit.Name)
	sb.WriteString("\nFile: ")
	sb.WriteString(unit.FilePath)
	sb.WriteString(fmt.Sprintf("\nLines: %d-%d\n", unit.StartLine, unit.EndLine))

	sb.WriteString("Signature: ")
	if unit.Signature != "" {
		sb.WriteString(unit.Signature)
	} else {
		sb.WriteString("N/A")
	}
	sb.WriteString("\nDocumentation: ")
	if unit.Docstring != "" {
		sb.WriteString(unit.Docstring)
	} else {
		sb.WriteString("None")
	}
	sb.WriteString("\n\nExisting tests: ")
	sb.WriteString(existingNames(existing))
	sb.WriteString("\n\n")

	sb.WriteString("Requirements:\n")
	sb.WriteString("1. Use the standard testing package\n")
	sb.WriteString("2. Include at least 3 assertions\n")
	sb.WriteString("3. Use mocks or fakes for external collaborators\n")
	sb.WriteString("4. Cover edge cases and error paths\n")
	sb.WriteString("5. Start with a comment describing the scenario\n\n")
	sb.WriteString("Respond with only the Go code inside a ```go fence.\n")

	return sb.String()
}

func existingNames(existing []catalog.TestCase) string {
	if len(existing) == 0 {
		return "None"
	}
	names := make([]string, 0, existingNameCap)
	for _, t := range existing {
		if len(names) >= existingNameCap {
			break
		}
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// extractCodeBlock pulls the first fenced block out of an oracle reply,
// preferring a language-tagged fence.
func extractCodeBlock(response, language string) string {
	markers := []string{
		"```" + language,
		"```" + strings.ToLower(language),
		"```",
	}

	for _, marker := range markers {
		start := strings.Index(response, marker)
		if start == -1 {
			continue
		}

		start += len(marker)
		if idx := strings.Index(response[start:], "\n"); idx != -1 {
			start += idx + 1
		}

		end := strings.Index(response[start:], "```")
		if end == -1 {
			continue
		}

		content := strings.TrimSpace(response[start : start+end])
		if content != "" {
			return content
		}
	}

	return ""
}
