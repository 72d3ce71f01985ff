// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package astmap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/generate"
)

// Discovery enumerates the existing test cases of a Go project.
//
// # Description
//
// Discovery walks the project root, parses every _test.go file, and emits
// one TestCase per Test* or Benchmark* function. Assertion, mock, and
// complexity counts use the same substring heuristics applied to
// generated candidates, so discovered and generated tests score on the
// same scale. Each test is linked to a code unit by name association when
// a matching unit exists.
//
// # Thread Safety
//
// Discovery is safe for concurrent use.
type Discovery struct {
	logger      *slog.Logger
	maxFileSize int64
}

// NewDiscovery creates a Discovery. A nil logger falls back to
// slog.Default().
func NewDiscovery(logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		logger:      logger,
		maxFileSize: DefaultMaxFileSize,
	}
}

// WithMaxFileSize overrides the per-file size limit. Non-positive values
// are ignored. Returns the discovery for chaining.
func (d *Discovery) WithMaxFileSize(bytes int64) *Discovery {
	if bytes > 0 {
		d.maxFileSize = bytes
	}
	return d
}

// DiscoverTests walks root and returns every test case found.
//
// # Description
//
// Test kind is derived from the file's path segments: a directory named
// "integration" marks integration tests, "functional" or "e2e" marks
// functional tests, anything else is a unit test. TestedUnits holds at
// most one unit name, resolved by trying the test's base name verbatim,
// with underscores as dots (TestType_Method covers Type.Method), and
// finally the segment before the first underscore; tests matching no
// unit keep an empty association.
//
// # Inputs
//   - ctx: cancellation; checked per file.
//   - root: project directory to analyze.
//   - units: previously mapped code units, used for name association.
//
// # Outputs
//   - []catalog.TestCase: tests in walk order. Never nil on success.
//   - error: non-nil when the root is unusable or the walk is cancelled.
//     Per-file read and parse failures are logged and skipped instead.
func (d *Discovery) DiscoverTests(ctx context.Context, root string, units []catalog.CodeUnit) ([]catalog.TestCase, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.Start(ctx, "Discovery.DiscoverTests")
	defer span.End()
	span.SetAttributes(attribute.String("root", root))

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat analysis root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	unitNames := make(map[string]struct{}, len(units))
	for _, u := range units {
		unitNames[u.Name] = struct{}{}
	}

	tests := make([]catalog.TestCase, 0)
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			d.logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path != root && skippableDir(entry.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !isTestFile(entry.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fileTests, err := d.discoverFile(ctx, root, path, unitNames)
		if err != nil {
			recordFileParsed(ctx, false)
			d.logger.Warn("skipping unparseable test file", "path", path, "error", err)
			return nil
		}
		recordFileParsed(ctx, true)
		tests = append(tests, fileTests...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk analysis root: %w", err)
	}

	span.SetAttributes(attribute.Int("tests", len(tests)))
	recordTestsFound(ctx, len(tests))
	d.logger.Info("discovered test cases", "root", root, "tests", len(tests))
	return tests, nil
}

// discoverFile parses one test file and extracts its test cases.
func (d *Discovery) discoverFile(ctx context.Context, root, path string, unitNames map[string]struct{}) ([]catalog.TestCase, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	rootNode, cleanup, err := parseGoSource(ctx, d.logger, content, rel, d.maxFileSize)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	kind := testKindFromPath(rel)
	tests := make([]catalog.TestCase, 0, 4)

	for i := 0; i < int(rootNode.ChildCount()); i++ {
		node := rootNode.Child(i)
		if node.Type() != "function_declaration" {
			continue
		}

		var name string
		for j := 0; j < int(node.ChildCount()); j++ {
			child := node.Child(j)
			if child.Type() == "identifier" {
				name = string(content[child.StartByte():child.EndByte()])
				break
			}
		}
		if !isTestFunction(name) {
			continue
		}

		source := string(content[node.StartByte():node.EndByte()])
		tests = append(tests, catalog.TestCase{
			Name:        name,
			Kind:        kind,
			FilePath:    rel,
			StartLine:   int(node.StartPoint().Row + 1),
			EndLine:     int(node.EndPoint().Row + 1),
			TestedUnits: associateUnits(name, unitNames),
			Assertions:  generate.CountAssertions(source),
			Mocks:       generate.CountMocks(source),
			Complexity:  generate.EstimateComplexity(source),
			SourceCode:  source,
			Docstring:   precedingComment(rootNode, node, content),
		})
	}

	return tests, nil
}

// isTestFunction reports whether name follows the go test naming scheme.
func isTestFunction(name string) bool {
	return strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Benchmark")
}

// testKindFromPath classifies a test by the directories it lives under.
func testKindFromPath(rel string) catalog.TestKind {
	for _, segment := range strings.Split(rel, "/") {
		switch strings.ToLower(segment) {
		case "integration":
			return catalog.TestKindIntegration
		case "functional", "e2e":
			return catalog.TestKindFunctional
		}
	}
	return catalog.TestKindUnit
}

// associateUnits links a test name to the unit it most plausibly covers.
// Returns at most one name, or nil when nothing matches.
func associateUnits(testName string, unitNames map[string]struct{}) []string {
	var base string
	switch {
	case strings.HasPrefix(testName, "Test"):
		base = strings.TrimPrefix(testName, "Test")
	case strings.HasPrefix(testName, "Benchmark"):
		base = strings.TrimPrefix(testName, "Benchmark")
	}
	base = strings.TrimPrefix(base, "_")
	if base == "" {
		return nil
	}

	candidates := []string{base, strings.ReplaceAll(base, "_", ".")}
	if i := strings.IndexByte(base, '_'); i > 0 {
		candidates = append(candidates, base[:i])
	}

	for _, candidate := range candidates {
		if _, ok := unitNames[candidate]; ok {
			return []string{candidate}
		}
	}
	return nil
}
