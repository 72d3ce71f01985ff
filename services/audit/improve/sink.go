// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package improve

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

// Sink persists an accepted test and returns the path it was written to.
type Sink interface {
	Persist(t catalog.TestCase) (string, error)
}

// FileSink writes accepted tests as _test.go files under one directory.
//
// # Thread Safety
//
// Safe for concurrent use; writes are independent files.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

// NewFileSink creates a sink rooted at dir. The directory is created on
// first write.
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{dir: dir, logger: logger}
}

// Persist writes the test's SourceCode with a generated-file header.
//
// # Inputs
//
//   - t: Accepted candidate. The file name comes from t.FilePath's base
//     when set, otherwise from the test name.
//
// # Outputs
//
//   - string: Absolute or dir-relative path of the written file.
//   - error: Directory creation or write failure.
func (s *FileSink) Persist(t catalog.TestCase) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create generated-test dir: %w", err)
	}

	path := filepath.Join(s.dir, sinkFileName(t))
	if err := os.WriteFile(path, []byte(renderTestFile(t)), 0o644); err != nil {
		return "", fmt.Errorf("write generated test: %w", err)
	}

	s.logger.Info("Persisted generated test",
		slog.String("test", t.Name),
		slog.String("path", path),
	)
	return path, nil
}

func sinkFileName(t catalog.TestCase) string {
	if t.FilePath != "" {
		return filepath.Base(t.FilePath)
	}
	stem := strings.ToLower(strings.TrimPrefix(t.Name, "Test"))
	return stem + "_test.go"
}

// renderTestFile frames the source with a header and, when the oracle
// omitted one, a package clause so the file is at least parseable.
func renderTestFile(t catalog.TestCase) string {
	var sb strings.Builder
	sb.WriteString("// Code generated by testforge for ")
	sb.WriteString(strings.Join(t.TestedUnits, ", "))
	sb.WriteString("; review before committing.\n\n")

	if !hasPackageClause(t.SourceCode) {
		sb.WriteString("package generated\n\n")
	}
	sb.WriteString(t.SourceCode)
	if !strings.HasSuffix(t.SourceCode, "\n") {
		sb.WriteString("\n")
	}
	return sb.String()
}

func hasPackageClause(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "package ") {
			return true
		}
	}
	return false
}
