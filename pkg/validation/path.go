// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that reach the
// filesystem or the run store (project paths from API requests and the CLI,
// run identifiers from URLs). Using these validators keeps path traversal
// and malformed keys away from storage lookups, subprocess calls, and logs.
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathNotAbsolute is returned for relative project paths. Audits run on
// server goroutines whose working directory is not the caller's, so a
// relative path never means what the caller intended.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// ErrPathNotDirectory is returned when the path exists but is not a directory.
var ErrPathNotDirectory = errors.New("path is not a directory")

// ValidateProjectPath validates a repository root before the pipeline walks it.
//
// Valid paths:
//   - Non-empty
//   - Absolute
//   - An existing directory
//
// The stat error is wrapped, so errors.Is(err, fs.ErrNotExist) detects
// missing paths.
//
// Example:
//
//	if err := validation.ValidateProjectPath(req.ProjectPath); err != nil {
//	    return fmt.Errorf("invalid project path: %w", err)
//	}
func ValidateProjectPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("project path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%q: %w", path, ErrPathNotAbsolute)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("project path %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q: %w", path, ErrPathNotDirectory)
	}
	return nil
}
