// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// runIDPattern matches run identifiers accepted over the API.
// Allows: letters, digits, then dots, hyphens, underscores.
// Max length: 64 characters (UUIDs the server mints are 36).
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateRunID validates a run identifier before it is used as a storage
// key or written to logs.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters and digits
//   - Dots, hyphens, and underscores after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateRunID(id); err != nil {
//	    return nil, fmt.Errorf("invalid run id: %w", err)
//	}
//	// Safe to use as a store key
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id format: %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores)", id)
	}

	return nil
}

// SanitizeRunID trims surrounding whitespace and validates the result.
// Returns the trimmed identifier if valid, or an error if invalid.
func SanitizeRunID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateRunID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
