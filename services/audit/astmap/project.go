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
	"os"
	"path"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// ProjectName resolves a display name for the project at root.
//
// # Description
//
// Uses the official Go module parser on root's go.mod and returns the
// last element of the module path. Projects without a readable module
// file fall back to the directory's base name, so the report always
// carries something presentable.
func ProjectName(root string) string {
	fallback := filepath.Base(root)
	if abs, err := filepath.Abs(root); err == nil {
		fallback = filepath.Base(abs)
	}

	content, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return fallback
	}

	f, err := modfile.Parse("go.mod", content, nil)
	if err != nil || f.Module == nil || f.Module.Mod.Path == "" {
		return fallback
	}
	return path.Base(f.Module.Mod.Path)
}
