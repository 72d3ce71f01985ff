// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"
	"testing"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/audit"
)

// =============================================================================
// Metric Comparison Rendering
// =============================================================================

func TestCompareFloat_Plain(t *testing.T) {
	ux.SetPlain(true)

	got := compareFloat(40.0, 52.5, "%.1f%%", "%+.1f%%")
	want := "40.0% -> 52.5% (+12.5%)"
	if got != want {
		t.Errorf("compareFloat = %q, want %q", got, want)
	}
}

func TestCompareFloat_PlainNegative(t *testing.T) {
	ux.SetPlain(true)

	got := compareFloat(8.2, 7.9, "%.1f/10", "%+.1f")
	want := "8.2/10 -> 7.9/10 (-0.3)"
	if got != want {
		t.Errorf("compareFloat = %q, want %q", got, want)
	}
}

func TestCompareInt_Plain(t *testing.T) {
	ux.SetPlain(true)

	tests := []struct {
		name          string
		before, after int
		want          string
	}{
		{"increase", 10, 14, "10 -> 14 (+4)"},
		{"decrease", 10, 8, "10 -> 8 (-2)"},
		{"unchanged", 3, 3, "3 -> 3 (+0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareInt(tt.before, tt.after); got != tt.want {
				t.Errorf("compareInt(%d, %d) = %q, want %q", tt.before, tt.after, got, tt.want)
			}
		})
	}
}

func TestComparison_StyledUsesArrow(t *testing.T) {
	ux.SetPlain(false)

	got := compareFloat(40.0, 52.5, "%.1f%%", "%+.1f%%")
	for _, part := range []string{"40.0%", "52.5%", "+12.5%", string(ux.IconArrow)} {
		if !strings.Contains(got, part) {
			t.Errorf("styled comparison %q missing %q", got, part)
		}
	}
}

// =============================================================================
// Progress Rendering
// =============================================================================

func TestProgressRenderer_NilReceiverIsNoOp(t *testing.T) {
	var r *progressRenderer

	// JSON-mode commands pass a nil renderer and still hand r.Handle to
	// the auditor, so both methods must tolerate a nil receiver.
	r.Handle(audit.ProgressEvent{Stage: audit.StageDiscover, Message: "discovering tests"})
	r.Done()
}

func TestProgressRenderer_VerboseStreams(t *testing.T) {
	prev := verbose
	verbose = true
	t.Cleanup(func() { verbose = prev })

	r := newProgressRenderer("starting")
	if r.spin != nil {
		t.Error("verbose renderer should not start a spinner")
	}
	if !r.stream {
		t.Error("verbose renderer should stream events")
	}
	r.Done()
}
