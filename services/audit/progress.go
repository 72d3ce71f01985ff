// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

// Stage names one phase of the audit pipeline, in execution order.
type Stage string

const (
	StageMap            Stage = "map"
	StageDiscover       Stage = "discover"
	StageAssessBefore   Stage = "assess_before"
	StageMutationBefore Stage = "mutation_before"
	StageImprove        Stage = "improve"
	StageAssessAfter    Stage = "assess_after"
	StageMutationAfter  Stage = "mutation_after"
	StageReport         Stage = "report"
)

// ProgressEvent is one observable step of a running audit. Events are
// emitted synchronously on the audit goroutine; handlers must not block.
type ProgressEvent struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`

	// Iteration is set on improvement-loop events, 0 elsewhere.
	Iteration int `json:"iteration,omitempty"`

	// Count carries the stage's headline number when it has one: units
	// mapped, tests found, candidates accepted.
	Count int `json:"count,omitempty"`
}

// ProgressFunc receives progress events. A nil ProgressFunc is allowed
// everywhere and means no reporting.
type ProgressFunc func(ProgressEvent)
