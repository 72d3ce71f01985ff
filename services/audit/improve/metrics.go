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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for the improvement loop.
var (
	tracer = otel.Tracer("testforge.improve")
	meter  = otel.Meter("testforge.improve")
)

var (
	loopIterations     metric.Int64Counter
	candidatesAccepted metric.Int64Counter
	candidatesRejected metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		loopIterations, err = meter.Int64Counter(
			"improve_iterations_total",
			metric.WithDescription("Total improvement-loop iterations entered"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidatesAccepted, err = meter.Int64Counter(
			"improve_candidates_accepted_total",
			metric.WithDescription("Generated tests accepted into the working set"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidatesRejected, err = meter.Int64Counter(
			"improve_candidates_rejected_total",
			metric.WithDescription("Generated tests rejected by the judge"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordIteration(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	loopIterations.Add(ctx, 1)
}

func recordAccepted(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	candidatesAccepted.Add(ctx, 1)
}

func recordRejected(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	candidatesRejected.Add(ctx, 1)
}
