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

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for the audit pipeline.
var (
	tracer = otel.Tracer("testforge.audit")
	meter  = otel.Meter("testforge.audit")
)

var (
	auditsStarted   metric.Int64Counter
	auditsFailed    metric.Int64Counter
	stageDurationMs metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		auditsStarted, err = meter.Int64Counter(
			"audit_runs_total",
			metric.WithDescription("Total full audit runs started"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		auditsFailed, err = meter.Int64Counter(
			"audit_runs_failed_total",
			metric.WithDescription("Full audit runs that ended in error"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageDurationMs, err = meter.Float64Histogram(
			"audit_stage_duration_ms",
			metric.WithDescription("Wall-clock duration of each audit stage"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAuditStarted(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	auditsStarted.Add(ctx, 1)
}

func recordAuditFailed(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	auditsFailed.Add(ctx, 1)
}

func recordStageDuration(ctx context.Context, stage Stage, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	stageDurationMs.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("stage", string(stage))),
	)
}
