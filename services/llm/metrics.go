// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for oracle calls across every provider client.
var oracleMeter = otel.Meter("testforge.llm")

var (
	oracleCalls   metric.Int64Counter
	oracleLatency metric.Float64Histogram

	oracleMetricsOnce sync.Once
	oracleMetricsErr  error
)

// initOracleMetrics initializes the instruments. Safe to call repeatedly.
func initOracleMetrics() error {
	oracleMetricsOnce.Do(func() {
		var err error

		oracleCalls, err = oracleMeter.Int64Counter(
			"oracle_calls_total",
			metric.WithDescription("Total number of text-oracle completion calls"),
		)
		if err != nil {
			oracleMetricsErr = err
			return
		}

		oracleLatency, err = oracleMeter.Float64Histogram(
			"oracle_call_duration_seconds",
			metric.WithDescription("Duration of text-oracle completion calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			oracleMetricsErr = err
			return
		}
	})
	return oracleMetricsErr
}

// recordOracleCall records one completion call against the given provider.
func recordOracleCall(ctx context.Context, provider string, duration time.Duration, success bool) {
	if err := initOracleMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	)
	oracleCalls.Add(ctx, 1, attrs)
	oracleLatency.Record(ctx, duration.Seconds(), attrs)
}
