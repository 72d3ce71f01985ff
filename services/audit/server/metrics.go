// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for the API server. Request spans come
// from the otelgin middleware; the tracer covers the background runs that
// outlive their originating request.
var (
	tracer = otel.Tracer("testforge.server")
	meter  = otel.Meter("testforge.server")
)

var (
	auditsLaunched metric.Int64Counter
	streamClients  metric.Int64Counter
	activeRuns     metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		auditsLaunched, err = meter.Int64Counter(
			"server_audits_launched_total",
			metric.WithDescription("Audit runs accepted over the API"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		streamClients, err = meter.Int64Counter(
			"server_stream_clients_total",
			metric.WithDescription("WebSocket progress stream connections accepted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeRuns, err = meter.Int64UpDownCounter(
			"server_active_runs",
			metric.WithDescription("Audit runs currently executing"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAuditLaunched(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	auditsLaunched.Add(ctx, 1)
}

func recordStreamClient(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	streamClients.Add(ctx, 1)
}

func recordRunActive(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	activeRuns.Add(ctx, delta)
}
