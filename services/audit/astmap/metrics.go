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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for structural analysis.
var (
	tracer = otel.Tracer("testforge.astmap")
	meter  = otel.Meter("testforge.astmap")
)

var (
	filesParsed metric.Int64Counter
	unitsMapped metric.Int64Counter
	testsFound  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesParsed, err = meter.Int64Counter(
			"astmap_files_parsed_total",
			metric.WithDescription("Source files handed to the tree-sitter parser"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitsMapped, err = meter.Int64Counter(
			"astmap_units_mapped_total",
			metric.WithDescription("Code units extracted from parsed sources"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		testsFound, err = meter.Int64Counter(
			"astmap_tests_discovered_total",
			metric.WithDescription("Test cases discovered in test files"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFileParsed(ctx context.Context, success bool) {
	if initMetrics() != nil {
		return
	}
	filesParsed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

func recordUnitsMapped(ctx context.Context, n int) {
	if initMetrics() != nil {
		return
	}
	unitsMapped.Add(ctx, int64(n))
}

func recordTestsFound(ctx context.Context, n int) {
	if initMetrics() != nil {
		return
	}
	testsFound.Add(ctx, int64(n))
}
