// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package improve runs the iterative test-improvement loop: select target
// units, generate candidates, judge them, and fold accepted tests back
// into the working set.
package improve

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/judge"
)

// Stop reasons reported on Result.StopReason.
const (
	StopNoTargets       = "no units need improvement"
	StopNoImprovement   = "no improvement this iteration"
	StopBudgetExhausted = "budget exhausted"
	StopCancelled       = "cancelled"
)

// Aggregate quality floors: a covered unit is low-quality when its tests
// together fall below either.
const (
	minAssertionsPerUnit = 3
	minMocksPerUnit      = 1
)

// Generator produces candidate tests for a target unit. Implementations
// must degrade to zero candidates instead of failing.
type Generator interface {
	Generate(ctx context.Context, unit catalog.CodeUnit, existing []catalog.TestCase) []catalog.TestCase
}

// Judge scores one candidate against its target unit.
type Judge interface {
	Evaluate(ctx context.Context, candidate catalog.TestCase, unit catalog.CodeUnit) judge.Judgment
}

// Options tune the loop. Zero values take the defaults.
type Options struct {
	// MaxIterations caps how many improvement rounds run. Default 3.
	MaxIterations int

	// AcceptanceThreshold is the minimum judged OverallScore for a
	// candidate to enter the working set. The comparison is >=. Default 7.0.
	AcceptanceThreshold float64

	// TargetsPerIteration caps how many target units are processed per
	// round; the rest requalify next round. Default 5.
	TargetsPerIteration int
}

// DefaultOptions returns the stock loop tuning.
func DefaultOptions() Options {
	return Options{
		MaxIterations:       3,
		AcceptanceThreshold: 7.0,
		TargetsPerIteration: 5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.AcceptanceThreshold <= 0 {
		o.AcceptanceThreshold = d.AcceptanceThreshold
	}
	if o.TargetsPerIteration <= 0 {
		o.TargetsPerIteration = d.TargetsPerIteration
	}
	return o
}

// Result is the loop's outcome.
type Result struct {
	// Iterations counts rounds entered, including one that selected no
	// targets.
	Iterations int `json:"iterations"`

	// GeneratedTests lists every accepted candidate, in acceptance order.
	GeneratedTests []catalog.TestCase `json:"generated_tests"`

	// StopReason is one of the Stop* constants.
	StopReason string `json:"stop_reason"`
}

// IterationUpdate describes one finished round for observers.
type IterationUpdate struct {
	Iteration int
	Targets   int
	Accepted  int
}

// Loop drives iterative test improvement over one catalog.
//
// # Description
//
// Each round selects target units (uncovered first, then covered units
// whose aggregate test quality is below the floors), generates a candidate
// per target, judges it, and accepts it into the catalog when the judged
// score clears the threshold. The loop stops on an empty target list, a
// round with zero acceptances, or the iteration budget.
//
// # Thread Safety
//
// Not safe for concurrent use; run one Loop per audit.
type Loop struct {
	catalog   *catalog.Catalog
	generator Generator
	judge     Judge
	sink      Sink
	logger    *slog.Logger
	opts      Options
	observer  func(IterationUpdate)
}

// NewLoop assembles a loop over the given catalog and collaborators. A nil
// logger falls back to slog.Default().
func NewLoop(cat *catalog.Catalog, gen Generator, jdg Judge, opts Options, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		catalog:   cat,
		generator: gen,
		judge:     jdg,
		logger:    logger,
		opts:      opts,
	}
}

// WithSink sets the persistence sink for accepted candidates. Without one,
// accepted tests live only in the catalog.
func (l *Loop) WithSink(s Sink) *Loop {
	l.sink = s
	return l
}

// WithObserver registers a callback invoked after every finished round.
func (l *Loop) WithObserver(fn func(IterationUpdate)) *Loop {
	l.observer = fn
	return l
}

// Run executes the loop until a stop condition hits.
//
// # Outputs
//
//   - Result: Partial results are returned on every path, including
//     cancellation.
//   - error: Non-nil only when ctx was cancelled; all collaborator
//     failures degrade to skipped targets instead.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := l.opts.withDefaults()
	res := Result{GeneratedTests: []catalog.TestCase{}}

	ctx, span := tracer.Start(ctx, "Loop.Run",
		trace.WithAttributes(attribute.Int("loop.max_iterations", opts.MaxIterations)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("loop.iterations", res.Iterations),
			attribute.String("loop.stop_reason", res.StopReason),
		)
		span.End()
	}()

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCancelled
			return res, err
		}
		res.Iterations = iter
		recordIteration(ctx)

		targets := l.selectTargets()
		l.logger.Info("Improvement iteration started",
			slog.Int("iteration", iter),
			slog.Int("targets", len(targets)),
		)
		if len(targets) == 0 {
			res.StopReason = StopNoTargets
			l.notify(iter, 0, 0)
			return res, nil
		}
		if len(targets) > opts.TargetsPerIteration {
			targets = targets[:opts.TargetsPerIteration]
		}

		accepted := 0
		for _, name := range targets {
			if err := ctx.Err(); err != nil {
				res.StopReason = StopCancelled
				return res, err
			}
			unit, ok := l.catalog.FindUnit(name)
			if !ok {
				// Stale names ride along in TestedUnits; the slot is spent.
				l.logger.Debug("Target unit not found, skipping", slog.String("unit", name))
				continue
			}
			accepted += l.improveUnit(ctx, unit, opts, &res)
		}

		l.notify(iter, len(targets), accepted)
		if accepted == 0 {
			res.StopReason = StopNoImprovement
			return res, nil
		}
	}

	res.StopReason = StopBudgetExhausted
	return res, nil
}

// improveUnit generates and judges candidates for one unit, folding
// accepted ones into the catalog. A panicking collaborator costs only this
// target.
func (l *Loop) improveUnit(ctx context.Context, unit catalog.CodeUnit, opts Options, res *Result) (accepted int) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Improvement target panicked",
				slog.String("unit", unit.Name),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	for _, cand := range l.generator.Generate(ctx, unit, l.catalog.Tests()) {
		verdict := l.judge.Evaluate(ctx, cand, unit)
		if verdict.OverallScore < opts.AcceptanceThreshold {
			recordRejected(ctx)
			l.logger.Info("Rejected generated test",
				slog.String("test", cand.Name),
				slog.Float64("score", verdict.OverallScore),
			)
			continue
		}

		if l.sink != nil {
			path, err := l.sink.Persist(cand)
			if err != nil {
				l.logger.Warn("Failed to persist accepted test",
					slog.String("test", cand.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if path != "" {
				cand.FilePath = path
			}
		}

		l.catalog.AddTest(cand)
		res.GeneratedTests = append(res.GeneratedTests, cand)
		accepted++
		recordAccepted(ctx)
		l.logger.Info("Accepted generated test",
			slog.String("test", cand.Name),
			slog.Float64("score", verdict.OverallScore),
		)
	}
	return accepted
}

// selectTargets computes this round's target unit names: uncovered units
// in catalog order, then covered names whose aggregate assertion or mock
// sums fall below the floors, in first-seen order over the working tests.
func (l *Loop) selectTargets() []string {
	tests := l.catalog.Tests()

	covered := make(map[string]bool)
	for _, t := range tests {
		for _, name := range t.TestedUnits {
			covered[name] = true
		}
	}

	var targets []string
	for _, name := range l.catalog.UnitNames() {
		if !covered[name] {
			targets = append(targets, name)
		}
	}

	type quality struct{ assertions, mocks int }
	sums := make(map[string]*quality)
	var order []string
	for _, t := range tests {
		for _, name := range t.TestedUnits {
			q, ok := sums[name]
			if !ok {
				q = &quality{}
				sums[name] = q
				order = append(order, name)
			}
			q.assertions += t.Assertions
			q.mocks += t.Mocks
		}
	}
	for _, name := range order {
		q := sums[name]
		if q.assertions < minAssertionsPerUnit || q.mocks < minMocksPerUnit {
			targets = append(targets, name)
		}
	}
	return targets
}

func (l *Loop) notify(iteration, targets, accepted int) {
	if l.observer != nil {
		l.observer(IterationUpdate{Iteration: iteration, Targets: targets, Accepted: accepted})
	}
}
