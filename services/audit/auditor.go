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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TestForge/services/audit/assess"
	"github.com/AleutianAI/TestForge/services/audit/astmap"
	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/generate"
	"github.com/AleutianAI/TestForge/services/audit/improve"
	"github.com/AleutianAI/TestForge/services/audit/judge"
	"github.com/AleutianAI/TestForge/services/audit/mutation"
	"github.com/AleutianAI/TestForge/services/audit/report"
	"github.com/AleutianAI/TestForge/services/audit/storage"
	"github.com/AleutianAI/TestForge/services/llm"
)

// ErrUnknownUnit is returned by GenerateTests when the named unit does not
// exist in the mapped snapshot.
var ErrUnknownUnit = errors.New("unknown code unit")

// generateTargetCap bounds how many uncovered units one GenerateTests call
// targets.
const generateTargetCap = 10

// Auditor drives the full audit pipeline over one project.
//
// # Description
//
// RunFullAudit executes the complete eight-stage pipeline: map units,
// discover tests, assess, mutation-test, improve, re-assess, re-mutate,
// and report. Analyze runs the measurement stages only, and GenerateTests
// the generation stages only. Every oracle, mutation, and persistence
// failure past the two mapping stages degrades instead of aborting; a
// report is produced whenever mapping succeeded.
//
// # Thread Safety
//
// Not safe for concurrent use; run one Auditor per audit.
type Auditor struct {
	cfg      Config
	oracle   llm.TextOracle
	logger   *slog.Logger
	store    *storage.RunStore
	progress ProgressFunc
	runID    string
}

// NewAuditor creates an Auditor. The oracle may be nil, which disables
// generation, judging, clarity scoring, and the report narrative while
// keeping every structural metric. A nil logger falls back to
// slog.Default().
func NewAuditor(cfg Config, oracle llm.TextOracle, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{cfg: cfg, oracle: oracle, logger: logger}
}

// WithRunStore enables run-history persistence. Store failures are logged
// and never fail an audit. Returns the auditor for chaining.
func (a *Auditor) WithRunStore(s *storage.RunStore) *Auditor {
	a.store = s
	return a
}

// WithProgress registers a progress callback. Returns the auditor for
// chaining.
func (a *Auditor) WithProgress(fn ProgressFunc) *Auditor {
	a.progress = fn
	return a
}

// WithRunID presets the run id the final report carries. Empty keeps the
// default behavior of minting one at report time. Returns the auditor for
// chaining.
func (a *Auditor) WithRunID(id string) *Auditor {
	a.runID = id
	return a
}

// RunFullAudit executes the complete audit pipeline.
//
// # Description
//
// Stages run in order: structural mapping, test discovery, before
// assessment, before mutation run, improvement loop, after assessment,
// after mutation run, report production. Mutation stages run only when
// enabled and the tool is installed; the improvement loop is skipped in
// measure-only mode. The report is written to <OutputDir>/reports and,
// when a run store is attached, persisted to run history.
//
// # Inputs
//
//   - ctx: Cancellation for the whole run. A nil ctx falls back to
//     context.Background().
//
// # Outputs
//
//   - catalog.AuditReport: The assembled report. Also returned alongside a
//     non-nil error when only the final write failed.
//   - error: Mapping or discovery failure, cancellation, or a report-write
//     failure.
func (a *Auditor) RunFullAudit(ctx context.Context) (catalog.AuditReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	project := a.projectName()

	ctx, span := tracer.Start(ctx, "Auditor.RunFullAudit",
		trace.WithAttributes(attribute.String("project", project)),
	)
	defer span.End()
	recordAuditStarted(ctx)

	logger := a.logger.With(slog.String("project", project))
	logger.Info("Starting full test quality audit",
		slog.String("path", a.cfg.ProjectPath),
		slog.Bool("generate", !a.cfg.SkipGenerate),
		slog.Bool("mutation", a.cfg.Mutation.Enabled),
	)

	cat, err := a.buildCatalog(ctx, logger)
	if err != nil {
		recordAuditFailed(ctx)
		return catalog.AuditReport{}, err
	}

	assessor := assess.NewAssessor(a.oracle, logger).WithSampleCap(a.cfg.Loop.ClaritySample)

	done := a.startStage(ctx, StageAssessBefore, "Assessing current test quality")
	before := assessor.Assess(ctx, cat.Units(), cat.Tests())
	done()

	var beforeMut, afterMut *catalog.MutationResults
	runner := a.mutationRunner(logger)
	if runner != nil {
		done = a.startStage(ctx, StageMutationBefore, "Running mutation testing (before)")
		r := runner.Run(ctx, a.cfg.ProjectPath)
		done()
		beforeMut = &r
	}

	var generated []catalog.TestCase
	if a.cfg.SkipGenerate {
		logger.Info("Test generation disabled, skipping improvement loop")
	} else {
		done = a.startStage(ctx, StageImprove, "Improving test suite")
		res, lerr := a.runImproveLoop(ctx, cat, logger)
		done()
		if lerr != nil {
			recordAuditFailed(ctx)
			return catalog.AuditReport{}, lerr
		}
		generated = res.GeneratedTests
		a.emit(ProgressEvent{
			Stage:   StageImprove,
			Message: fmt.Sprintf("Accepted %d generated tests (%s)", len(generated), res.StopReason),
			Count:   len(generated),
		})
	}

	done = a.startStage(ctx, StageAssessAfter, "Assessing improved test quality")
	after := assessor.Assess(ctx, cat.Units(), cat.Tests())
	done()

	if runner != nil {
		done = a.startStage(ctx, StageMutationAfter, "Running mutation testing (after)")
		r := runner.Run(ctx, a.cfg.ProjectPath)
		done()
		afterMut = &r
	}

	done = a.startStage(ctx, StageReport, "Building audit report")
	builder := report.NewBuilder(a.oracle, logger)
	rep := builder.Build(report.BuildInput{
		RunID:          a.runID,
		ProjectName:    project,
		Codebase:       catalog.CountUnits(cat.Units()),
		Before:         before,
		After:          after,
		BeforeMutation: beforeMut,
		AfterMutation:  afterMut,
		GeneratedTests: generated,
	})
	markdown := builder.Render(ctx, rep)
	mdPath, jsonPath, werr := report.NewWriter(a.cfg.ReportsDir(), logger).Write(rep, markdown)
	done()
	span.SetAttributes(attribute.String("run_id", rep.RunID))

	if a.store != nil {
		if serr := a.store.Put(ctx, rep); serr != nil {
			logger.Warn("Failed to persist run history", slog.String("error", serr.Error()))
		}
	}
	if werr != nil {
		recordAuditFailed(ctx)
		return rep, fmt.Errorf("write report: %w", werr)
	}

	a.emit(ProgressEvent{Stage: StageReport, Message: "Audit complete: " + mdPath})
	logger.Info("Audit complete",
		slog.String("run_id", rep.RunID),
		slog.String("markdown", mdPath),
		slog.String("json", jsonPath),
		slog.Int("generated", len(generated)),
	)
	return rep, nil
}

// Analysis is the measurement-only snapshot returned by Analyze.
type Analysis struct {
	ProjectName string                 `json:"project_name"`
	Units       []catalog.CodeUnit     `json:"units"`
	Tests       []catalog.TestCase     `json:"tests"`
	Metrics     catalog.QualityMetrics `json:"metrics"`
	Summary     Summary                `json:"summary"`
}

// Summary counts one snapshot by kind.
type Summary struct {
	TotalUnits int `json:"total_units"`
	Modules    int `json:"modules"`
	Classes    int `json:"classes"`
	Functions  int `json:"functions"`
	Methods    int `json:"methods"`

	TotalTests int            `json:"total_tests"`
	TestKinds  map[string]int `json:"test_kinds"`
}

// Summarize tallies units and tests by kind.
func Summarize(units []catalog.CodeUnit, tests []catalog.TestCase) Summary {
	counts := catalog.CountUnits(units)
	s := Summary{
		TotalUnits: counts.TotalUnits,
		Modules:    counts.Modules,
		Classes:    counts.Classes,
		Functions:  counts.Functions,
		Methods:    counts.Methods,
		TotalTests: len(tests),
		TestKinds:  make(map[string]int),
	}
	for _, t := range tests {
		s.TestKinds[string(t.Kind)]++
	}
	return s
}

// Analyze maps the project, discovers its tests, and assesses quality
// without generating anything or touching the filesystem.
func (a *Auditor) Analyze(ctx context.Context) (Analysis, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	project := a.projectName()

	ctx, span := tracer.Start(ctx, "Auditor.Analyze",
		trace.WithAttributes(attribute.String("project", project)),
	)
	defer span.End()

	logger := a.logger.With(slog.String("project", project))
	cat, err := a.buildCatalog(ctx, logger)
	if err != nil {
		return Analysis{}, err
	}

	done := a.startStage(ctx, StageAssessBefore, "Assessing current test quality")
	metrics := assess.NewAssessor(a.oracle, logger).
		WithSampleCap(a.cfg.Loop.ClaritySample).
		Assess(ctx, cat.Units(), cat.Tests())
	done()

	return Analysis{
		ProjectName: project,
		Units:       cat.Units(),
		Tests:       cat.Tests(),
		Metrics:     metrics,
		Summary:     Summarize(cat.Units(), cat.Tests()),
	}, nil
}

// GenerateTests runs one generation pass and persists accepted tests to
// <OutputDir>/generated.
//
// # Description
//
// With a unitName, exactly that unit is targeted; an unknown name returns
// ErrUnknownUnit. Without one, a single improvement-loop round targets up
// to ten units that need work. Either way a candidate is accepted when its
// judged score clears the configured threshold.
//
// # Outputs
//
//   - []catalog.TestCase: Accepted tests in acceptance order, possibly
//     empty.
//   - error: Mapping or discovery failure, ErrUnknownUnit, or
//     cancellation.
func (a *Auditor) GenerateTests(ctx context.Context, unitName string) ([]catalog.TestCase, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "Auditor.GenerateTests",
		trace.WithAttributes(attribute.String("unit", unitName)),
	)
	defer span.End()

	cat, err := a.buildCatalog(ctx, a.logger)
	if err != nil {
		return nil, err
	}

	gen := generate.NewGenerator(a.oracle, a.logger)
	jdg := judge.NewJudge(a.oracle, a.logger)
	sink := improve.NewFileSink(a.cfg.GeneratedDir(), a.logger)

	if unitName != "" {
		unit, ok := cat.FindUnit(unitName)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, unitName)
		}
		a.emit(ProgressEvent{Stage: StageImprove, Message: "Generating tests for " + unitName})
		return a.generateForUnit(ctx, cat, unit, gen, jdg, sink), nil
	}

	a.emit(ProgressEvent{Stage: StageImprove, Message: "Generating tests for uncovered units"})
	opts := improve.Options{
		MaxIterations:       1,
		AcceptanceThreshold: a.cfg.Loop.AcceptanceThreshold,
		TargetsPerIteration: generateTargetCap,
	}
	res, err := improve.NewLoop(cat, gen, jdg, opts, a.logger).WithSink(sink).
		WithObserver(func(u improve.IterationUpdate) {
			a.emit(ProgressEvent{
				Stage:     StageImprove,
				Message:   fmt.Sprintf("Accepted %d of %d targets", u.Accepted, u.Targets),
				Iteration: u.Iteration,
				Count:     u.Accepted,
			})
		}).Run(ctx)
	if err != nil {
		return res.GeneratedTests, fmt.Errorf("generate tests: %w", err)
	}
	return res.GeneratedTests, nil
}

// generateForUnit is the single-unit generation path: one generate call,
// judge each candidate, persist and keep the ones that clear the
// threshold.
func (a *Auditor) generateForUnit(ctx context.Context, cat *catalog.Catalog, unit catalog.CodeUnit, gen *generate.Generator, jdg *judge.Judge, sink improve.Sink) []catalog.TestCase {
	threshold := a.cfg.Loop.AcceptanceThreshold
	if threshold <= 0 {
		threshold = improve.DefaultOptions().AcceptanceThreshold
	}

	var accepted []catalog.TestCase
	for _, cand := range gen.Generate(ctx, unit, cat.Tests()) {
		verdict := jdg.Evaluate(ctx, cand, unit)
		if verdict.OverallScore < threshold {
			a.logger.Info("Rejected generated test",
				slog.String("test", cand.Name),
				slog.Float64("score", verdict.OverallScore),
			)
			continue
		}
		path, perr := sink.Persist(cand)
		if perr != nil {
			a.logger.Warn("Failed to persist accepted test",
				slog.String("test", cand.Name),
				slog.String("error", perr.Error()),
			)
			continue
		}
		if path != "" {
			cand.FilePath = path
		}
		cat.AddTest(cand)
		accepted = append(accepted, cand)
		a.logger.Info("Accepted generated test",
			slog.String("test", cand.Name),
			slog.Float64("score", verdict.OverallScore),
		)
	}
	return accepted
}

// buildCatalog runs the two mapping stages and assembles the catalog.
// These are the only stages whose failure aborts a run.
func (a *Auditor) buildCatalog(ctx context.Context, logger *slog.Logger) (*catalog.Catalog, error) {
	done := a.startStage(ctx, StageMap, "Mapping codebase structure")
	units, err := astmap.NewMapper(logger).MapUnits(ctx, a.cfg.ProjectPath)
	done()
	if err != nil {
		return nil, fmt.Errorf("map code units: %w", err)
	}
	units = a.cfg.filterUnits(units)
	a.emit(ProgressEvent{
		Stage:   StageMap,
		Message: fmt.Sprintf("Found %d code units", len(units)),
		Count:   len(units),
	})

	done = a.startStage(ctx, StageDiscover, "Discovering existing tests")
	tests, err := astmap.NewDiscovery(logger).DiscoverTests(ctx, a.cfg.TestPath, units)
	done()
	if err != nil {
		return nil, fmt.Errorf("discover tests: %w", err)
	}
	tests = a.cfg.filterTests(tests)
	a.emit(ProgressEvent{
		Stage:   StageDiscover,
		Message: fmt.Sprintf("Found %d existing tests", len(tests)),
		Count:   len(tests),
	})

	return catalog.NewCatalog(units, tests), nil
}

// runImproveLoop wires the loop collaborators and bridges its observer to
// progress events.
func (a *Auditor) runImproveLoop(ctx context.Context, cat *catalog.Catalog, logger *slog.Logger) (improve.Result, error) {
	opts := improve.Options{
		MaxIterations:       a.cfg.Loop.MaxIterations,
		AcceptanceThreshold: a.cfg.Loop.AcceptanceThreshold,
		TargetsPerIteration: a.cfg.Loop.TargetsPerIteration,
	}
	loop := improve.NewLoop(cat, generate.NewGenerator(a.oracle, logger), judge.NewJudge(a.oracle, logger), opts, logger).
		WithSink(improve.NewFileSink(a.cfg.GeneratedDir(), logger)).
		WithObserver(func(u improve.IterationUpdate) {
			a.emit(ProgressEvent{
				Stage:     StageImprove,
				Message:   fmt.Sprintf("Iteration %d: accepted %d of %d targets", u.Iteration, u.Accepted, u.Targets),
				Iteration: u.Iteration,
				Count:     u.Accepted,
			})
		})

	res, err := loop.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("improvement loop: %w", err)
	}
	return res, nil
}

// mutationRunner returns a configured runner, or nil when mutation testing
// is disabled or the tool is not on PATH.
func (a *Auditor) mutationRunner(logger *slog.Logger) *mutation.Runner {
	if !a.cfg.Mutation.Enabled {
		return nil
	}
	r := mutation.NewRunner(logger)
	if a.cfg.Mutation.Command != "" {
		r = r.WithCommand(a.cfg.Mutation.Command)
	}
	if a.cfg.Mutation.Timeout > 0 {
		r = r.WithTimeout(a.cfg.Mutation.Timeout)
	}
	if !r.Available() {
		logger.Warn("Mutation tool not found on PATH, skipping mutation testing",
			slog.String("command", a.cfg.Mutation.Command),
		)
		return nil
	}
	return r
}

// projectName resolves the display name: explicit config first, then the
// go.mod module name, then the directory base name.
func (a *Auditor) projectName() string {
	if a.cfg.ProjectName != "" {
		return a.cfg.ProjectName
	}
	return astmap.ProjectName(a.cfg.ProjectPath)
}

// startStage emits the stage's opening progress event and returns the
// completion func that records its duration.
func (a *Auditor) startStage(ctx context.Context, s Stage, msg string) func() {
	a.emit(ProgressEvent{Stage: s, Message: msg})
	a.logger.Debug(msg, slog.String("stage", string(s)))
	start := time.Now()
	return func() {
		recordStageDuration(ctx, s, time.Since(start))
	}
}

func (a *Auditor) emit(ev ProgressEvent) {
	if a.progress != nil {
		a.progress(ev)
	}
}

// NewOracleFromConfig builds the text oracle described by cfg, wrapped in
// a badger-backed caching layer when store is non-nil. The cache scope is
// provider/model so a config change never replays stale responses.
func NewOracleFromConfig(cfg OracleConfig, store llm.CacheStore) (llm.TextOracle, error) {
	oracle, err := llm.NewOracle(llm.Provider(cfg.Provider), llm.Config{
		Endpoint:    cfg.Endpoint,
		ModelName:   cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("build oracle: %w", err)
	}
	if store != nil {
		oracle = llm.NewCachingOracle(oracle, store, cfg.Provider+"/"+cfg.Model)
	}
	return oracle, nil
}
