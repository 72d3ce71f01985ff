// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

var storeTracer = otel.Tracer("testforge.storage")

// runKeyPrefix namespaces audit reports away from other record types
// sharing the database.
const runKeyPrefix = "run:"

var (
	// ErrRunNotFound indicates no report exists under the requested run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrEmptyRunID indicates a report with no run id was offered for
	// persistence.
	ErrEmptyRunID = errors.New("run id is empty")
)

// RunSummary is the listing projection of a stored report: enough for a
// history table without decoding generated test bodies.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	ProjectName    string    `json:"project_name"`
	Timestamp      time.Time `json:"timestamp"`
	BeforeCoverage float64   `json:"before_coverage"`
	AfterCoverage  float64   `json:"after_coverage"`
	GeneratedTests int       `json:"generated_tests"`
}

// RunStore persists audit reports keyed by run id.
//
// # Thread Safety
//
// Safe for concurrent use.
type RunStore struct {
	db     *DB
	logger *slog.Logger
}

// NewRunStore creates a run store on an open database.
func NewRunStore(db *DB, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{db: db, logger: logger}
}

// Put stores a report, overwriting any previous report with the same run id.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - report: Completed audit report; RunID must be set
//
// # Outputs
//
//   - error: ErrEmptyRunID, or encoding/storage failure
func (s *RunStore) Put(ctx context.Context, report catalog.AuditReport) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := storeTracer.Start(ctx, "RunStore.Put")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID))

	if report.RunID == "" {
		return ErrEmptyRunID
	}

	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.RunID, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(runKey(report.RunID), value)
	})
	if err != nil {
		return fmt.Errorf("store report %s: %w", report.RunID, err)
	}

	s.logger.Debug("audit report stored",
		slog.String("run_id", report.RunID),
		slog.Int("bytes", len(value)))
	return nil
}

// Get retrieves the full report for a run id.
//
// # Outputs
//
//   - catalog.AuditReport: The stored report
//   - error: ErrRunNotFound when the id is unknown
func (s *RunStore) Get(ctx context.Context, runID string) (catalog.AuditReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := storeTracer.Start(ctx, "RunStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	var report catalog.AuditReport
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &report)
		})
	})
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return catalog.AuditReport{}, err
		}
		return catalog.AuditReport{}, fmt.Errorf("load report %s: %w", runID, err)
	}
	return report, nil
}

// List returns summaries of all stored runs, newest first.
func (s *RunStore) List(ctx context.Context) ([]RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := storeTracer.Start(ctx, "RunStore.List")
	defer span.End()

	prefix := []byte(runKeyPrefix)
	var summaries []RunSummary

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var report catalog.AuditReport
				if err := json.Unmarshal(val, &report); err != nil {
					// Skip records written by incompatible versions.
					s.logger.Warn("skipping undecodable run record",
						slog.String("key", string(it.Item().Key())),
						slog.String("error", err.Error()))
					return nil
				}
				summaries = append(summaries, summarize(report))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})

	span.SetAttributes(attribute.Int("run_count", len(summaries)))
	return summaries, nil
}

func runKey(runID string) []byte {
	return []byte(runKeyPrefix + runID)
}

func summarize(report catalog.AuditReport) RunSummary {
	return RunSummary{
		RunID:          report.RunID,
		ProjectName:    report.ProjectName,
		Timestamp:      report.Timestamp,
		BeforeCoverage: report.BeforeMetrics.CoveragePercentage,
		AfterCoverage:  report.AfterMetrics.CoveragePercentage,
		GeneratedTests: len(report.GeneratedTests),
	}
}
