// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mutation shells out to an external mutation-testing tool and
// scrapes its summary output. Mutation failures never abort an audit:
// every failure path degrades to zero-valued results plus a warning.
package mutation

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

var tracer = otel.Tracer("testforge.mutation")

const (
	// DefaultCommand is the mutation tool invocation used when none is
	// configured.
	DefaultCommand = "gooze run ./..."

	// DefaultTimeout bounds one mutation run. Mutation testing recompiles
	// the project per mutant, so this is deliberately generous.
	DefaultTimeout = 10 * time.Minute
)

// Runner invokes a mutation-testing tool and scrapes its counters.
//
// # Description
//
// The tool is treated as a black box: Runner executes the configured
// command in the project directory, captures stdout, and scans it
// line-wise for killed/survived counts. Tools exit non-zero when mutants
// survive, so a non-zero exit with output is still scraped.
//
// # Thread Safety
//
// Runner is safe for concurrent use.
type Runner struct {
	logger  *slog.Logger
	command string
	timeout time.Duration
}

// NewRunner creates a Runner with the default command and timeout. A nil
// logger falls back to slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:  logger,
		command: DefaultCommand,
		timeout: DefaultTimeout,
	}
}

// WithCommand overrides the tool invocation. The command is split on
// whitespace and executed directly, not through a shell. Empty commands
// are ignored. Returns the runner for chaining.
func (r *Runner) WithCommand(command string) *Runner {
	if strings.TrimSpace(command) != "" {
		r.command = command
	}
	return r
}

// WithTimeout overrides the run timeout. Non-positive values are ignored.
// Returns the runner for chaining.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Available reports whether the configured tool binary is on PATH.
func (r *Runner) Available() bool {
	fields := strings.Fields(r.command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

// Run executes the mutation tool against projectRoot.
//
// # Description
//
// All failures are recoverable-and-reported: a missing binary, a timeout,
// a crashed process, or unscrapable output each yield zero-valued
// MutationResults and a warning log. The audit pipeline keeps going
// either way.
//
// # Inputs
//   - ctx: cancellation; the subprocess is killed when it fires.
//   - projectRoot: directory the tool runs in.
//
// # Outputs
//   - catalog.MutationResults: scraped counters, zero-valued on failure.
func (r *Runner) Run(ctx context.Context, projectRoot string) catalog.MutationResults {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.Start(ctx, "MutationRunner.Run")
	defer span.End()
	span.SetAttributes(attribute.String("command", r.command))

	fields := strings.Fields(r.command)
	if len(fields) == 0 {
		r.logger.Warn("mutation command is empty, skipping")
		return catalog.MutationResults{}
	}

	if _, err := exec.LookPath(fields[0]); err != nil {
		r.logger.Warn("mutation tool not installed, skipping",
			"command", fields[0], "error", err)
		return catalog.MutationResults{}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, fields[0], fields[1:]...)
	cmd.Dir = projectRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if cmdCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("mutation run timed out",
			"command", r.command, "timeout", r.timeout)
		return catalog.MutationResults{}
	}
	if ctx.Err() != nil {
		r.logger.Warn("mutation run cancelled", "command", r.command)
		return catalog.MutationResults{}
	}

	// Mutation tools exit non-zero when mutants survive; only a run with
	// no output at all counts as a failure.
	if err != nil && stdout.Len() == 0 {
		r.logger.Warn("mutation run failed",
			"command", r.command, "error", err, "stderr", stderr.String())
		return catalog.MutationResults{}
	}

	killed, survived, found := ScrapeCounts(stdout.String())
	if !found {
		r.logger.Warn("mutation output had no recognizable counters",
			"command", r.command)
		return catalog.MutationResults{}
	}

	results := catalog.NewMutationResults(killed, survived)
	span.SetAttributes(
		attribute.Int("killed", killed),
		attribute.Int("survived", survived),
	)
	r.logger.Info("mutation run complete",
		"killed", killed,
		"survived", survived,
		"score", results.MutationScore,
		"duration", elapsed)
	return results
}

// ScrapeCounts scans tool output line-wise for killed and survived
// counters.
//
// # Description
//
// A lowercased line containing "killed" or "surviv" contributes the first
// all-digit token after the keyword. Punctuation around tokens is
// stripped, so "Killed: 8 | Survived: 4" and "killed 8 of 12" both
// scrape. Later lines overwrite earlier ones; found reports whether any
// counter was seen at all.
func ScrapeCounts(output string) (killed, survived int, found bool) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)

		if i := strings.Index(lower, "killed"); i >= 0 {
			if n, ok := firstDigitToken(lower[i+len("killed"):]); ok {
				killed = n
				found = true
			}
		}
		if i := strings.Index(lower, "surviv"); i >= 0 {
			if n, ok := firstDigitToken(lower[i+len("surviv"):]); ok {
				survived = n
				found = true
			}
		}
	}
	return killed, survived, found
}

// firstDigitToken returns the first whitespace-delimited all-digit token
// in s, after shaving common punctuation off token edges.
func firstDigitToken(s string) (int, bool) {
	for _, field := range strings.Fields(s) {
		field = strings.Trim(field, ":|,().%")
		if field == "" || !allDigits(field) {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
