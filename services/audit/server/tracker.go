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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/TestForge/services/audit"
)

// Status is the lifecycle phase of a tracked audit run.
type Status string

const (
	// StatusRunning means the audit pipeline is executing.
	StatusRunning Status = "running"

	// StatusCompleted means the run finished and its report was written.
	StatusCompleted Status = "completed"

	// StatusFailed means the run aborted with an error.
	StatusFailed Status = "failed"
)

// RunState is the externally visible state of one tracked run.
type RunState struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Generated is the number of accepted tests, set on completion.
	Generated int `json:"generated_tests"`

	// Error holds the failure message for failed runs.
	Error string `json:"error,omitempty"`
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events; the replay buffer is
// unaffected.
const subscriberBuffer = 64

// runEntry is the tracker's internal record for one run.
type runEntry struct {
	state   RunState
	events  []audit.ProgressEvent
	subs    map[int]chan audit.ProgressEvent
	nextSub int
	done    bool
}

// Tracker registers in-flight audit runs and fans their progress events
// out to stream subscribers.
//
// # Description
//
// Each run owns a replay buffer of every event emitted so far, so a
// subscriber connecting mid-run (or after completion) still sees the full
// history. State lives in memory only; a restart forgets unfinished runs
// while completed ones survive in the run store.
//
// # Thread Safety
//
// Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	runs   map[string]*runEntry
	order  []string
	logger *slog.Logger
}

// NewTracker creates an empty tracker. A nil logger falls back to
// slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		runs:   make(map[string]*runEntry),
		logger: logger,
	}
}

// Start registers a new running audit and returns its initial state.
func (t *Tracker) Start(id, project string) RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := RunState{
		ID:        id,
		Project:   project,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	t.runs[id] = &runEntry{
		state: state,
		subs:  make(map[int]chan audit.ProgressEvent),
	}
	t.order = append(t.order, id)
	return state
}

// Progress records an event for the run and forwards it to every
// subscriber. Events for unknown or finished runs are dropped.
//
// # Thread Safety
//
// Never blocks: a subscriber whose channel is full loses the event.
func (t *Tracker) Progress(id string, ev audit.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.runs[id]
	if !ok || entry.done {
		return
	}
	entry.events = append(entry.events, ev)

	for _, ch := range entry.subs {
		select {
		case ch <- ev:
		default:
			t.logger.Debug("Dropping progress event for slow stream subscriber",
				slog.String("audit_id", id),
				slog.String("stage", string(ev.Stage)),
			)
		}
	}
}

// Complete marks the run finished and closes its subscriber channels.
func (t *Tracker) Complete(id string, generated int) {
	t.finish(id, func(state *RunState) {
		state.Status = StatusCompleted
		state.Generated = generated
	})
}

// Fail marks the run failed and closes its subscriber channels.
func (t *Tracker) Fail(id string, err error) {
	t.finish(id, func(state *RunState) {
		state.Status = StatusFailed
		if err != nil {
			state.Error = err.Error()
		}
	})
}

func (t *Tracker) finish(id string, mutate func(*RunState)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.runs[id]
	if !ok || entry.done {
		return
	}
	mutate(&entry.state)
	entry.state.FinishedAt = time.Now().UTC()
	entry.done = true

	for key, ch := range entry.subs {
		delete(entry.subs, key)
		close(ch)
	}
}

// Get returns the current state of a tracked run.
func (t *Tracker) Get(id string) (RunState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.runs[id]
	if !ok {
		return RunState{}, false
	}
	return entry.state, true
}

// Active lists the runs still executing, newest first.
func (t *Tracker) Active() []RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RunState, 0, len(t.runs))
	for i := len(t.order) - 1; i >= 0; i-- {
		entry := t.runs[t.order[i]]
		if entry.state.Status == StatusRunning {
			out = append(out, entry.state)
		}
	}
	return out
}

// ActiveCount reports how many runs are still executing.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, entry := range t.runs {
		if entry.state.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Subscription is a live view of one run's progress events.
type Subscription struct {
	// Replay holds every event emitted before Subscribe was called.
	Replay []audit.ProgressEvent

	// C delivers subsequent events and is closed when the run finishes.
	// For already-finished runs C starts closed and Replay is complete.
	C <-chan audit.ProgressEvent

	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once and after
// the run finished.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe attaches to a run's progress events.
//
// # Outputs
//
//   - *Subscription: Replay of past events plus a live channel
//   - bool: False when the run id is unknown
func (t *Tracker) Subscribe(id string) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.runs[id]
	if !ok {
		return nil, false
	}

	replay := make([]audit.ProgressEvent, len(entry.events))
	copy(replay, entry.events)

	if entry.done {
		ch := make(chan audit.ProgressEvent)
		close(ch)
		return &Subscription{Replay: replay, C: ch}, true
	}

	key := entry.nextSub
	entry.nextSub++
	ch := make(chan audit.ProgressEvent, subscriberBuffer)
	entry.subs[key] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if live, exists := entry.subs[key]; exists {
			delete(entry.subs, key)
			close(live)
		}
	}
	return &Subscription{Replay: replay, C: ch, cancel: cancel}, true
}
