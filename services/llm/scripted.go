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
)

// ScriptedOracle replays canned responses in order. It backs dry runs and
// the test suites of every package that consumes a TextOracle.
//
// # Thread Safety
//
// Safe for concurrent use. Each call consumes the next response.
type ScriptedOracle struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string

	// RespondFn, when set, overrides the scripted responses and computes
	// the reply from the prompt.
	RespondFn func(prompt string) (string, error)
}

// NewScriptedOracle returns an oracle that replies with responses in order.
// Once exhausted it keeps repeating the final response; with no responses it
// returns ErrEmptyResponse.
func NewScriptedOracle(responses ...string) *ScriptedOracle {
	return &ScriptedOracle{responses: responses}
}

// Fail queues err at the given zero-based call index. Calls at that index
// return the error instead of a response.
func (s *ScriptedOracle) Fail(index int, err error) *ScriptedOracle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.errs) <= index {
		s.errs = append(s.errs, nil)
	}
	s.errs[index] = err
	return s
}

// Generate implements the TextOracle interface.
func (s *ScriptedOracle) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)

	if s.RespondFn != nil {
		return s.RespondFn(prompt)
	}
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if len(s.responses) == 0 {
		return "", ErrEmptyResponse
	}
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

// Calls reports how many times Generate has been invoked.
func (s *ScriptedOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns a copy of every prompt seen so far, in order.
func (s *ScriptedOracle) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
