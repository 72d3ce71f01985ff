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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

var memguardInitOnce sync.Once

// initMemguard performs one-time memguard setup so interrupted runs still
// wipe locked pages before the process exits.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Secret holds an API credential in memory that is locked, guarded, and
// wiped on destruction.
//
// # Description
//
// Secret wraps a memguard LockedBuffer so provider credentials never sit in
// ordinary garbage-collected memory. Reveal returns the plaintext for the
// brief window a request needs it; Destroy wipes the backing pages.
//
// # Thread Safety
//
// Safe for concurrent Reveal calls. Destroy must not race with Reveal.
type Secret struct {
	buffer *memguard.LockedBuffer
}

// NewSecret stores value in a locked buffer and returns the guarding Secret.
//
// # Inputs
//
//   - value: Plaintext credential. Empty values yield a nil Secret.
//
// # Outputs
//
//   - *Secret: Guarded credential, or nil when value is empty.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	initMemguard()
	return &Secret{buffer: memguard.NewBufferFromBytes([]byte(value))}
}

// NewSecretFromEnv resolves a credential from the first non-empty source in
// keys, checking the environment and then the container secrets mount.
//
// # Description
//
// For each key, the environment variable is consulted first. When unset, the
// lowercased key is tried as a file under /run/secrets, matching how the
// deployment injects credentials via Podman secrets.
//
// # Inputs
//
//   - keys: Environment variable names in priority order.
//
// # Outputs
//
//   - *Secret: Guarded credential, or nil when no source yields a value.
func NewSecretFromEnv(keys ...string) *Secret {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return NewSecret(v)
		}
		secretPath := filepath.Join("/run/secrets", strings.ToLower(key))
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			continue
		}
		v := strings.TrimSpace(string(raw))
		if v == "" {
			continue
		}
		slog.Info("Read credential from secrets mount", "path", secretPath)
		return NewSecret(v)
	}
	return nil
}

// Reveal returns the plaintext credential. Returns the empty string on a nil
// or destroyed Secret.
func (s *Secret) Reveal() string {
	if s == nil || s.buffer == nil || !s.buffer.IsAlive() {
		return ""
	}
	return s.buffer.String()
}

// Destroy wipes the locked buffer. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil || s.buffer == nil {
		return
	}
	s.buffer.Destroy()
}
