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
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// CacheStore persists oracle completions across runs. The badger-backed
// implementation lives in the audit storage package; tests use in-memory
// maps.
type CacheStore interface {
	// Get returns the cached completion for key, and whether it was present.
	Get(key string) (string, bool)

	// Put stores a completion under key. Implementations may expire entries.
	Put(key string, value string) error
}

// CachingOracle wraps a TextOracle with a completion cache and in-flight
// request coalescing.
//
// # Description
//
// Audit runs frequently re-ask the oracle the same question: re-assessing an
// unchanged repository replays identical prompts, and concurrent judging can
// race duplicate requests. CachingOracle answers repeats from the store and
// collapses concurrent duplicates into one upstream call via singleflight.
//
// # Thread Safety
//
// Safe for concurrent use when the underlying store is.
type CachingOracle struct {
	upstream TextOracle
	store    CacheStore
	scope    string
	inflight singleflight.Group
}

// NewCachingOracle wraps upstream with the given store. The scope string,
// normally the provider and model name, keeps completions from different
// models out of each other's entries. A nil store disables caching but keeps
// request coalescing.
func NewCachingOracle(upstream TextOracle, store CacheStore, scope string) *CachingOracle {
	return &CachingOracle{
		upstream: upstream,
		store:    store,
		scope:    scope,
	}
}

// Generate implements the TextOracle interface.
func (c *CachingOracle) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	key := c.cacheKey(prompt)

	if c.store != nil {
		if cached, ok := c.store.Get(key); ok {
			slog.Debug("Oracle cache hit", "scope", c.scope)
			return cached, nil
		}
	}

	result, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		out, genErr := c.upstream.Generate(ctx, prompt)
		if genErr != nil {
			return "", genErr
		}
		if c.store != nil {
			if putErr := c.store.Put(key, out); putErr != nil {
				slog.Warn("Failed to cache oracle completion", "error", putErr)
			}
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// cacheKey hashes the scope and prompt into a stable hex key.
func (c *CachingOracle) cacheKey(prompt string) string {
	h := sha256.New()
	h.Write([]byte(c.scope))
	h.Write([]byte("|"))
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
