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
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/TestForge/services/llm"
)

// DefaultOracleCacheTTL bounds how long a cached completion stays valid.
// Prompts embed source snippets, so stale entries age out rather than
// shadowing re-generated code forever.
const DefaultOracleCacheTTL = 24 * time.Hour

// cacheKeyPrefix namespaces oracle responses away from run records.
const cacheKeyPrefix = "oracle:"

// OracleCache is a badger-backed llm.CacheStore. Keys arrive pre-hashed
// from the caching decorator; values are raw completion text.
//
// # Thread Safety
//
// Safe for concurrent use.
type OracleCache struct {
	db     *DB
	ttl    time.Duration
	logger *slog.Logger
}

var _ llm.CacheStore = (*OracleCache)(nil)

// NewOracleCache creates a cache on an open database. A non-positive ttl
// falls back to DefaultOracleCacheTTL.
func NewOracleCache(db *DB, ttl time.Duration, logger *slog.Logger) *OracleCache {
	if ttl <= 0 {
		ttl = DefaultOracleCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleCache{db: db, ttl: ttl, logger: logger}
}

// Get returns the cached completion for a key. Expired and missing entries
// both report a miss; read failures are logged and treated as misses so a
// degraded cache never blocks generation.
func (c *OracleCache) Get(key string) (string, bool) {
	var value string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("oracle cache read failed", "error", err)
		return "", false
	}
	return value, true
}

// Put stores a completion under the key with the configured TTL.
func (c *OracleCache) Put(key string, value string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey(key), []byte(value)).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

func cacheKey(key string) []byte {
	return []byte(cacheKeyPrefix + key)
}
