// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mapStore is an in-memory CacheStore for tests.
type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (m *mapStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mapStore) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestCachingOracle_SecondCallHitsCache(t *testing.T) {
	t.Parallel()

	upstream := NewScriptedOracle("first answer")
	store := newMapStore()
	oracle := NewCachingOracle(upstream, store, "test/model")

	got1, err := oracle.Generate(context.Background(), "same prompt")
	if err != nil {
		t.Fatalf("first Generate returned error: %v", err)
	}
	got2, err := oracle.Generate(context.Background(), "same prompt")
	if err != nil {
		t.Fatalf("second Generate returned error: %v", err)
	}

	if got1 != "first answer" || got2 != "first answer" {
		t.Errorf("Generate results = %q, %q, want both %q", got1, got2, "first answer")
	}
	if calls := upstream.Calls(); calls != 1 {
		t.Errorf("upstream called %d times, want 1", calls)
	}
}

func TestCachingOracle_DistinctPromptsMiss(t *testing.T) {
	t.Parallel()

	upstream := NewScriptedOracle("answer a", "answer b")
	oracle := NewCachingOracle(upstream, newMapStore(), "test/model")

	gotA, _ := oracle.Generate(context.Background(), "prompt a")
	gotB, _ := oracle.Generate(context.Background(), "prompt b")

	if gotA != "answer a" {
		t.Errorf("prompt a = %q, want %q", gotA, "answer a")
	}
	if gotB != "answer b" {
		t.Errorf("prompt b = %q, want %q", gotB, "answer b")
	}
	if calls := upstream.Calls(); calls != 2 {
		t.Errorf("upstream called %d times, want 2", calls)
	}
}

func TestCachingOracle_ScopeSeparatesModels(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	oracleA := NewCachingOracle(NewScriptedOracle("from model a"), store, "model-a")
	oracleB := NewCachingOracle(NewScriptedOracle("from model b"), store, "model-b")

	gotA, _ := oracleA.Generate(context.Background(), "prompt")
	gotB, _ := oracleB.Generate(context.Background(), "prompt")

	if gotA == gotB {
		t.Errorf("scoped caches collided, both returned %q", gotA)
	}
}

func TestCachingOracle_UpstreamErrorNotCached(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("backend down")
	upstream := NewScriptedOracle("recovered").Fail(0, wantErr)
	store := newMapStore()
	oracle := NewCachingOracle(upstream, store, "test/model")

	if _, err := oracle.Generate(context.Background(), "prompt"); !errors.Is(err, wantErr) {
		t.Fatalf("Generate error = %v, want %v", err, wantErr)
	}
	if len(store.data) != 0 {
		t.Errorf("store holds %d entries after failure, want 0", len(store.data))
	}

	got, err := oracle.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if got != "recovered" {
		t.Errorf("retry = %q, want %q", got, "recovered")
	}
}

func TestCachingOracle_NilStoreStillGenerates(t *testing.T) {
	t.Parallel()

	upstream := NewScriptedOracle("direct")
	oracle := NewCachingOracle(upstream, nil, "test/model")

	got, err := oracle.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "direct" {
		t.Errorf("Generate = %q, want %q", got, "direct")
	}
}

func TestCachingOracle_NilContextRejected(t *testing.T) {
	t.Parallel()

	oracle := NewCachingOracle(NewScriptedOracle("x"), nil, "test/model")
	//nolint:staticcheck // Deliberately passing nil to verify the guard.
	if _, err := oracle.Generate(nil, "prompt"); !errors.Is(err, ErrNilContext) {
		t.Errorf("Generate error = %v, want ErrNilContext", err)
	}
}
