// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"log/slog"
	"sync"
)

// Catalog holds one immutable snapshot of code units and the mutable
// working set of test cases for an audit run.
//
// # Description
//
// Units are fixed at construction; the improvement loop appends accepted
// tests through AddTest. Both collections preserve insertion order so that
// target selection and reporting stay deterministic across runs.
//
// # Thread Safety
//
// Safe for concurrent use. The improvement loop is the only writer during
// a run; readers (assessor, report builder, API handlers) may overlap.
type Catalog struct {
	mu sync.RWMutex

	units     map[Key]CodeUnit
	unitNames map[string]Key
	unitOrder []Key

	tests     map[Key]TestCase
	testOrder []Key
}

// NewCatalog builds a catalog from the mapper's units and the discovery
// collaborator's tests.
//
// # Description
//
// Entries whose identity triple repeats are dropped with a warning, first
// occurrence wins. Unit names are expected to be unique per snapshot; when
// two distinct triples share a name, the name lookup resolves to the first.
//
// # Inputs
//
//   - units: Structural elements of the snapshot, in mapper order.
//   - tests: Discovered test cases, in discovery order.
//
// # Outputs
//
//   - *Catalog: Ready catalog.
func NewCatalog(units []CodeUnit, tests []TestCase) *Catalog {
	c := &Catalog{
		units:     make(map[Key]CodeUnit, len(units)),
		unitNames: make(map[string]Key, len(units)),
		tests:     make(map[Key]TestCase, len(tests)),
	}
	for _, u := range units {
		key := u.Key()
		if _, exists := c.units[key]; exists {
			slog.Warn("Dropping duplicate code unit", "name", u.Name, "file", u.FilePath, "line", u.StartLine)
			continue
		}
		c.units[key] = u
		c.unitOrder = append(c.unitOrder, key)
		if _, taken := c.unitNames[u.Name]; !taken {
			c.unitNames[u.Name] = key
		}
	}
	for _, t := range tests {
		key := t.Key()
		if _, exists := c.tests[key]; exists {
			slog.Warn("Dropping duplicate test case", "name", t.Name, "file", t.FilePath, "line", t.StartLine)
			continue
		}
		c.tests[key] = t
		c.testOrder = append(c.testOrder, key)
	}
	return c
}

// FindUnit looks up a unit by name.
//
// # Description
//
// Not-found is a legitimate outcome, not an error: target names can
// reference stale or external identifiers, and callers skip those.
//
// # Inputs
//
//   - name: Unit name as produced by the mapper.
//
// # Outputs
//
//   - CodeUnit: The unit, zero-valued when absent.
//   - bool: Whether the unit exists.
func (c *Catalog) FindUnit(name string) (CodeUnit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.unitNames[name]
	if !ok {
		return CodeUnit{}, false
	}
	return c.units[key], true
}

// AddTest appends a test to the working set.
//
// # Description
//
// The test set is keyed by the identity triple, so re-adding an existing
// test is a no-op rather than a duplicate.
//
// # Inputs
//
//   - t: Test case to add.
//
// # Outputs
//
//   - bool: True when the test was added, false when the identity triple
//     was already present.
func (c *Catalog) AddTest(t TestCase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := t.Key()
	if _, exists := c.tests[key]; exists {
		return false
	}
	c.tests[key] = t
	c.testOrder = append(c.testOrder, key)
	return true
}

// Units returns the snapshot's code units in insertion order.
func (c *Catalog) Units() []CodeUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CodeUnit, 0, len(c.unitOrder))
	for _, key := range c.unitOrder {
		out = append(out, c.units[key])
	}
	return out
}

// Tests returns a copy of the working test set in insertion order.
func (c *Catalog) Tests() []TestCase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TestCase, 0, len(c.testOrder))
	for _, key := range c.testOrder {
		out = append(out, c.tests[key])
	}
	return out
}

// UnitNames returns every unit name in insertion order.
func (c *Catalog) UnitNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.unitOrder))
	for _, key := range c.unitOrder {
		out = append(out, c.units[key].Name)
	}
	return out
}

// UnitCount reports how many units the snapshot holds.
func (c *Catalog) UnitCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.units)
}

// TestCount reports the current size of the working test set.
func (c *Catalog) TestCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tests)
}
