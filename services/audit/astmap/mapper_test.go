// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package astmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

const calcSource = "// Package calc implements a tiny calculator.\n" +
	"package calc\n" +
	"\n" +
	"// Calculator accumulates a running total.\n" +
	"type Calculator struct {\n" +
	"\ttotal int\n" +
	"}\n" +
	"\n" +
	"// New returns a zeroed Calculator.\n" +
	"func New() *Calculator {\n" +
	"\treturn &Calculator{}\n" +
	"}\n" +
	"\n" +
	"// Add increases the running total by n.\n" +
	"// It returns the new total.\n" +
	"func (c *Calculator) Add(n int) int {\n" +
	"\tc.total += n\n" +
	"\treturn c.total\n" +
	"}\n" +
	"\n" +
	"func Sum(xs []int) int {\n" +
	"\ttotal := 0\n" +
	"\tfor _, x := range xs {\n" +
	"\t\ttotal += x\n" +
	"\t}\n" +
	"\treturn total\n" +
	"}\n"

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func unitByName(t *testing.T, units []catalog.CodeUnit, name string) catalog.CodeUnit {
	t.Helper()
	for _, u := range units {
		if u.Name == name {
			return u
		}
	}
	t.Fatalf("unit %q not found in %d units", name, len(units))
	return catalog.CodeUnit{}
}

func TestMapUnits_ExtractsAllKinds(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/calc.go", calcSource)

	units, err := NewMapper(nil).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}
	if len(units) != 5 {
		t.Fatalf("MapUnits returned %d units, want 5", len(units))
	}

	module := units[0]
	if module.Name != "src/calc" || module.Kind != catalog.UnitKindModule {
		t.Errorf("first unit = %q (%s), want module src/calc", module.Name, module.Kind)
	}
	if module.StartLine != 1 {
		t.Errorf("module StartLine = %d, want 1", module.StartLine)
	}
	if module.Docstring != "Package calc implements a tiny calculator." {
		t.Errorf("module Docstring = %q", module.Docstring)
	}

	class := unitByName(t, units, "Calculator")
	if class.Kind != catalog.UnitKindClass {
		t.Errorf("Calculator Kind = %s, want class", class.Kind)
	}
	if class.Signature != "type Calculator struct" {
		t.Errorf("Calculator Signature = %q", class.Signature)
	}
	if class.StartLine != 5 {
		t.Errorf("Calculator StartLine = %d, want 5", class.StartLine)
	}

	fn := unitByName(t, units, "New")
	if fn.Kind != catalog.UnitKindFunction {
		t.Errorf("New Kind = %s, want function", fn.Kind)
	}
	if fn.Signature != "func New() *Calculator" {
		t.Errorf("New Signature = %q", fn.Signature)
	}
	if fn.Docstring != "New returns a zeroed Calculator." {
		t.Errorf("New Docstring = %q", fn.Docstring)
	}

	method := unitByName(t, units, "Calculator.Add")
	if method.Kind != catalog.UnitKindMethod {
		t.Errorf("Calculator.Add Kind = %s, want method", method.Kind)
	}
	if method.Signature != "func (c *Calculator) Add(n int) int" {
		t.Errorf("Calculator.Add Signature = %q", method.Signature)
	}
	if method.Docstring != "Add increases the running total by n.\nIt returns the new total." {
		t.Errorf("Calculator.Add Docstring = %q", method.Docstring)
	}

	sum := unitByName(t, units, "Sum")
	if sum.Signature != "func Sum(xs []int) int" {
		t.Errorf("Sum Signature = %q", sum.Signature)
	}
	if sum.Docstring != "" {
		t.Errorf("Sum Docstring = %q, want empty", sum.Docstring)
	}
	if sum.FilePath != "src/calc.go" {
		t.Errorf("Sum FilePath = %q, want src/calc.go", sum.FilePath)
	}
}

func TestMapUnits_SkipsTestFilesAndExcludedDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "a_test.go", "package a\n\nfunc TestA(t *T) {}\n")
	writeFile(t, root, "vendor/v.go", "package v\n\nfunc V() {}\n")
	writeFile(t, root, "testdata/d.go", "package d\n\nfunc D() {}\n")
	writeFile(t, root, ".hidden/h.go", "package h\n\nfunc H() {}\n")
	writeFile(t, root, "_scratch/s.go", "package s\n\nfunc S() {}\n")
	writeFile(t, root, "notes.txt", "not go\n")

	units, err := NewMapper(nil).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("MapUnits returned %d units, want 2 (module a + func A)", len(units))
	}
	if units[0].Name != "a" || units[1].Name != "A" {
		t.Errorf("units = [%q, %q], want [a, A]", units[0].Name, units[1].Name)
	}
}

func TestMapUnits_ModuleUnitUsesSlashPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "pkg/util/strings.go", "package util\n\nfunc Trim() {}\n")

	units, err := NewMapper(nil).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}

	module := unitByName(t, units, "pkg/util/strings")
	if module.Kind != catalog.UnitKindModule {
		t.Errorf("Kind = %s, want module", module.Kind)
	}
	if module.FilePath != "pkg/util/strings.go" {
		t.Errorf("FilePath = %q", module.FilePath)
	}
}

func TestMapUnits_SkipsUnparseableFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "good.go", "package good\n\nfunc Fine() {}\n")
	if err := os.WriteFile(filepath.Join(root, "bad.go"), []byte{0xff, 0xfe, 0x80}, 0o644); err != nil {
		t.Fatalf("write bad.go: %v", err)
	}

	units, err := NewMapper(nil).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("MapUnits returned %d units, want 2 from good.go", len(units))
	}
}

func TestMapUnits_RejectsOversizedFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "big.go", "package big\n\nfunc Huge() {}\n")

	units, err := NewMapper(nil).WithMaxFileSize(8).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("MapUnits returned %d units, want 0 for oversized file", len(units))
	}
}

func TestMapUnits_RootMustBeDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	file := filepath.Join(root, "plain.go")
	writeFile(t, root, "plain.go", "package plain\n")

	_, err := NewMapper(nil).MapUnits(context.Background(), file)
	if !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("err = %v, want ErrNotDirectory", err)
	}

	if _, err := NewMapper(nil).MapUnits(context.Background(), filepath.Join(root, "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestMapUnits_Cancellation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMapper(nil).MapUnits(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReceiverTypeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		receiver string
		want     string
	}{
		{"(c *Calculator)", "Calculator"},
		{"(s Server)", "Server"},
		{"(c *Cache[K, V])", "Cache"},
		{"(Plain)", "Plain"},
		{"()", ""},
		{"", ""},
	}

	for _, tc := range tests {
		if got := receiverTypeName(tc.receiver); got != tc.want {
			t.Errorf("receiverTypeName(%q) = %q, want %q", tc.receiver, got, tc.want)
		}
	}
}

func TestMapUnits_GenericMethodReceiver(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "cache.go", "package cache\n"+
		"\n"+
		"type Cache[K comparable, V any] struct {\n"+
		"\titems map[K]V\n"+
		"}\n"+
		"\n"+
		"func (c *Cache[K, V]) Get(k K) (V, bool) {\n"+
		"\tv, ok := c.items[k]\n"+
		"\treturn v, ok\n"+
		"}\n")

	units, err := NewMapper(nil).MapUnits(context.Background(), root)
	if err != nil {
		t.Fatalf("MapUnits: %v", err)
	}

	method := unitByName(t, units, "Cache.Get")
	if method.Kind != catalog.UnitKindMethod {
		t.Errorf("Kind = %s, want method", method.Kind)
	}

	class := unitByName(t, units, "Cache")
	if class.Signature != "type Cache struct" {
		t.Errorf("Cache Signature = %q", class.Signature)
	}
}
