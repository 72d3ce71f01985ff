// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package astmap performs the structural analysis of an audited project:
// it walks the project tree, parses Go sources with tree-sitter, and
// produces the catalog's code units and discovered test cases.
package astmap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/TestForge/services/audit/catalog"
)

// File size constants for input validation.
const (
	// DefaultMaxFileSize is the maximum file size the mapper will parse (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold at which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

var (
	// ErrNotDirectory is returned when the analysis root is not a directory.
	ErrNotDirectory = errors.New("analysis root is not a directory")

	// ErrFileTooLarge is returned when a source file exceeds the maximum size.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrInvalidSource is returned when a source file is not valid UTF-8.
	ErrInvalidSource = errors.New("source is not valid UTF-8")

	// ErrEmptyTree is returned when tree-sitter yields no root node.
	ErrEmptyTree = errors.New("parser returned an empty tree")
)

// Mapper enumerates the code units of a Go project.
//
// # Description
//
// Mapper walks the project root, parses every non-test .go file with
// tree-sitter, and emits one module unit per file plus one unit per
// top-level type, function, and method declaration. Files that cannot be
// read or parsed are skipped with a warning so a single damaged file
// never sinks the whole analysis.
//
// # Thread Safety
//
// Mapper is safe for concurrent use; each MapUnits call creates its own
// tree-sitter parser instance.
type Mapper struct {
	logger      *slog.Logger
	maxFileSize int64
}

// NewMapper creates a Mapper. A nil logger falls back to slog.Default().
func NewMapper(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		logger:      logger,
		maxFileSize: DefaultMaxFileSize,
	}
}

// WithMaxFileSize overrides the per-file size limit. Non-positive values
// are ignored. Returns the mapper for chaining.
func (m *Mapper) WithMaxFileSize(bytes int64) *Mapper {
	if bytes > 0 {
		m.maxFileSize = bytes
	}
	return m
}

// MapUnits walks root and returns every code unit found.
//
// # Description
//
// For each non-test .go file the mapper emits a module unit named after
// the file's slash-separated path without the .go extension, then one
// unit per top-level declaration: type declarations become classes,
// function declarations become functions, and method declarations become
// methods named "Type.Method". Vendor, testdata, and hidden directories
// are not descended into.
//
// # Inputs
//   - ctx: cancellation; checked per file.
//   - root: project directory to analyze.
//
// # Outputs
//   - []catalog.CodeUnit: units in walk order. Never nil on success.
//   - error: non-nil when the root is unusable or the walk is cancelled.
//     Per-file read and parse failures are logged and skipped instead.
func (m *Mapper) MapUnits(ctx context.Context, root string) ([]catalog.CodeUnit, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.Start(ctx, "Mapper.MapUnits")
	defer span.End()
	span.SetAttributes(attribute.String("root", root))

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat analysis root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	units := make([]catalog.CodeUnit, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			m.logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skippableDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !isSourceFile(d.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fileUnits, err := m.mapFile(ctx, root, path)
		if err != nil {
			recordFileParsed(ctx, false)
			m.logger.Warn("skipping unparseable file", "path", path, "error", err)
			return nil
		}
		recordFileParsed(ctx, true)
		units = append(units, fileUnits...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk analysis root: %w", err)
	}

	span.SetAttributes(attribute.Int("units", len(units)))
	recordUnitsMapped(ctx, len(units))
	m.logger.Info("mapped code units", "root", root, "units", len(units))
	return units, nil
}

// mapFile parses one source file and extracts its units.
func (m *Mapper) mapFile(ctx context.Context, root, path string) ([]catalog.CodeUnit, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	rootNode, cleanup, err := parseGoSource(ctx, m.logger, content, rel, m.maxFileSize)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	units := make([]catalog.CodeUnit, 0, 8)

	// The file itself is a module unit; its doc comment is the package doc.
	module := catalog.CodeUnit{
		Name:      strings.TrimSuffix(rel, ".go"),
		Kind:      catalog.UnitKindModule,
		FilePath:  rel,
		StartLine: 1,
		EndLine:   strings.Count(string(content), "\n") + 1,
	}
	for i := 0; i < int(rootNode.ChildCount()); i++ {
		child := rootNode.Child(i)
		if child.Type() == "package_clause" {
			module.Docstring = precedingComment(rootNode, child, content)
			break
		}
	}
	units = append(units, module)

	for i := 0; i < int(rootNode.ChildCount()); i++ {
		child := rootNode.Child(i)
		switch child.Type() {
		case "function_declaration":
			if u, ok := functionUnit(rootNode, child, content, rel); ok {
				units = append(units, u)
			}
		case "method_declaration":
			if u, ok := methodUnit(rootNode, child, content, rel); ok {
				units = append(units, u)
			}
		case "type_declaration":
			units = append(units, typeUnits(rootNode, child, content, rel)...)
		}
	}

	return units, nil
}

// parseGoSource validates and parses Go source, returning the root node
// and a cleanup function that releases the tree.
func parseGoSource(ctx context.Context, logger *slog.Logger, content []byte, path string, maxFileSize int64) (*sitter.Node, func(), error) {
	if int64(len(content)) > maxFileSize {
		return nil, nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize)
	}
	if len(content) > WarnFileSize {
		logger.Warn("parsing large file", "path", path, "size_bytes", len(content))
	}
	if !utf8.Valid(content) {
		return nil, nil, ErrInvalidSource
	}

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}

	rootNode := tree.RootNode()
	if rootNode == nil {
		tree.Close()
		return nil, nil, ErrEmptyTree
	}
	if rootNode.HasError() {
		// Tree-sitter is error-tolerant; extract what it recovered.
		logger.Debug("source contains syntax errors", "path", path)
	}

	return rootNode, func() { tree.Close() }, nil
}

// functionUnit extracts one top-level function declaration.
func functionUnit(root, node *sitter.Node, content []byte, filePath string) (catalog.CodeUnit, bool) {
	var name, params, returns string

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = string(content[child.StartByte():child.EndByte()])
		case "parameter_list":
			// First parameter_list is params, a second one is return types.
			plist := string(content[child.StartByte():child.EndByte()])
			if params == "" {
				params = plist
			} else {
				returns = plist
			}
		case "type_identifier", "pointer_type", "slice_type", "map_type",
			"channel_type", "qualified_type", "interface_type", "struct_type",
			"function_type":
			returns = string(content[child.StartByte():child.EndByte()])
		}
	}

	if name == "" {
		return catalog.CodeUnit{}, false
	}

	signature := fmt.Sprintf("func %s%s", name, params)
	if returns != "" {
		signature += " " + returns
	}

	return catalog.CodeUnit{
		Name:      name,
		Kind:      catalog.UnitKindFunction,
		FilePath:  filePath,
		StartLine: int(node.StartPoint().Row + 1),
		EndLine:   int(node.EndPoint().Row + 1),
		Signature: signature,
		Docstring: precedingComment(root, node, content),
	}, true
}

// methodUnit extracts one method declaration, qualified as "Type.Method".
func methodUnit(root, node *sitter.Node, content []byte, filePath string) (catalog.CodeUnit, bool) {
	var name, receiver, params, returns string

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "parameter_list":
			// First parameter_list is the receiver, second is params,
			// a third one is return types.
			plist := string(content[child.StartByte():child.EndByte()])
			switch {
			case receiver == "":
				receiver = plist
			case params == "":
				params = plist
			default:
				returns = plist
			}
		case "field_identifier":
			name = string(content[child.StartByte():child.EndByte()])
		case "type_identifier", "pointer_type", "slice_type", "map_type",
			"channel_type", "qualified_type":
			returns = string(content[child.StartByte():child.EndByte()])
		}
	}

	recvType := receiverTypeName(receiver)
	if name == "" || recvType == "" {
		return catalog.CodeUnit{}, false
	}

	signature := fmt.Sprintf("func %s %s%s", receiver, name, params)
	if returns != "" {
		signature += " " + returns
	}

	return catalog.CodeUnit{
		Name:      recvType + "." + name,
		Kind:      catalog.UnitKindMethod,
		FilePath:  filePath,
		StartLine: int(node.StartPoint().Row + 1),
		EndLine:   int(node.EndPoint().Row + 1),
		Signature: signature,
		Docstring: precedingComment(root, node, content),
	}, true
}

// typeUnits extracts every type_spec inside a type declaration.
func typeUnits(root, node *sitter.Node, content []byte, filePath string) []catalog.CodeUnit {
	units := make([]catalog.CodeUnit, 0, 1)

	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != "type_spec" {
			continue
		}

		var name, kindWord string
		for j := 0; j < int(spec.ChildCount()); j++ {
			child := spec.Child(j)
			switch child.Type() {
			case "type_identifier":
				if name == "" {
					name = string(content[child.StartByte():child.EndByte()])
				}
			case "struct_type":
				kindWord = "struct"
			case "interface_type":
				kindWord = "interface"
			}
		}
		if name == "" {
			continue
		}

		signature := "type " + name
		if kindWord != "" {
			signature += " " + kindWord
		}

		units = append(units, catalog.CodeUnit{
			Name:      name,
			Kind:      catalog.UnitKindClass,
			FilePath:  filePath,
			StartLine: int(spec.StartPoint().Row + 1),
			EndLine:   int(spec.EndPoint().Row + 1),
			Signature: signature,
			// Doc comment hangs off the declaration, not the type_spec node.
			Docstring: precedingComment(root, node, content),
		})
	}

	return units
}

// receiverTypeName reduces a receiver parameter list like "(c *Cache[K, V])"
// to the bare type name "Cache".
func receiverTypeName(receiver string) string {
	inner := strings.TrimSpace(strings.Trim(receiver, "()"))
	if i := strings.IndexByte(inner, '['); i >= 0 {
		inner = inner[:i]
	}
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[len(fields)-1], "*")
}

// precedingComment extracts the doc comment block immediately above a
// top-level node. Consecutive comment lines are joined; comment markers
// are stripped.
func precedingComment(root, node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}

	nodeStartLine := int(node.StartPoint().Row)
	var lines []string
	blockEnd := -2

	for i := 0; i < int(root.ChildCount()); i++ {
		sibling := root.Child(i)
		if sibling.Type() != "comment" {
			continue
		}
		startLine := int(sibling.StartPoint().Row)
		endLine := int(sibling.EndPoint().Row)
		if startLine != blockEnd+1 {
			lines = lines[:0]
		}
		lines = append(lines, commentText(string(content[sibling.StartByte():sibling.EndByte()]))...)
		blockEnd = endLine

		// The block must end on the line directly above the node.
		if endLine == nodeStartLine-1 || endLine == nodeStartLine {
			return strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	return ""
}

// commentText strips comment markers and returns the cleaned lines.
func commentText(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/*") {
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "/*"), "*/")
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "//"))
		out = append(out, line)
	}
	return out
}

// skippableDir reports whether a directory should not be descended into.
func skippableDir(name string) bool {
	if name == "" {
		return false
	}
	if name[0] == '.' || name[0] == '_' {
		return true
	}
	switch name {
	case "vendor", "testdata", "node_modules":
		return true
	}
	return false
}

// isSourceFile reports whether name is a non-test Go source file.
func isSourceFile(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

// isTestFile reports whether name is a Go test file.
func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go")
}
