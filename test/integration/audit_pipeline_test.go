// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package integration exercises the system across package seams: a config
// file driving a full audit with persistent storage, and the API server
// reading the history that run left behind.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/server"
	"github.com/AleutianAI/TestForge/services/audit/storage"
	"github.com/AleutianAI/TestForge/services/llm"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// The fixture maps to the shapes module, the Rect class, the Area method,
// and the Perimeter function. Only Perimeter has an existing test.
const shapesSource = `// Package shapes measures simple figures.
package shapes

// Rect is an axis-aligned rectangle.
type Rect struct {
	W, H int
}

// Area returns the rectangle surface.
func (r Rect) Area() int {
	return r.W * r.H
}

// Perimeter returns the rectangle outline length.
func Perimeter(r Rect) int {
	return 2 * (r.W + r.H)
}
`

const shapesTestSource = `package shapes

import "testing"

func TestPerimeter(t *testing.T) {
	if Perimeter(Rect{W: 2, H: 3}) != 10 {
		t.Fatal("bad perimeter")
	}
}
`

// configYAML is the file an operator would keep next to the repository.
const configYAML = `project_name: shapesproj
oracle:
  provider: ollama
loop:
  max_iterations: 2
  acceptance_threshold: 7
  targets_per_iteration: 5
  clarity_sample: 10
mutation:
  enabled: false
logging:
  quiet: true
`

const generatedReply = "```go\n" +
	"// TestRectScenario exercises the unit end to end.\n" +
	"func TestRectScenario(t *testing.T) {\n" +
	"\tmock := newMockRect()\n" +
	"\tassert.NotNil(t, mock)\n" +
	"\tassert.Equal(t, 6, mock.Area())\n" +
	"\trequire.NoError(t, mock.Err())\n" +
	"}\n" +
	"```"

const acceptingJudgeReply = `Coverage completeness: 9
Test case variety: 8
Assertion quality: 9
Mocking effectiveness: 8
Code readability: 9
Documentation quality: 9
Solid test.`

func scriptedOracle() *llm.ScriptedOracle {
	oracle := llm.NewScriptedOracle()
	oracle.RespondFn = func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Generate a comprehensive Go unit test"):
			return generatedReply, nil
		case strings.Contains(prompt, "Evaluate the following test case"):
			return acceptingJudgeReply, nil
		case strings.Contains(prompt, "Rate the clarity"):
			return "8", nil
		case strings.Contains(prompt, "Generate a comprehensive audit report"):
			return "# Audit Narrative\n\nCoverage rose.", nil
		default:
			return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
		}
	}
	return oracle
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestFullAudit_ConfigToHistory runs the pipeline the way the CLI wires it
// (config file, badger run store, scripted oracle), then opens the same
// data dir as a fresh process and serves the persisted run over the API.
func TestFullAudit_ConfigToHistory(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	data := filepath.Join(t.TempDir(), "data")

	writeFile(t, filepath.Join(root, "src", "shapes.go"), shapesSource)
	writeFile(t, filepath.Join(root, "src", "shapes_test.go"), shapesTestSource)
	cfgPath := filepath.Join(t.TempDir(), "testforge.yaml")
	writeFile(t, cfgPath, configYAML)

	// Load the file the way the CLI does, then resolve paths.
	cfg, err := audit.LoadBaseConfig(cfgPath)
	require.NoError(t, err)
	cfg.ProjectPath = root
	cfg.OutputDir = out
	cfg.DataDir = data
	cfg.ApplyFallbacks()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Loop.MaxIterations)
	assert.Equal(t, root, cfg.TestPath)

	db, err := storage.Open(storage.DefaultConfig(data))
	require.NoError(t, err)
	runs := storage.NewRunStore(db, nil)

	auditor := audit.NewAuditor(cfg, scriptedOracle(), nil).WithRunStore(runs)
	rep, err := auditor.RunFullAudit(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rep.RunID)
	assert.Equal(t, "shapesproj", rep.ProjectName)
	assert.Equal(t, 4, rep.Codebase.TotalUnits)
	assert.Greater(t, rep.AfterMetrics.CoveragePercentage, rep.BeforeMetrics.CoveragePercentage)
	assert.NotEmpty(t, rep.GeneratedTests)
	assert.Nil(t, rep.BeforeMutation)

	// Artifacts land under the output dir.
	reports, err := filepath.Glob(filepath.Join(out, "reports", "audit_report_*.md"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	snapshots, err := filepath.Glob(filepath.Join(out, "reports", "audit_data_*.json"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
	generated, err := filepath.Glob(filepath.Join(out, "generated", "*_test.go"))
	require.NoError(t, err)
	assert.NotEmpty(t, generated)

	require.NoError(t, db.Close())

	// A new process opens the same data dir and finds the run.
	db2, err := storage.Open(storage.DefaultConfig(data))
	require.NoError(t, err)
	defer db2.Close()
	runs2 := storage.NewRunStore(db2, nil)

	stored, err := runs2.Get(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.ProjectName, stored.ProjectName)
	assert.Equal(t, len(rep.GeneratedTests), len(stored.GeneratedTests))

	summaries, err := runs2.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, rep.RunID, summaries[0].RunID)

	// The server resolves the historical run through the reopened store.
	srv := server.NewServer(cfg, nil, runs2, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/audits/"+rep.RunID, nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp server.GetAuditResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, server.StatusCompleted, resp.State.Status)
	require.NotNil(t, resp.Report)
	assert.Equal(t, rep.RunID, resp.Report.RunID)
}
