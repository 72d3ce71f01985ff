// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/TestForge/services/audit"
	"github.com/AleutianAI/TestForge/services/audit/catalog"
	"github.com/AleutianAI/TestForge/services/audit/storage"
	"github.com/AleutianAI/TestForge/services/llm"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

// calcSource maps to exactly five units: the src/calc module, the
// Calculator class, functions New and Sum, and method Calculator.Add.
const calcSource = `// Package calc implements a tiny calculator.
package calc

// Calculator accumulates a running total.
type Calculator struct {
	total int
}

// New returns a zeroed Calculator.
func New() *Calculator {
	return &Calculator{}
}

// Add increases the running total by n.
func (c *Calculator) Add(n int) int {
	c.total += n
	return c.total
}

// Sum adds all xs.
func Sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
`

// calcTestSource covers Sum with an assertion-free check, leaving it
// counted as covered but low-quality.
const calcTestSource = `package calc

import "testing"

// TestSum checks the happy path.
func TestSum(t *testing.T) {
	if Sum([]int{1, 2}) != 3 {
		t.Fatal("bad sum")
	}
}
`

// generatedReply carries three assertion-like calls and a mock so accepted
// tests never requalify as targets.
const generatedReply = "```go\n" +
	"// TestScenario exercises the unit end to end.\n" +
	"func TestScenario(t *testing.T) {\n" +
	"\tmock := newMockThing()\n" +
	"\tassert.NotNil(t, mock)\n" +
	"\tassert.Equal(t, 1, mock.Count())\n" +
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

// pipelineOracle answers each pipeline prompt by shape.
func pipelineOracle() *llm.ScriptedOracle {
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
			return "# Audit Narrative\n\nEverything improved.", nil
		default:
			return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
		}
	}
	return oracle
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// calcProject writes the five-unit fixture plus its one existing test.
func calcProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeProjectFile(t, root, "src/calc.go", calcSource)
	writeProjectFile(t, root, "src/calc_test.go", calcTestSource)
	return root
}

// baseConfig is the server-side configuration the tests start from:
// no persistence defaults, no mutation tool.
func baseConfig() audit.Config {
	cfg := audit.Defaults()
	cfg.DataDir = ""
	cfg.Mutation.Enabled = false
	return cfg
}

// newTestServer builds a server around the scripted oracle, optionally
// with an in-memory run store.
func newTestServer(t *testing.T, withStore bool) (*Server, *storage.RunStore) {
	t.Helper()

	var store *storage.RunStore
	if withStore {
		db, err := storage.Open(storage.InMemoryConfig())
		if err != nil {
			t.Fatalf("open storage: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		store = storage.NewRunStore(db, nil)
	}

	return NewServer(baseConfig(), pipelineOracle(), store, nil), store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// startAudit posts a run for the fixture project and returns its id.
func startAudit(t *testing.T, srv *Server, root, out string) string {
	t.Helper()
	body := fmt.Sprintf(`{"project_path": %q, "output_dir": %q, "project_name": "calcproj", "max_iterations": 2}`,
		root, out)
	w := doJSON(t, srv.Router(), "POST", "/api/v1/audits", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/audits = %d, body %s", w.Code, w.Body.String())
	}
	var resp StartAuditResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("start response has no id")
	}
	if resp.Status != StatusRunning {
		t.Fatalf("start status = %q, want %q", resp.Status, StatusRunning)
	}
	return resp.ID
}

// waitForRun polls the run until it leaves the running state.
func waitForRun(t *testing.T, srv *Server, id string) GetAuditResponse {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, srv.Router(), "GET", "/api/v1/audits/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET /api/v1/audits/%s = %d, body %s", id, w.Code, w.Body.String())
		}
		var resp GetAuditResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode run response: %v", err)
		}
		if resp.State.Status != StatusRunning {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", id)
	return GetAuditResponse{}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	w := doJSON(t, srv.Router(), "GET", "/healthz", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("version = %q, want %q", resp.Version, ServiceVersion)
	}
	if resp.ActiveRuns != 0 {
		t.Errorf("active_runs = %d, want 0", resp.ActiveRuns)
	}
}

func TestHandleMetrics_ExporterInactive(t *testing.T) {
	t.Parallel()

	// telemetry.Init never ran in this process, so the Prometheus
	// handler is absent.
	srv, _ := newTestServer(t, false)
	w := doJSON(t, srv.Router(), "GET", "/metrics", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "METRICS_DISABLED" {
		t.Errorf("code = %q, want METRICS_DISABLED", resp.Code)
	}
}

func TestStartAudit_BadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	missing := filepath.Join(t.TempDir(), "gone")

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     `{"project_path": `,
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "missing project path",
			body:     `{}`,
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "iterations out of range",
			body:     `{"project_path": "/tmp", "max_iterations": 99}`,
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "relative path",
			body:     `{"project_path": "some/relative/path"}`,
			wantCode: "INVALID_PATH",
		},
		{
			name:     "nonexistent path",
			body:     fmt.Sprintf(`{"project_path": %q}`, missing),
			wantCode: "PROJECT_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv.Router(), "POST", "/api/v1/audits", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestStartAudit_RunsToCompletion(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, true)
	root := calcProject(t)
	out := t.TempDir()

	id := startAudit(t, srv, root, out)
	final := waitForRun(t, srv, id)

	if final.State.Status != StatusCompleted {
		t.Fatalf("final status = %q (error %q), want %q", final.State.Status, final.State.Error, StatusCompleted)
	}
	if final.State.Generated != 5 {
		t.Errorf("generated = %d, want 5", final.State.Generated)
	}
	if final.Report == nil {
		t.Fatal("completed run has no report")
	}
	if final.Report.RunID != id {
		t.Errorf("report RunID = %q, want the accepted id %q", final.Report.RunID, id)
	}
	if final.Report.ProjectName != "calcproj" {
		t.Errorf("report ProjectName = %q, want calcproj", final.Report.ProjectName)
	}
	if final.Report.AfterMetrics.CoveragePercentage != 100.0 {
		t.Errorf("after coverage = %v, want 100.0", final.Report.AfterMetrics.CoveragePercentage)
	}

	// The run is also in persisted history under the same id.
	w := doJSON(t, srv.Router(), "GET", "/api/v1/audits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET list = %d", w.Code)
	}
	var list ListAuditsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list.Active) != 0 {
		t.Errorf("active = %d, want 0", len(list.Active))
	}
	if len(list.History) != 1 || list.History[0].RunID != id {
		t.Fatalf("history = %+v, want one entry for %s", list.History, id)
	}
	if list.History[0].GeneratedTests != 5 {
		t.Errorf("history generated = %d, want 5", list.History[0].GeneratedTests)
	}

	// And retrievable directly from the store.
	if _, err := store.Get(context.Background(), id); err != nil {
		t.Errorf("store.Get(%s): %v", id, err)
	}
}

func TestStartAudit_WithoutStore(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	root := calcProject(t)
	out := t.TempDir()

	id := startAudit(t, srv, root, out)
	final := waitForRun(t, srv, id)

	if final.State.Status != StatusCompleted {
		t.Fatalf("final status = %q (error %q)", final.State.Status, final.State.Error)
	}
	if final.Report != nil {
		t.Error("report should be absent without a run store")
	}

	w := doJSON(t, srv.Router(), "GET", "/api/v1/audits", "")
	var list ListAuditsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list.History) != 0 {
		t.Errorf("history = %d entries, want 0 without a store", len(list.History))
	}
}

func TestStartAudit_FailedRunIsReported(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	root := calcProject(t)

	// A regular file where the reports directory must go fails the
	// report-write stage.
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "reports"), []byte("in the way"), 0o644); err != nil {
		t.Fatalf("plant blocking file: %v", err)
	}

	id := startAudit(t, srv, root, out)
	final := waitForRun(t, srv, id)

	if final.State.Status != StatusFailed {
		t.Fatalf("final status = %q, want %q", final.State.Status, StatusFailed)
	}
	if !strings.Contains(final.State.Error, "write report") {
		t.Errorf("error = %q, want a write report failure", final.State.Error)
	}
}

func TestGetAudit_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)
	w := doJSON(t, srv.Router(), "GET", "/api/v1/audits/no-such-run", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "RUN_NOT_FOUND" {
		t.Errorf("code = %q, want RUN_NOT_FOUND", resp.Code)
	}
}

func TestGetAudit_InvalidID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, true)

	// ':' never appears in ids the server mints or accepts, and would
	// collide with the store's key scheme.
	for _, path := range []string{
		"/api/v1/audits/run:abc",
		"/api/v1/audits/run:abc/stream",
	} {
		w := doJSON(t, srv.Router(), "GET", path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want %d", path, w.Code, http.StatusBadRequest)
			continue
		}
		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.Code != "INVALID_RUN_ID" {
			t.Errorf("GET %s code = %q, want INVALID_RUN_ID", path, resp.Code)
		}
	}
}

func TestGetAudit_HistoricalRun(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, true)

	// A run persisted by an earlier server process.
	rep := catalog.AuditReport{
		RunID:       "hist-1",
		ProjectName: "oldproj",
		Timestamp:   time.Now().UTC().Add(-24 * time.Hour),
		GeneratedTests: []catalog.TestCase{
			{Name: "TestOld_Generated"},
		},
	}
	if err := store.Put(context.Background(), rep); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	w := doJSON(t, srv.Router(), "GET", "/api/v1/audits/hist-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp GetAuditResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode run response: %v", err)
	}
	if resp.State.Status != StatusCompleted {
		t.Errorf("synthesized status = %q, want %q", resp.State.Status, StatusCompleted)
	}
	if resp.State.Project != "oldproj" {
		t.Errorf("synthesized project = %q, want oldproj", resp.State.Project)
	}
	if resp.State.Generated != 1 {
		t.Errorf("synthesized generated = %d, want 1", resp.State.Generated)
	}
	if resp.Report == nil || resp.Report.RunID != "hist-1" {
		t.Errorf("report = %+v, want run hist-1", resp.Report)
	}
}

func TestRunConfig_MergesOverrides(t *testing.T) {
	t.Parallel()

	base := baseConfig()
	base.SkipGenerate = true
	base.Exclude = []string{"vendor"}
	srv := NewServer(base, nil, nil, nil)

	cfg := srv.runConfig(StartAuditRequest{
		ProjectPath:   "/work/proj",
		ProjectName:   "proj",
		Exclude:       []string{"thirdparty"},
		SkipMutation:  true,
		MaxIterations: 7,
	})

	if cfg.ProjectPath != "/work/proj" {
		t.Errorf("ProjectPath = %q", cfg.ProjectPath)
	}
	if cfg.TestPath != "/work/proj" || cfg.OutputDir != "/work/proj" {
		t.Errorf("fallbacks not applied: TestPath=%q OutputDir=%q", cfg.TestPath, cfg.OutputDir)
	}
	if !cfg.SkipGenerate {
		t.Error("request must not re-enable generation the operator disabled")
	}
	if cfg.Mutation.Enabled {
		t.Error("SkipMutation did not disable mutation")
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", cfg.Loop.MaxIterations)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0] != "thirdparty" {
		t.Errorf("Exclude = %v, want request override", cfg.Exclude)
	}
}

func TestRunConfig_ResolvesProjectName(t *testing.T) {
	t.Parallel()

	srv := NewServer(baseConfig(), nil, nil, nil)
	root := calcProject(t)

	cfg := srv.runConfig(StartAuditRequest{ProjectPath: root})
	if cfg.ProjectName != filepath.Base(root) {
		t.Errorf("ProjectName = %q, want directory base %q", cfg.ProjectName, filepath.Base(root))
	}
}
