// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/TestForge/services/audit"
)

// dialStream connects a websocket client to the run's stream endpoint.
func dialStream(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/audits/" + id + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// collectStream reads frames until the done frame arrives.
func collectStream(t *testing.T, conn *websocket.Conn) (progress []StreamMessage, done StreamMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if msg.Type == messageDone {
			return progress, msg
		}
		if msg.Type != messageProgress {
			t.Fatalf("unexpected frame type %q", msg.Type)
		}
		progress = append(progress, msg)
	}
}

func TestStreamAudit_LiveRun(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	root := calcProject(t)
	id := startAudit(t, srv, root, t.TempDir())

	conn := dialStream(t, ts, id)
	progress, done := collectStream(t, conn)

	if done.Status != StatusCompleted {
		t.Fatalf("done status = %q (error %q), want %q", done.Status, done.Error, StatusCompleted)
	}
	if done.Count != 5 {
		t.Errorf("done count = %d, want 5 accepted tests", done.Count)
	}

	stages := make(map[string]bool)
	for _, msg := range progress {
		stages[msg.Stage] = true
	}
	for _, want := range []audit.Stage{
		audit.StageMap,
		audit.StageDiscover,
		audit.StageAssessBefore,
		audit.StageImprove,
		audit.StageAssessAfter,
		audit.StageReport,
	} {
		if !stages[string(want)] {
			t.Errorf("no progress frame for stage %s (got %v)", want, stages)
		}
	}
}

func TestStreamAudit_FinishedRunReplays(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	root := calcProject(t)
	id := startAudit(t, srv, root, t.TempDir())
	waitForRun(t, srv, id)

	// Connecting after completion still yields the full event history.
	conn := dialStream(t, ts, id)
	progress, done := collectStream(t, conn)

	if len(progress) == 0 {
		t.Fatal("no replayed progress frames")
	}
	if progress[0].Stage != string(audit.StageMap) {
		t.Errorf("first replayed stage = %q, want %q", progress[0].Stage, audit.StageMap)
	}
	last := progress[len(progress)-1]
	if !strings.Contains(last.Message, "Audit complete") {
		t.Errorf("last frame message = %q, want the completion message", last.Message)
	}
	if done.Status != StatusCompleted {
		t.Errorf("done status = %q, want %q", done.Status, StatusCompleted)
	}
}

func TestStreamAudit_UnknownRun(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/audits/no-such-run/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial err = %v, want bad handshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
	resp.Body.Close()
}
