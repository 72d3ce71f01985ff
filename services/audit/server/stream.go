// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/TestForge/pkg/validation"
	"github.com/AleutianAI/TestForge/services/audit"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream message types.
const (
	messageProgress = "progress"
	messageDone     = "done"
)

// StreamMessage is one frame on the progress websocket. Progress frames
// carry the flattened event; the final done frame carries the run's
// terminal status.
type StreamMessage struct {
	Type      string `json:"type"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Count     int    `json:"count,omitempty"`
	Status    Status `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func progressMessage(ev audit.ProgressEvent) StreamMessage {
	return StreamMessage{
		Type:      messageProgress,
		Stage:     string(ev.Stage),
		Message:   ev.Message,
		Iteration: ev.Iteration,
		Count:     ev.Count,
	}
}

func doneMessage(state RunState) StreamMessage {
	return StreamMessage{
		Type:   messageDone,
		Status: state.Status,
		Count:  state.Generated,
		Error:  state.Error,
	}
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write websocket JSON", "error", err)
	}
	return err
}

// handleStreamAudit handles GET /api/v1/audits/:id/stream.
//
// # Description
//
// Upgrades to a websocket, replays every progress event the run has
// emitted so far, then forwards live events as they happen. When the run
// finishes a final done frame reports the terminal status and the
// connection closes. Clients connecting after completion get the full
// replay followed immediately by the done frame.
func (s *Server) handleStreamAudit(c *gin.Context) {
	id, err := validation.SanitizeRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid run id",
			Code:  "INVALID_RUN_ID",
		})
		return
	}

	sub, ok := s.tracker.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		s.logger.Error("Failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	defer sub.Cancel()

	recordStreamClient(c.Request.Context())
	s.logger.Info("Stream client connected", slog.String("audit_id", id))

	// The client never sends application frames; the read loop exists to
	// notice the disconnect.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range sub.Replay {
		if sendJSON(ws, progressMessage(ev)) != nil {
			return
		}
	}

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				state, _ := s.tracker.Get(id)
				_ = sendJSON(ws, doneMessage(state))
				return
			}
			if sendJSON(ws, progressMessage(ev)) != nil {
				return
			}
		case <-clientGone:
			s.logger.Info("Stream client disconnected", slog.String("audit_id", id))
			return
		}
	}
}
