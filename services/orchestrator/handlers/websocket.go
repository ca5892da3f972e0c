// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/services"
)

// WSRequest is one chat request on the websocket.
type WSRequest struct {
	RequestID string              `json:"request_id,omitempty"`
	Messages  []datatypes.Message `json:"messages"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// maxWSMessageBytes bounds a single websocket request.
const maxWSMessageBytes = 4 * 1024 * 1024

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket answers conversations over a websocket.
//
// # Description
//
// Every text message is a WSRequest holding the whole conversation. Replies
// are StreamEvent frames: sources, token..., then done or error. Requests on
// one connection are answered one at a time. A failed write stops the turn
// in progress.
func (h *ChatHandler) HandleChatWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxWSMessageBytes)

	connID := uuid.NewString()
	logger := slog.With("connectionId", connID)
	logger.Info("Websocket client connected")

	ctx := c.Request.Context()
	endpoint := observability.EndpointChatWS

	for {
		var req WSRequest
		if err := ws.ReadJSON(&req); err != nil {
			logger.Info("Websocket client disconnected", "error", err.Error())
			return
		}

		chatReq := datatypes.ChatRequest{RequestID: req.RequestID, Messages: req.Messages}
		if err := chatReq.Validate(); err != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			if sendJSON(ws, datatypes.StreamEvent{
				Type:   datatypes.EventError,
				Error:  "invalid request: validation failed",
				Status: http.StatusBadRequest,
			}) != nil {
				return
			}
			continue
		}
		chatReq.EnsureDefaults()

		if !h.answerWebSocket(ctx, ws, &chatReq, logger) {
			return
		}
	}
}

// answerWebSocket runs one turn. It returns false when the connection is unusable.
func (h *ChatHandler) answerWebSocket(ctx context.Context, ws *websocket.Conn, req *datatypes.ChatRequest, logger *slog.Logger) bool {
	endpoint := observability.EndpointChatWS
	startTime := time.Now()
	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	fail := func(err error) bool {
		h.metrics.RecordError(endpoint, errorCode(err))
		logger.Error("Chat turn failed", "error", err, "requestId", req.RequestID)
		return sendJSON(ws, datatypes.StreamEvent{
			Type:      datatypes.EventError,
			Error:     services.PublicMessage(err),
			Status:    services.StatusCode(err),
			RequestId: req.RequestID,
		}) == nil
	}

	turn, err := h.service.Prepare(ctx, req.Messages)
	if err != nil {
		return fail(err)
	}

	if sendJSON(ws, datatypes.StreamEvent{
		Type:      datatypes.EventSources,
		Sources:   datatypes.ToSourceDocuments(turn.Sources),
		Topic:     string(turn.Classification.Topic),
		RequestId: req.RequestID,
	}) != nil {
		return false
	}

	first := true
	_, err = h.service.Stream(ctx, turn, func(token string) error {
		if first {
			first = false
			h.metrics.RecordTimeToFirstToken(endpoint, time.Since(startTime).Seconds())
		}
		return ws.WriteJSON(datatypes.StreamEvent{Type: datatypes.EventToken, Content: token})
	})
	if err != nil {
		if services.StatusCode(err) == services.StatusClientClosedRequest {
			h.metrics.RecordClientDisconnect(endpoint)
			return false
		}
		return fail(err)
	}

	success = true
	return sendJSON(ws, datatypes.StreamEvent{Type: datatypes.EventDone, RequestId: req.RequestID}) == nil
}
