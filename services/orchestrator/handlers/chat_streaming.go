// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the answering pipeline over HTTP.
//
// # Endpoints
//
//	POST /v1/chat/stream  SSE: status, sources, token..., done | error
//	POST /v1/chat         plain streamed text, sources in X-Sources
//	GET  /v1/chat/ws      websocket, one request per message
//	POST /v1/documents    knowledge ingestion
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/services"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval stays well under typical LB idle timeouts (60s).
	heartbeatInterval = 15 * time.Second

	// HeaderSources carries base64(JSON) sources on the plain text endpoint.
	HeaderSources = "X-Sources"

	// HeaderMessageIndex is the index the answer will take in the conversation.
	HeaderMessageIndex = "X-Message-Index"

	// HeaderAnswerError is a trailer of the plain text endpoint. It is set to
	// "<status> <message>" when the answer was cut off after the first byte
	// and stays empty for a complete answer.
	HeaderAnswerError = "X-Answer-Error"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatService is the answering pipeline as seen by the handlers.
type ChatService interface {
	Prepare(ctx context.Context, messages []datatypes.Message) (*services.PreparedTurn, error)
	Stream(ctx context.Context, turn *services.PreparedTurn, cb services.TokenCallback) (string, error)
}

// ChatHandler serves the chat endpoints.
//
// # Thread Safety
//
// ChatHandler is safe for concurrent use; it keeps no per-request state.
type ChatHandler struct {
	service   ChatService
	metrics   *observability.Metrics
	tracer    trace.Tracer
	heartbeat time.Duration
}

// NewChatHandler creates the chat handler. Panics if service is nil.
//
// # Examples
//
//	h := handlers.NewChatHandler(chatService, observability.DefaultMetrics)
//	router.POST("/v1/chat/stream", h.HandleChatStream)
//	router.POST("/v1/chat", h.HandleChatText)
func NewChatHandler(service ChatService, metrics *observability.Metrics) *ChatHandler {
	if service == nil {
		panic("NewChatHandler: service must not be nil")
	}
	return &ChatHandler{
		service:   service,
		metrics:   metrics,
		tracer:    otel.Tracer("aleutiancare.handlers"),
		heartbeat: heartbeatInterval,
	}
}

// =============================================================================
// SSE Endpoint
// =============================================================================

// HandleChatStream answers a conversation as Server-Sent Events.
//
// # Description
//
// Request validation errors are returned as JSON {error} with status 400.
// Once the stream has started every failure is an "error" event carrying the
// sanitized message and the stage status. Sources are sent before the first
// token; a keepalive comment is written every heartbeat interval while the
// turn is in progress.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	success := false
	defer func() {
		duration := time.Since(startTime).Seconds()
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, duration, success)
	}()

	req, ok := h.bindChatRequest(c, span, endpoint)
	if !ok {
		return
	}
	logger := slog.With("requestId", req.RequestID)

	SetSSEHeaders(c.Writer)
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		logger.Error("Failed to create SSE writer", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Streaming not supported"})
		return
	}

	if err := sse.WriteStatus("Searching knowledge..."); err != nil {
		logger.Error("Failed to write status event", "error", err)
		return
	}

	heartbeatDone := make(chan struct{})
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		h.runHeartbeat(ctx, sse, endpoint, heartbeatDone)
	}()
	defer func() {
		close(heartbeatDone)
		heartbeatWG.Wait()
	}()

	turn, err := h.service.Prepare(ctx, req.Messages)
	if err != nil {
		h.failStream(ctx, span, sse, endpoint, logger, err)
		return
	}
	span.SetAttributes(
		attribute.String("turn.topic", string(turn.Classification.Topic)),
		attribute.Int("turn.sources", len(turn.Sources)),
	)

	if err := sse.WriteSources(datatypes.ToSourceDocuments(turn.Sources), string(turn.Classification.Topic)); err != nil {
		logger.Error("Failed to write sources event", "error", err)
		return
	}

	var (
		tokenCount     int
		firstTokenTime time.Time
	)
	_, err = h.service.Stream(ctx, turn, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if firstTokenTime.IsZero() {
			firstTokenTime = time.Now()
		}
		tokenCount++
		return sse.WriteToken(token)
	})
	span.SetAttributes(attribute.Int("stream.token_count", tokenCount))
	if err != nil {
		h.failStream(ctx, span, sse, endpoint, logger, err)
		return
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		h.metrics.RecordTimeToFirstToken(endpoint, ttft)
	}

	if err := sse.WriteDone(req.RequestID); err != nil {
		logger.Error("Failed to write done event", "error", err)
		return
	}

	success = true
	logger.Info("Chat stream completed",
		"topic", turn.Classification.Topic,
		"sources", len(turn.Sources),
		"tokens", tokenCount,
		"processingMs", time.Since(startTime).Milliseconds(),
	)
}

// failStream records a pipeline failure and reports it on the stream unless
// the client is gone.
func (h *ChatHandler) failStream(ctx context.Context, span trace.Span, sse SSEWriter, endpoint observability.Endpoint, logger *slog.Logger, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "chat turn failed")

	status := services.StatusCode(err)
	code := errorCode(err)
	h.metrics.RecordError(endpoint, code)

	if code == observability.ErrorCodeClientDisconnect || ctx.Err() != nil {
		h.metrics.RecordClientDisconnect(endpoint)
		logger.Info("Client disconnected during chat turn", "error", err)
		return
	}

	logger.Error("Chat turn failed", "error", err, "status", status, "partial", isPartial(err))
	if werr := sse.WriteError(services.PublicMessage(err), status); werr != nil {
		logger.Debug("Failed to write error event", "error", werr)
	}
}

// runHeartbeat writes keepalives until done is closed or ctx ends.
func (h *ChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}

// =============================================================================
// Plain Text Endpoint
// =============================================================================

// HandleChatText answers a conversation as a plain streamed text body.
//
// # Description
//
// The sources of the turn are sent in the X-Sources header (base64 JSON array
// of {pageContent, metadata}) together with X-Message-Index, before the first
// byte of the answer. Failures before the first byte return JSON {error} with
// the stage status. A failure after the first byte ends the body early and is
// reported in the X-Answer-Error trailer; the text already written stays
// delivered.
func (h *ChatHandler) HandleChatText(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatText

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatText")
	defer span.End()

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	success := false
	defer func() {
		duration := time.Since(startTime).Seconds()
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, duration, success)
	}()

	req, ok := h.bindChatRequest(c, span, endpoint)
	if !ok {
		return
	}
	logger := slog.With("requestId", req.RequestID)

	turn, err := h.service.Prepare(ctx, req.Messages)
	if err != nil {
		h.failText(c, span, endpoint, logger, err)
		return
	}

	encoded, err := datatypes.EncodeSources(turn.Sources)
	if err != nil {
		h.failText(c, span, endpoint, logger, err)
		return
	}

	started := false
	start := func() {
		started = true
		c.Header(HeaderSources, encoded)
		c.Header(HeaderMessageIndex, strconv.Itoa(len(req.Messages)))
		c.Header("Trailer", HeaderAnswerError)
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
	}

	_, err = h.service.Stream(ctx, turn, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			start()
			h.metrics.RecordTimeToFirstToken(endpoint, time.Since(startTime).Seconds())
		}
		if _, err := c.Writer.WriteString(token); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		if !started {
			h.failText(c, span, endpoint, logger, err)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer interrupted")
		status := services.StatusCode(err)
		h.metrics.RecordError(endpoint, errorCode(err))
		if status == services.StatusClientClosedRequest {
			h.metrics.RecordClientDisconnect(endpoint)
			logger.Info("Client disconnected during answer", "error", err)
			return
		}
		c.Writer.Header().Set(HeaderAnswerError, fmt.Sprintf("%d %s", status, services.PublicMessage(err)))
		logger.Error("Chat answer interrupted", "error", err, "status", status)
		return
	}

	if !started {
		start()
	}
	success = true
}

func (h *ChatHandler) failText(c *gin.Context, span trace.Span, endpoint observability.Endpoint, logger *slog.Logger, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "chat turn failed")
	status := services.StatusCode(err)
	h.metrics.RecordError(endpoint, errorCode(err))
	if status == services.StatusClientClosedRequest {
		h.metrics.RecordClientDisconnect(endpoint)
		logger.Info("Client disconnected during chat turn", "error", err)
		c.Status(status)
		return
	}
	logger.Error("Chat turn failed", "error", err, "status", status)
	c.JSON(status, datatypes.ErrorResponse{Error: services.PublicMessage(err)})
}

// =============================================================================
// Helpers
// =============================================================================

// bindChatRequest parses and validates the request body. On failure it has
// already written a 400 response.
func (h *ChatHandler) bindChatRequest(c *gin.Context, span trace.Span, endpoint observability.Endpoint) (*datatypes.ChatRequest, bool) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Warn("Failed to parse chat request", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return nil, false
	}

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("Chat request validation failed", "error", err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		msg := "invalid request: validation failed"
		if errors.Is(err, datatypes.ErrLastMessageNotUser) {
			msg = "invalid request: " + err.Error()
		}
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg})
		return nil, false
	}

	if req.RequestID == "" {
		req.RequestID = middleware.GetRequestID(c)
	}
	req.EnsureDefaults()

	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Int("request.message_count", len(req.Messages)),
		attribute.Int("request.history_length", len(req.History())),
		attribute.Int("request.question_chars", utf8.RuneCountInString(req.Question())),
	)
	return &req, true
}

// errorCode maps a pipeline failure to its metrics label.
func errorCode(err error) observability.ErrorCode {
	switch status := services.StatusCode(err); {
	case status == services.StatusClientClosedRequest:
		return observability.ErrorCodeClientDisconnect
	case status == http.StatusGatewayTimeout:
		return observability.ErrorCodeTimeout
	case status == http.StatusBadRequest:
		return observability.ErrorCodeValidation
	}
	switch {
	case errors.Is(err, services.ErrRewriteFailure):
		return observability.ErrorCodeRewrite
	case errors.Is(err, services.ErrRetrievalFailure):
		return observability.ErrorCodeRetrieval
	case errors.Is(err, services.ErrGenerationFailure):
		return observability.ErrorCodeGeneration
	}
	return observability.ErrorCodeInternal
}

func isPartial(err error) bool {
	var se *services.StageError
	return errors.As(err, &se) && se.Partial
}
