// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType identifies the kind of a streamed event.
type StreamEventType string

const (
	// StreamEventToken carries a fragment of the visible answer.
	StreamEventToken StreamEventType = "token"

	// StreamEventThinking carries reasoning text from models that expose it.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventError reports a provider error delivered inside the stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one element of a streamed response.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives stream events in order. A non-nil return stops the stream.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Provider Errors
// =============================================================================

// StatusError is returned when a provider answers with a non-2xx HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPStatus extracts the HTTP status of a provider failure.
//
// # Description
//
// Looks through the error chain for the status-carrying errors produced by
// go-openai and by this package. Returns 0 when no status is known, so callers
// can pick their own default.
//
// # Examples
//
//	if status := llm.HTTPStatus(err); status != 0 {
//	    c.JSON(status, gin.H{"error": err.Error()})
//	}
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
