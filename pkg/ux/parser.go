// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Parser
// =============================================================================

// SSEParser parses Server-Sent Events lines from the chat stream endpoint.
//
// The orchestrator writes each event as an "event:" line naming the type
// followed by a "data:" line carrying the JSON event. The JSON already
// holds the type, so the parser only decodes data lines.
//
// Thread Safety:
//
//	SSEParser is stateless and safe for concurrent use.
type SSEParser interface {
	// ParseLine parses a single line of SSE input, without the trailing
	// newline.
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for lines that carry none
	//     (blank delimiters, ": ping" comments, "event:" names)
	//   - error: Non-nil if a data payload is not valid JSON
	ParseLine(line string) (*datatypes.StreamEvent, error)
}

type sseParser struct{}

// NewSSEParser creates a parser for the orchestrator's SSE format.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

func (p *sseParser) ParseLine(line string) (*datatypes.StreamEvent, error) {
	line = strings.TrimRight(line, "\r")

	switch {
	case line == "", strings.HasPrefix(line, ":"):
		return nil, nil
	case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		return nil, nil
	case strings.HasPrefix(line, "data:"):
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("parse event data: %w", err)
		}
		return &event, nil
	default:
		return nil, nil
	}
}

var _ SSEParser = (*sseParser)(nil)
