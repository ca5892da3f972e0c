// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Stream event types sent on the SSE and websocket chat endpoints.
const (
	EventStatus  = "status"
	EventSources = "sources"
	EventToken   = "token"
	EventError   = "error"
	EventDone    = "done"
)

// StreamEvent is one event of a streamed chat answer.
//
// # Description
//
// Id, CreatedAt, Hash and PrevHash are filled in by the writer. Hash covers
// the event content and PrevHash links to the previous event of the same
// stream, so a client can check that no event was dropped or altered.
type StreamEvent struct {
	Id        string           `json:"id"`
	Type      string           `json:"type"`
	CreatedAt int64            `json:"created_at"`
	Message   string           `json:"message,omitempty"`
	Content   string           `json:"content,omitempty"`
	Sources   []SourceDocument `json:"sources,omitempty"`
	Topic     string           `json:"topic,omitempty"`
	Error     string           `json:"error,omitempty"`
	Status    int              `json:"status,omitempty"`
	RequestId string           `json:"request_id,omitempty"`
	Hash      string           `json:"hash"`
	PrevHash  string           `json:"prev_hash,omitempty"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrBrokenChain is returned by VerifyChain when an event's hash does not
// match its content or does not link to the previous event.
var ErrBrokenChain = errors.New("stream hash chain broken")

// ComputeHash hashes the metadata and content fields of e. Sources are
// included in their JSON form. Hash itself is not part of the input.
func (e StreamEvent) ComputeHash() string {
	sourcesJSON := ""
	if e.Sources != nil {
		if data, err := json.Marshal(e.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%d|%s|%s",
		e.Id,
		e.Type,
		e.CreatedAt,
		e.PrevHash,
		e.Content,
		e.Message,
		e.Topic,
		e.Error,
		e.Status,
		e.RequestId,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks that every event hashes to its Hash and that each
// PrevHash names the event before it. The first event has no PrevHash.
func VerifyChain(events []StreamEvent) error {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: event %d does not link to event %d", ErrBrokenChain, i, i-1)
		}
		if e.ComputeHash() != e.Hash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrBrokenChain, i)
		}
		prev = e.Hash
	}
	return nil
}
