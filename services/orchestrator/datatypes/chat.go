// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request types accepted at the HTTP boundary: chat
// requests for the answering pipeline and knowledge documents for ingestion.
package datatypes

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ErrLastMessageNotUser is returned when the newest message is not the user's question.
var ErrLastMessageNotUser = errors.New("last message must have role user")

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is the body of the chat endpoints.
//
// # Description
//
// Messages is the whole conversation, oldest first. The last message is the
// question being answered; everything before it is chat history.
//
// # Validation
//
//   - Messages: required, 1-100 elements, role in {user, assistant, system},
//     content non-empty and at most 32KB.
//   - The last message must come from the user.
//   - RequestID, when supplied, must be a UUID.
type ChatRequest struct {
	RequestID string    `json:"request_id,omitempty" validate:"omitempty,uuid"`
	SessionID string    `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Messages  []Message `json:"messages" validate:"required,min=1,max=100,dive"`
	Timestamp int64     `json:"timestamp,omitempty" validate:"gte=0"`
}

// Validate runs the struct tags and the ordering rule.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	if r.Messages[len(r.Messages)-1].Role != RoleUser {
		return ErrLastMessageNotUser
	}
	return nil
}

// EnsureDefaults populates RequestID and Timestamp when the client left them out.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// History returns the messages before the current question.
func (r *ChatRequest) History() []Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[:len(r.Messages)-1]
}

// Question returns the current question text.
func (r *ChatRequest) Question() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// =============================================================================
// Knowledge Ingestion
// =============================================================================

// KnowledgeDocument is one support article or product summary to ingest.
type KnowledgeDocument struct {
	Content string         `json:"content" validate:"required,max=1048576"`
	Type    string         `json:"type" validate:"required,oneof=product troubleshooting"`
	Topic   string         `json:"topic" validate:"required,max=256"`
	Source  string         `json:"source" validate:"required,max=1024"`
	Price   *float64       `json:"price,omitempty" validate:"omitempty,gte=0"`
	Product map[string]any `json:"product,omitempty"`
}

// IngestRequest is the body of POST /v1/documents.
type IngestRequest struct {
	Documents []KnowledgeDocument `json:"documents" validate:"required,min=1,max=500,dive"`
}

// IngestResponse reports how many chunks were stored.
type IngestResponse struct {
	Documents     int `json:"documents"`
	ChunksCreated int `json:"chunks_created"`
}

func (r *IngestRequest) Validate() error {
	return chatValidate.Struct(r)
}
