// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

// StatusClientClosedRequest is the non-standard status for a caller that went
// away before the turn completed.
const StatusClientClosedRequest = 499

// Stage names a step of the answering pipeline.
type Stage string

const (
	StageRewrite  Stage = "rewrite"
	StageClassify Stage = "classify"
	StageRetrieve Stage = "retrieve"
	StageGenerate Stage = "generate"
)

// Failure kinds, matched with errors.Is against a *StageError.
var (
	ErrRewriteFailure        = errors.New("rewrite failure")
	ErrClassificationFailure = errors.New("classification failure")
	ErrRetrievalFailure      = errors.New("retrieval failure")
	ErrGenerationFailure     = errors.New("generation failure")
)

// ErrEmptyConversation is returned when a turn has no message to answer.
var ErrEmptyConversation = errors.New("conversation has no user message")

// errInternal marks failures of this service itself rather than of a
// collaborator, such as an unrenderable prompt.
var errInternal = errors.New("internal error")

// StageError is a pipeline failure with an HTTP-analogous status.
//
// # Description
//
// Rewrite, retrieval and generation failures abort the turn and reach the
// caller as a StageError. Classification failures are recovered locally and
// only reported through PreparedTurn.Classification.Fallback.
//
// # Examples
//
//	if errors.Is(err, services.ErrRetrievalFailure) {
//	    var se *services.StageError
//	    errors.As(err, &se)
//	    c.JSON(se.StatusCode, gin.H{"error": se.PublicMessage()})
//	}
type StageError struct {
	Stage      Stage
	StatusCode int
	Err        error

	// Partial is true when answer text was already delivered before a
	// generation failure. That text stays delivered.
	Partial bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (status %d): %v", e.Stage, e.StatusCode, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the failure kind of the stage.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrRewriteFailure:
		return e.Stage == StageRewrite
	case ErrClassificationFailure:
		return e.Stage == StageClassify
	case ErrRetrievalFailure:
		return e.Stage == StageRetrieve
	case ErrGenerationFailure:
		return e.Stage == StageGenerate
	}
	return false
}

// PublicMessage is the sanitized message shown to callers.
func (e *StageError) PublicMessage() string {
	if e.StatusCode == StatusClientClosedRequest {
		return "Request cancelled"
	}
	switch e.Stage {
	case StageRewrite:
		return "Failed to understand the question"
	case StageRetrieve:
		return "Failed to retrieve knowledge for the question"
	case StageGenerate:
		return "Failed to generate the answer"
	}
	return "Internal server error"
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, StatusCode: statusFor(err), Err: err}
}

// statusFor picks the status of a failure: the provider's own status when
// known, 499 when the caller cancelled, 504 on a collaborator timeout, 500
// for internal failures and 502 for any other collaborator failure.
func statusFor(err error) int {
	if status := llm.HTTPStatus(err); status != 0 {
		return status
	}
	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errInternal), errors.Is(err, prompts.ErrRender), errors.Is(err, vectorstore.ErrInvalidFilter):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// StatusCode returns the status to report for err: the StageError status, 400
// for an empty conversation, or 500 for anything else.
func StatusCode(err error) int {
	var se *StageError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	if errors.Is(err, ErrEmptyConversation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the sanitized caller-facing message for err.
func PublicMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.PublicMessage()
	}
	if errors.Is(err, ErrEmptyConversation) {
		return ErrEmptyConversation.Error()
	}
	return "Internal server error"
}
