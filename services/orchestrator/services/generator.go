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
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
)

// AnswerTemperature is the sampling temperature of the answer call.
const AnswerTemperature float32 = 0.2

// currentTimeLayout formats the optional current time in the context.
const currentTimeLayout = "Monday, 02 January 2006 15:04 MST"

// TokenCallback receives each fragment of the answer in order. Returning an
// error stops generation.
type TokenCallback func(token string) error

// GeneratorConfig configures the answer call.
type GeneratorConfig struct {
	// Model overrides the client's default model. Empty keeps the default.
	Model string

	Temperature float32

	// MaxTokens caps the answer length. Zero keeps the model default.
	MaxTokens int

	// IncludeCurrentTime appends "Current date and time: ..." to the context.
	IncludeCurrentTime bool

	// Location is the time zone of the current time. Nil means UTC.
	Location *time.Location
}

// DefaultGeneratorConfig returns the answer settings used in production.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Temperature: AnswerTemperature, Location: time.UTC}
}

// AnswerGenerator streams the grounded answer of a prepared turn.
//
// # Description
//
// One ChatStream call is made per turn with a single user message built from
// the answer template. Thinking events are dropped; token events are passed
// to the caller as they arrive. There is no revision once a token has been
// delivered.
//
// # Thread Safety
//
// AnswerGenerator is safe for concurrent use.
type AnswerGenerator struct {
	client  llm.LLMClient
	prompts prompts.Provider
	config  GeneratorConfig
	now     func() time.Time
	tokens  *observability.TokenCounter
	metrics *observability.Metrics
}

// NewAnswerGenerator creates an answer generator. tokens and metrics may be nil.
func NewAnswerGenerator(client llm.LLMClient, provider prompts.Provider, config GeneratorConfig, tokens *observability.TokenCounter, metrics *observability.Metrics) *AnswerGenerator {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &AnswerGenerator{
		client:  client,
		prompts: provider,
		config:  config,
		now:     time.Now,
		tokens:  tokens,
		metrics: metrics,
	}
}

// Messages builds the chat request for turn.
func (g *AnswerGenerator) Messages(turn *PreparedTurn) ([]datatypes.Message, error) {
	set := g.prompts.Prompts()

	contextBlock := turn.Context
	if g.config.IncludeCurrentTime {
		stamp := "Current date and time: " + g.now().In(g.config.Location).Format(currentTimeLayout)
		if contextBlock == "" {
			contextBlock = stamp
		} else {
			contextBlock += "\n\n" + stamp
		}
	}

	prompt, err := set.Render(prompts.Answer, map[string]string{
		"context":      contextBlock,
		"chat_history": conversation.FormatHistory(turn.History),
		"question":     turn.Question.Prompt(set.NonQuestionMarker),
	})
	if err != nil {
		return nil, err
	}
	return []datatypes.Message{{Role: datatypes.RoleUser, Content: prompt}}, nil
}

// Stream generates the answer of turn, delivering tokens to cb. It returns
// the full answer text.
//
// A failure after the first token is a StageError with Partial set. When cb
// fails or ctx is cancelled the stage status is 499.
func (g *AnswerGenerator) Stream(ctx context.Context, turn *PreparedTurn, cb TokenCallback) (string, error) {
	ctx, span := tracer.Start(ctx, "services.AnswerGenerator.Stream")
	defer span.End()

	messages, err := g.Messages(turn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer prompt render failed")
		return "", newStageError(StageGenerate, err)
	}

	params := llm.GenerationParams{
		Temperature: llm.Float32(g.config.Temperature),
		Model:       g.config.Model,
	}
	if g.config.MaxTokens > 0 {
		params.MaxTokens = llm.Int(g.config.MaxTokens)
	}

	var (
		answer      strings.Builder
		delivered   int
		callbackErr error
	)
	err = g.client.ChatStream(ctx, messages, params, func(event llm.StreamEvent) error {
		switch event.Type {
		case llm.StreamEventToken:
			if event.Content == "" {
				return nil
			}
			if err := ctx.Err(); err != nil {
				callbackErr = err
				return err
			}
			if err := cb(event.Content); err != nil {
				callbackErr = err
				return err
			}
			answer.WriteString(event.Content)
			delivered++
		case llm.StreamEventError:
			slog.Warn("Answer stream reported an error", "error", event.Error, "tokensDelivered", delivered)
		}
		return nil
	})

	g.recordTokens(messages[0].Content, answer.String())
	span.SetAttributes(attribute.Int("tokens_delivered", delivered))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer stream failed")
		se := newStageError(StageGenerate, fmt.Errorf("answer stream failed: %w", err))
		if callbackErr != nil {
			se.StatusCode = StatusClientClosedRequest
			if !errors.Is(err, callbackErr) {
				se.Err = fmt.Errorf("answer stream stopped by caller: %w", errors.Join(callbackErr, err))
			}
		}
		se.Partial = delivered > 0
		return answer.String(), se
	}
	return answer.String(), nil
}

func (g *AnswerGenerator) recordTokens(prompt, answer string) {
	if g.metrics == nil {
		return
	}
	model := g.config.Model
	if model == "" {
		model = "default"
	}
	g.metrics.RecordTokens(g.tokens.Count(prompt), g.tokens.Count(answer), model)
}
