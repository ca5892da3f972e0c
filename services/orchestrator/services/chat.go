// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the answering pipeline of the orchestrator.
//
// A turn runs rewrite, classify, retrieve, compose and generate. Prepare runs
// everything up to composition and returns the sources of the turn before any
// answer text exists; Stream then generates the answer.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCare/pkg/logging"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/retrieval"
)

var tracer = otel.Tracer("aleutiancare.services")

// PreparedTurn is everything known about a turn before generation.
type PreparedTurn struct {
	History        []datatypes.Message
	Message        string
	Question       conversation.StandaloneQuestion
	Classification conversation.Classification

	// Plan is the name of the retrieval plan that ran. Empty when retrieval
	// was skipped for a non-question.
	Plan     string
	Sections []Section
	Context  string

	// Sources are the deduplicated chunks of the reporting branches. Never nil.
	Sources []datatypes.DocumentChunk
}

// SupportChatService answers customer-care conversations.
//
// # Description
//
// The service holds only immutable collaborators and configuration; no state
// is kept between turns. Branches of a plan run concurrently and the first
// branch error cancels the others.
//
// # Thread Safety
//
// SupportChatService is safe for concurrent use.
type SupportChatService struct {
	rewriter   conversation.QueryRewriter
	classifier conversation.IntentClassifier
	plans      PlanTable
	generator  *AnswerGenerator
	prompts    prompts.Provider
	config     Config
	metrics    *observability.Metrics
}

// NewSupportChatService wires the pipeline. metrics may be nil.
func NewSupportChatService(
	rewriter conversation.QueryRewriter,
	classifier conversation.IntentClassifier,
	plans PlanTable,
	generator *AnswerGenerator,
	provider prompts.Provider,
	config Config,
	metrics *observability.Metrics,
) *SupportChatService {
	return &SupportChatService{
		rewriter:   rewriter,
		classifier: classifier,
		plans:      plans,
		generator:  generator,
		prompts:    provider,
		config:     config,
		metrics:    metrics,
	}
}

// Prepare runs the turn up to context composition.
//
// # Description
//
// The last message is the question and everything before it is history. A
// non-question skips classification and retrieval: the context and sources
// are empty and the answer is generated from the marker form. Otherwise the
// topic selects a plan (the combined plan when classification is disabled)
// and its branches are retrieved concurrently.
//
// # Errors
//
//   - ErrEmptyConversation when messages is empty
//   - *StageError for rewrite and retrieval failures
func (s *SupportChatService) Prepare(ctx context.Context, messages []datatypes.Message) (*PreparedTurn, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}

	ctx, span := tracer.Start(ctx, "services.SupportChatService.Prepare")
	defer span.End()

	last := len(messages) - 1
	turn := &PreparedTurn{
		History: conversation.CopyHistory(messages[:last]),
		Message: messages[last].Content,
		Sources: []datatypes.DocumentChunk{},
	}

	start := time.Now()
	question, err := s.rewriter.Rewrite(ctx, turn.History, turn.Message)
	s.metrics.RecordStage(string(StageRewrite), time.Since(start).Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		return nil, newStageError(StageRewrite, err)
	}
	turn.Question = question
	span.SetAttributes(attribute.Bool("is_question", question.IsQuestion))

	if !question.IsQuestion {
		turn.Classification = conversation.Classification{
			Topic:  conversation.TopicUnclassified,
			Reason: conversation.ReasonNonQuestion,
		}
		slog.Debug("Input is not a question, skipping retrieval", "message", logging.Truncate(turn.Message, 80))
		return turn, nil
	}

	turn.Classification = s.classify(ctx, turn)
	span.SetAttributes(attribute.String("topic", string(turn.Classification.Topic)))

	plan, ok := s.plans.Select(turn.Classification.Topic)
	if !ok {
		err := fmt.Errorf("%w: no retrieval plan for topic %q", errInternal, turn.Classification.Topic)
		span.RecordError(err)
		return nil, newStageError(StageRetrieve, err)
	}
	turn.Plan = plan.Name

	start = time.Now()
	results, err := s.runPlan(ctx, plan, question.Text)
	s.metrics.RecordStage(string(StageRetrieve), time.Since(start).Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, newStageError(StageRetrieve, err)
	}

	set := s.prompts.Prompts()
	var reported []datatypes.DocumentChunk
	for i, b := range plan.Branches {
		label := ""
		if len(plan.Branches) > 1 && b.LabelKey != "" {
			label = set.Label(b.LabelKey)
		}
		turn.Sections = append(turn.Sections, Section{Name: b.Name, Label: label, Chunks: results[i]})
		if b.ReportSources {
			reported = append(reported, results[i]...)
		}
	}
	turn.Context = Compose(turn.Sections)
	turn.Sources = retrieval.DedupeByContent(reported)
	span.SetAttributes(attribute.Int("sources", len(turn.Sources)))
	return turn, nil
}

// Stream generates the answer for a prepared turn.
func (s *SupportChatService) Stream(ctx context.Context, turn *PreparedTurn, cb TokenCallback) (string, error) {
	start := time.Now()
	answer, err := s.generator.Stream(ctx, turn, cb)
	s.metrics.RecordStage(string(StageGenerate), time.Since(start).Seconds(), err == nil)
	return answer, err
}

// Answer runs Prepare and then Stream.
func (s *SupportChatService) Answer(ctx context.Context, messages []datatypes.Message, cb TokenCallback) (*PreparedTurn, string, error) {
	turn, err := s.Prepare(ctx, messages)
	if err != nil {
		return nil, "", err
	}
	answer, err := s.Stream(ctx, turn, cb)
	return turn, answer, err
}

func (s *SupportChatService) classify(ctx context.Context, turn *PreparedTurn) conversation.Classification {
	if !s.config.ClassifyIntent {
		return conversation.Classification{Topic: TopicCombined}
	}
	start := time.Now()
	c := s.classifier.Classify(ctx, turn.Question, turn.History)
	s.metrics.RecordStage(string(StageClassify), time.Since(start).Seconds(), c.Reason != conversation.ReasonLLMError)
	s.metrics.RecordTopic(string(c.Topic), c.Fallback)
	return c
}

// runPlan retrieves every branch of plan concurrently. Results keep branch order.
func (s *SupportChatService) runPlan(ctx context.Context, plan RetrievalPlan, query string) ([][]datatypes.DocumentChunk, error) {
	results := make([][]datatypes.DocumentChunk, len(plan.Branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range plan.Branches {
		g.Go(func() error {
			chunks, err := b.Retriever.Retrieve(gctx, query)
			if err != nil {
				return fmt.Errorf("branch %s: %w", b.Name, err)
			}
			s.metrics.RecordRetrieved(b.Name, len(chunks))
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
