package conversation

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/pkg/logging"
	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
)

// LLMIntentClassifier implements IntentClassifier with the classify_intent prompt.
//
// # Description
//
// The prompt lists ClassifiableTopics and the chat history, so a short
// follow-up keeps the topic of the previous turns. The response is parsed
// with ParseTopic.
//
// # Thread Safety
//
// LLMIntentClassifier is safe for concurrent use.
type LLMIntentClassifier struct {
	generate llm.GenerateFunc
	prompts  prompts.Provider
	topics   []TopicDescription
}

// NewLLMIntentClassifier creates a classifier offering ClassifiableTopics.
func NewLLMIntentClassifier(generate llm.GenerateFunc, provider prompts.Provider) *LLMIntentClassifier {
	return &LLMIntentClassifier{
		generate: generate,
		prompts:  provider,
		topics:   ClassifiableTopics,
	}
}

// Classify implements IntentClassifier.
func (c *LLMIntentClassifier) Classify(ctx context.Context, question StandaloneQuestion, history []datatypes.Message) Classification {
	ctx, span := tracer.Start(ctx, "conversation.Classify")
	defer span.End()

	result := c.classify(ctx, question, history)
	span.SetAttributes(
		attribute.String("topic", string(result.Topic)),
		attribute.Bool("topic.fallback", result.Fallback),
	)
	return result
}

func (c *LLMIntentClassifier) classify(ctx context.Context, question StandaloneQuestion, history []datatypes.Message) Classification {
	if !question.IsQuestion {
		return Classification{Topic: TopicUnclassified, Reason: ReasonNonQuestion}
	}

	prompt, err := c.prompts.Prompts().Render(prompts.ClassifyIntent, map[string]string{
		"topics":       c.renderTopics(),
		"chat_history": FormatHistory(history),
		"question":     question.Text,
	})
	if err != nil {
		slog.Error("Failed to render classification prompt", "error", err)
		return Classification{Topic: TopicUnclassified, Fallback: true, Reason: ReasonLLMError}
	}

	response, err := c.generate(ctx, prompt)
	if err != nil {
		slog.Warn("Intent classification failed, using unclassified", "error", err)
		return Classification{Topic: TopicUnclassified, Fallback: true, Reason: ReasonLLMError}
	}

	topic, ok := ParseTopic(response)
	if !ok {
		slog.Warn("Unrecognized intent label, using unclassified", "response", logging.Truncate(response, 80))
		return Classification{Topic: TopicUnclassified, Fallback: true, Reason: ReasonUnrecognizedLabel}
	}
	return Classification{Topic: topic}
}

func (c *LLMIntentClassifier) renderTopics() string {
	lines := make([]string, 0, len(c.topics))
	for _, t := range c.topics {
		lines = append(lines, "- "+string(t.Topic)+": "+t.Description)
	}
	return strings.Join(lines, "\n")
}
