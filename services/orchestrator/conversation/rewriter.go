package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
)

var tracer = otel.Tracer("aleutiancare.conversation")

// LLMQueryRewriter implements QueryRewriter with the condense_question prompt.
//
// # Description
//
// One completion per turn. The model either answers with the standalone
// question or with the non-question marker followed by the original input.
// Any label the model prints before the question ("Standalone question:")
// and surrounding quotes are removed.
//
// # Thread Safety
//
// LLMQueryRewriter is safe for concurrent use.
//
// # Example
//
//	rewriter := NewLLMQueryRewriter(llm.BindGenerate(client, params), promptSet, DefaultRewriterConfig())
//	q, err := rewriter.Rewrite(ctx, history, "paketnya tidak aktif")
type LLMQueryRewriter struct {
	generate llm.GenerateFunc
	prompts  prompts.Provider
	config   RewriterConfig
}

// NewLLMQueryRewriter creates a rewriter.
func NewLLMQueryRewriter(generate llm.GenerateFunc, provider prompts.Provider, config RewriterConfig) *LLMQueryRewriter {
	return &LLMQueryRewriter{
		generate: generate,
		prompts:  provider,
		config:   config,
	}
}

// Rewrite implements QueryRewriter.
func (r *LLMQueryRewriter) Rewrite(ctx context.Context, history []datatypes.Message, message string) (StandaloneQuestion, error) {
	ctx, span := tracer.Start(ctx, "conversation.Rewrite")
	defer span.End()
	span.SetAttributes(attribute.Int("history.length", len(history)))

	if len(history) == 0 && r.config.SkipWithoutHistory {
		span.SetAttributes(attribute.Bool("rewrite.skipped", true))
		return Question(fallbackText(message)), nil
	}

	set := r.prompts.Prompts()
	prompt, err := set.Render(prompts.CondenseQuestion, map[string]string{
		"chat_history": FormatHistory(history),
		"question":     message,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return StandaloneQuestion{}, fmt.Errorf("failed to render condense prompt: %w", err)
	}

	response, err := r.generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return StandaloneQuestion{}, fmt.Errorf("condense question LLM call failed: %w", err)
	}

	q := ParseStandaloneQuestion(response, set.NonQuestionMarker, message)
	span.SetAttributes(attribute.Bool("rewrite.is_question", q.IsQuestion))
	slog.Debug("Rewrote question", "isQuestion", q.IsQuestion, "question", q.Text)
	return q, nil
}

// standaloneLabels are answer prefixes some models repeat from the prompt.
var standaloneLabels = []string{"standalone question:", "pertanyaan mandiri:"}

// ParseStandaloneQuestion interprets a condense response.
//
// # Description
//
// A response starting with marker is a non-question; the text after the
// marker is kept, or original when nothing follows it. An empty response
// degrades to original as a question. The result never has empty Text as
// long as original is not empty.
func ParseStandaloneQuestion(response, marker, original string) StandaloneQuestion {
	text := cleanResponse(response)

	if marker != "" && strings.HasPrefix(text, marker) {
		rest := cleanResponse(text[len(marker):])
		if rest == "" {
			rest = fallbackText(original)
		}
		return NonQuestion(rest)
	}

	if text == "" {
		return Question(fallbackText(original))
	}
	return Question(text)
}

func fallbackText(original string) string {
	if trimmed := strings.TrimSpace(original); trimmed != "" {
		return trimmed
	}
	return original
}

func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	for _, label := range standaloneLabels {
		if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
			s = strings.TrimSpace(s[len(label):])
			break
		}
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
