package llm

import (
	"context"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
	// Model overrides the client's default model for one call.
	Model string `json:"model,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
//
// Generate is a single-prompt completion. ChatStream delivers the answer as a
// finite sequence of StreamEvents to callback; the sequence is consumed once and
// cannot be restarted. Returning an error from callback stops the stream and
// releases the upstream connection.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}

// Embedder computes text embeddings for vector search and ingestion.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams literals.
func Int(v int) *int { return &v }

// GenerateFunc is a single-prompt completion bound to fixed parameters.
// Pipeline stages take a GenerateFunc so tests can pass a closure.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// BindGenerate returns a GenerateFunc calling client.Generate with params.
func BindGenerate(client LLMClient, params GenerationParams) GenerateFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		return client.Generate(ctx, prompt, params)
	}
}
