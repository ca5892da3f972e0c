package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

func chunks(texts ...string) []datatypes.DocumentChunk {
	out := make([]datatypes.DocumentChunk, len(texts))
	for i, t := range texts {
		out[i] = datatypes.DocumentChunk{Content: t}
	}
	return out
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name     string
		sections []Section
		want     string
	}{
		{name: "no sections", sections: nil, want: ""},
		{
			name:     "single section ignores label",
			sections: []Section{{Label: "Related information", Chunks: chunks("a", "b")}},
			want:     "a\n\nb",
		},
		{name: "single empty section", sections: []Section{{Chunks: nil}}, want: ""},
		{
			name: "labeled sections",
			sections: []Section{
				{Label: "Related information based on user's question", Chunks: chunks("restart", "cek sinyal")},
				{Label: "Related products based on user's question", Chunks: chunks("paket 30rb")},
			},
			want: "Related information based on user's question: restart\n\ncek sinyal\n\nRelated products based on user's question: paket 30rb",
		},
		{
			name: "empty labeled section keeps its label",
			sections: []Section{
				{Label: "Info", Chunks: chunks("restart")},
				{Label: "Products", Chunks: nil},
			},
			want: "Info: restart\n\nProducts: ",
		},
		{
			name: "unlabeled empty section contributes nothing",
			sections: []Section{
				{Label: "Info", Chunks: chunks("restart")},
				{Chunks: nil},
			},
			want: "Info: restart",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compose(tt.sections))
		})
	}
}

func TestCompose_IsDeterministic(t *testing.T) {
	sections := []Section{
		{Label: "A", Chunks: chunks("x", "y")},
		{Label: "B", Chunks: []datatypes.DocumentChunk{{Content: "z", Metadata: map[string]any{"price": 1.0}}}},
	}
	first := Compose(sections)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compose(sections))
	}
	assert.Equal(t, "x", sections[0].Chunks[0].Content, "inputs are not modified")
}

// =============================================================================
// Answer Generator
// =============================================================================

func TestAnswerGenerator_Messages(t *testing.T) {
	g := NewAnswerGenerator(&MockLLMClient{}, prompts.NewStatic(prompts.Default()), DefaultGeneratorConfig(), nil, nil)

	msgs, err := g.Messages(&PreparedTurn{
		History:  []datatypes.Message{{Role: datatypes.RoleUser, Content: "halo"}},
		Question: conversation.Question("Apa itu Smartfren?"),
		Context:  "Smartfren adalah operator.",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "<context>\n  Smartfren adalah operator.\n</context>")
	assert.Contains(t, msgs[0].Content, "Human: halo")
	assert.Contains(t, msgs[0].Content, "Question: Apa itu Smartfren?")
	assert.NotContains(t, msgs[0].Content, "Current date and time")
}

func TestAnswerGenerator_IncludesCurrentTime(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.IncludeCurrentTime = true
	cfg.Location = time.FixedZone("WIB", 7*3600)
	g := NewAnswerGenerator(&MockLLMClient{}, prompts.NewStatic(prompts.Default()), cfg, nil, nil)
	g.now = func() time.Time { return time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC) }

	msgs, err := g.Messages(&PreparedTurn{Question: conversation.Question("jam berapa?"), Context: "info"})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "info\n\nCurrent date and time: Monday, 03 June 2024 16:30 WIB")

	msgs, err = g.Messages(&PreparedTurn{Question: conversation.Question("jam berapa?")})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "<context>\n  Current date and time: Monday, 03 June 2024 16:30 WIB")
}

func TestAnswerGenerator_MaxTokens(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		want      *int
	}{
		{name: "model default", maxTokens: 0, want: nil},
		{name: "capped", maxTokens: 256, want: llm.Int(256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockLLMClient{Tokens: []string{"ok"}}
			cfg := DefaultGeneratorConfig()
			cfg.MaxTokens = tt.maxTokens
			g := NewAnswerGenerator(client, prompts.NewStatic(prompts.Default()), cfg, nil, nil)

			_, err := g.Stream(context.Background(), &PreparedTurn{Question: conversation.Question("x")}, func(string) error { return nil })
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.LastParams.MaxTokens)
		})
	}
}

func TestGeneratorConfigFromEnv(t *testing.T) {
	t.Setenv("ANSWER_MAX_TOKENS", "512")
	t.Setenv("INCLUDE_CURRENT_TIME", "true")
	t.Setenv("TIMEZONE", "Not/AZone")

	cfg := GeneratorConfigFromEnv("llama3")
	assert.Equal(t, "llama3", cfg.Model)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.True(t, cfg.IncludeCurrentTime)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestAnswerGenerator_RenderFailureIsInternal(t *testing.T) {
	set := prompts.Default()
	set.Templates[prompts.Answer] = "{context} {unknown}"
	g := NewAnswerGenerator(&MockLLMClient{}, prompts.NewStatic(set), DefaultGeneratorConfig(), nil, nil)

	_, err := g.Stream(context.Background(), &PreparedTurn{Question: conversation.Question("x")}, func(string) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailure)
	assert.ErrorIs(t, err, prompts.ErrRender)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

// =============================================================================
// Status Mapping
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "cancelled", err: context.Canceled, want: StatusClientClosedRequest},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "invalid filter", err: vectorstore.ErrInvalidFilter, want: http.StatusInternalServerError},
		{name: "render", err: prompts.ErrRender, want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestStatusCode_NonStageError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("secret detail")))
}
