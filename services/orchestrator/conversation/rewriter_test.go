package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
)

// =============================================================================
// Test Helpers
// =============================================================================

// mockGenerator creates a GenerateFunc with call tracking for tests.
// Returns the function and pointers to track callCount and lastPrompt.
func mockGenerator(response string, err error) (llm.GenerateFunc, *int, *string) {
	callCount := 0
	lastPrompt := ""
	fn := func(ctx context.Context, prompt string) (string, error) {
		callCount++
		lastPrompt = prompt
		return response, err
	}
	return fn, &callCount, &lastPrompt
}

func defaultPrompts() prompts.Provider {
	return prompts.NewStatic(prompts.Default())
}

var sampleHistory = []datatypes.Message{
	{Role: datatypes.RoleUser, Content: "Paket Unlimited Nonstop itu apa?"},
	{Role: datatypes.RoleAssistant, Content: "Paket internet tanpa batas kuota harian."},
}

// =============================================================================
// Rewrite Tests
// =============================================================================

func TestRewrite_Question(t *testing.T) {
	gen, calls, lastPrompt := mockGenerator("Berapa harga paket Unlimited Nonstop?", nil)
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{})

	q, err := rewriter.Rewrite(context.Background(), sampleHistory, "berapa harganya?")

	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.True(t, q.IsQuestion)
	assert.Equal(t, "Berapa harga paket Unlimited Nonstop?", q.Text)
	assert.Contains(t, *lastPrompt, "Human: Paket Unlimited Nonstop itu apa?\nAssistant: Paket internet tanpa batas kuota harian.")
	assert.Contains(t, *lastPrompt, "Follow Up Input: berapa harganya?")
	assert.NotContains(t, *lastPrompt, "{chat_history}")
}

func TestRewrite_NonQuestionMarker(t *testing.T) {
	gen, _, _ := mockGenerator("[NOT_QUESTION] terima kasih banyak", nil)
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{})

	q, err := rewriter.Rewrite(context.Background(), sampleHistory, "terima kasih banyak")

	require.NoError(t, err)
	assert.False(t, q.IsQuestion)
	assert.Equal(t, "terima kasih banyak", q.Text)
	assert.Equal(t, "[NOT_QUESTION] terima kasih banyak", q.Prompt("[NOT_QUESTION]"))
}

func TestRewrite_EmptyResponseFallsBackToMessage(t *testing.T) {
	gen, _, _ := mockGenerator("   \n", nil)
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{})

	q, err := rewriter.Rewrite(context.Background(), nil, "  Apa itu Smartfren?  ")

	require.NoError(t, err)
	assert.True(t, q.IsQuestion)
	assert.Equal(t, "Apa itu Smartfren?", q.Text)
}

func TestRewrite_LLMErrorFails(t *testing.T) {
	gen, calls, _ := mockGenerator("", errors.New("connection refused"))
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{})

	_, err := rewriter.Rewrite(context.Background(), sampleHistory, "halo")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, *calls, "no retry inside the rewriter")
}

func TestRewrite_EmptyHistoryStillCondensesByDefault(t *testing.T) {
	gen, calls, _ := mockGenerator("[NOT_QUESTION] halo", nil)
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{})

	q, err := rewriter.Rewrite(context.Background(), nil, "halo")

	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.False(t, q.IsQuestion)
}

func TestRewrite_SkipWithoutHistory(t *testing.T) {
	gen, calls, _ := mockGenerator("should not be used", nil)
	rewriter := NewLLMQueryRewriter(gen, defaultPrompts(), RewriterConfig{SkipWithoutHistory: true})

	q, err := rewriter.Rewrite(context.Background(), nil, "Apa itu Smartfren?")

	require.NoError(t, err)
	assert.Equal(t, 0, *calls)
	assert.Equal(t, Question("Apa itu Smartfren?"), q)
}

// =============================================================================
// ParseStandaloneQuestion Tests
// =============================================================================

func TestParseStandaloneQuestion(t *testing.T) {
	const marker = "[NOT_QUESTION]"

	tests := []struct {
		name     string
		response string
		original string
		want     StandaloneQuestion
	}{
		{"plain", "Apa itu Smartfren?", "apa itu?", Question("Apa itu Smartfren?")},
		{"label prefix", "Standalone question: Apa itu Smartfren?", "x", Question("Apa itu Smartfren?")},
		{"quoted", "\"Apa itu Smartfren?\"", "x", Question("Apa itu Smartfren?")},
		{"marker", "[NOT_QUESTION] oke siap", "oke siap", NonQuestion("oke siap")},
		{"quoted marker", "\"[NOT_QUESTION] oke\"", "oke", NonQuestion("oke")},
		{"bare marker", "[NOT_QUESTION]", "oke", NonQuestion("oke")},
		{"empty", "", "Apa itu Smartfren?", Question("Apa itu Smartfren?")},
		{"marker mid text is a question", "Is [NOT_QUESTION] a tag?", "x", Question("Is [NOT_QUESTION] a tag?")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStandaloneQuestion(tt.response, marker, tt.original)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got.Text)
		})
	}
}

func TestStandaloneQuestion_Prompt(t *testing.T) {
	assert.Equal(t, "Apa itu Smartfren?", Question("Apa itu Smartfren?").Prompt("[NOT_QUESTION]"))
	assert.Equal(t, "[NOT_QUESTION] halo", NonQuestion("halo").Prompt("[NOT_QUESTION]"))
}

// =============================================================================
// History Tests
// =============================================================================

func TestFormatHistory(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "halo"},
		{Role: datatypes.RoleAssistant, Content: "Halo! Ada yang bisa dibantu?"},
		{Role: datatypes.RoleSystem, Content: "note"},
	}

	assert.Equal(t, "Human: halo\nAssistant: Halo! Ada yang bisa dibantu?\nsystem: note", FormatHistory(history))
	assert.Equal(t, "", FormatHistory(nil))
}

func TestCopyHistory_IsIndependent(t *testing.T) {
	history := []datatypes.Message{{Role: datatypes.RoleUser, Content: "halo"}}

	copied := CopyHistory(history)
	history[0].Content = "changed"

	assert.Equal(t, "halo", copied[0].Content)
	assert.Nil(t, CopyHistory(nil))
}
