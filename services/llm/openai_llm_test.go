package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL + "/v1",
		Model:          "test-model",
		EmbeddingModel: "test-embedding",
	})
	require.NoError(t, err)
	return client
}

func TestOpenAIClient_Generate(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Apa itu Smartfren?"},"finish_reason":"stop"}]}`))
	})

	out, err := client.Generate(context.Background(), "condense this", GenerationParams{Temperature: Float32(0.2)})
	require.NoError(t, err)
	assert.Equal(t, "Apa itu Smartfren?", out)
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Maaf", " ya", ""} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var sb strings.Builder
	err := client.ChatStream(context.Background(), []datatypes.Message{{Role: "user", Content: "x"}}, GenerationParams{},
		func(ev StreamEvent) error {
			assert.Equal(t, StreamEventToken, ev.Type)
			sb.WriteString(ev.Content)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Maaf ya", sb.String())
}

func TestOpenAIClient_APIErrorStatus(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	})

	_, err := client.Generate(context.Background(), "x", GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(err))
}

func TestOpenAIClient_EmbedBatch_OrdersByIndex(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],"model":"test-embedding"}`))
	})

	vecs, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestNewOpenAIClientWithConfig_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClientWithConfig(OpenAIConfig{})
	assert.Error(t, err)
}

func TestHTTPStatus_Unknown(t *testing.T) {
	assert.Equal(t, 0, HTTPStatus(nil))
	assert.Equal(t, 0, HTTPStatus(fmt.Errorf("plain")))
	assert.Equal(t, 502, HTTPStatus(fmt.Errorf("wrapped: %w", &StatusError{Provider: "ollama", StatusCode: 502})))
}
