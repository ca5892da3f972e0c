// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedModel answers each pipeline prompt with a fixed reply.
type scriptedModel struct{}

func (scriptedModel) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	switch {
	case strings.Contains(prompt, "classify the question into exactly one"):
		return "troubleshooting", nil
	case strings.Contains(prompt, "different versions of the given user question"):
		return "cara cek sisa kuota\nkuota internet habis", nil
	default:
		return "Bagaimana cara cek sisa kuota?", nil
	}
}

func (scriptedModel) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "Cek aplikasi.", nil
}

func (scriptedModel) ChatStream(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	for _, tok := range []string{"Cek ", "aplikasi."} {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	return nil
}

func (scriptedModel) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (scriptedModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestService(t *testing.T, cfg Config) Service {
	t.Helper()
	cfg.OTelEndpoint = OTelEndpointDisabled
	reg := prometheus.NewRegistry()
	svc, err := New(cfg, &Options{
		Client:     scriptedModel{},
		Embedder:   scriptedModel{},
		Registerer: reg,
		Gatherer:   reg,
		Tokens:     observability.NewEstimatingTokenCounter(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.(*service).cleanup() })
	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port)
	assert.Equal(t, BackendOpenAI, result.LLMBackend)
	assert.Equal(t, "gpt-4o-mini", result.ModelName)
	assert.Equal(t, VectorBackendBadger, result.VectorBackend, "no Weaviate URL means the local store")
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 5, result.RateLimitBurst)
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.Zero(t, result.RateLimitRPS, "rate limiting is off unless configured")
}

func TestApplyConfigDefaults_TableDriven(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(t *testing.T, c Config)
	}{
		{
			name:  "weaviate url selects weaviate",
			input: Config{WeaviateURL: "http://weaviate:8080"},
			check: func(t *testing.T, c Config) { assert.Equal(t, VectorBackendWeaviate, c.VectorBackend) },
		},
		{
			name:  "explicit badger wins over url",
			input: Config{WeaviateURL: "http://weaviate:8080", VectorBackend: VectorBackendBadger},
			check: func(t *testing.T, c Config) { assert.Equal(t, VectorBackendBadger, c.VectorBackend) },
		},
		{
			name:  "custom values preserved",
			input: Config{Port: 8080, LLMBackend: BackendOllama, OTelEndpoint: "stdout", RateLimitBurst: 2},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 8080, c.Port)
				assert.Equal(t, BackendOllama, c.LLMBackend)
				assert.Equal(t, OTelEndpointStdout, c.OTelEndpoint)
				assert.Equal(t, 2, c.RateLimitBurst)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, applyConfigDefaults(tt.input))
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_UnknownLLMBackend(t *testing.T) {
	_, err := New(Config{LLMBackend: "llamafile", OTelEndpoint: OTelEndpointDisabled},
		&Options{Registerer: prometheus.NewRegistry()})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM backend")
}

func TestNew_UnknownVectorBackend(t *testing.T) {
	_, err := New(Config{VectorBackend: "pinecone", OTelEndpoint: OTelEndpointDisabled}, &Options{
		Client:     scriptedModel{},
		Embedder:   scriptedModel{},
		Registerer: prometheus.NewRegistry(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vector backend")
}

func TestNew_InvalidWeaviateURL(t *testing.T) {
	_, err := New(Config{VectorBackend: VectorBackendWeaviate, WeaviateURL: "weaviate", OTelEndpoint: OTelEndpointDisabled}, &Options{
		Client:     scriptedModel{},
		Embedder:   scriptedModel{},
		Registerer: prometheus.NewRegistry(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid Weaviate URL")
}

func TestNew_MissingPromptsFile(t *testing.T) {
	_, err := New(Config{PromptsFile: "/nonexistent/prompts.yaml", OTelEndpoint: OTelEndpointDisabled}, &Options{
		Client:     scriptedModel{},
		Embedder:   scriptedModel{},
		Registerer: prometheus.NewRegistry(),
	})

	require.Error(t, err)
}

func TestServiceImplementsInterface(t *testing.T) {
	var _ Service = (*service)(nil)
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestService_IngestThenAnswer(t *testing.T) {
	svc := newTestService(t, Config{IngestAPIKey: "s3cret"})
	router := svc.Router()

	ingest := `{"documents": [
		{"content": "Cek sisa kuota lewat aplikasi atau *123#.", "type": "troubleshooting", "topic": "kuota", "source": "faq/kuota.md"},
		{"content": "Paket Harian 49rb", "type": "product", "topic": "paket", "source": "p1", "price": 49000}
	]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(ingest))
	req.Header.Set("Authorization", "Bearer s3cret")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"messages": [{"role": "user", "content": "kuota saya habis, gimana cek sisanya?"}]}`)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Cek aplikasi.", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	sources, err := datatypes.DecodeSources(w.Header().Get(handlers.HeaderSources))
	require.NoError(t, err)
	require.Len(t, sources, 1, "troubleshooting plan searches troubleshooting chunks only")
	assert.Equal(t, "Cek sisa kuota lewat aplikasi atau *123#.", sources[0].PageContent)
}

func TestService_HealthAndMetrics(t *testing.T) {
	router := newTestService(t, Config{}).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"messages": [{"role": "user", "content": "halo?"}]}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutiancare_streaming_requests_total")
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, Config{})
	svc.(*service).config.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
