// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the customer-care answering service.
//
// The Orchestrator wires the language model client, the vector store, the
// prompt set, the answering pipeline and the HTTP surface, together with
// tracing and metrics.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "openai"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// Tests inject their own collaborators through Options:
//
//	svc, err := orchestrator.New(cfg, &orchestrator.Options{Client: mock, Embedder: mock})
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/knowledge"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/services"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run blocks and should be called once per instance. Router is safe to call
// at any time after New returns.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails. On
	// cancellation in-flight requests get ShutdownTimeout to finish.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, mainly for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Backend names.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"

	VectorBackendWeaviate = "weaviate"
	VectorBackendBadger   = "badger"
)

// Tracing endpoints with a special meaning.
const (
	OTelEndpointStdout   = "stdout"
	OTelEndpointDisabled = "none"
)

// Config holds orchestrator configuration.
//
// # Description
//
// Every field is optional; applyConfigDefaults fills in the zero values.
// cmd/orchestrator populates Config from the environment.
//
// # Examples
//
//	cfg := Config{
//	    Port:          12210,
//	    LLMBackend:    "openai",
//	    VectorBackend: "weaviate",
//	    WeaviateURL:   "http://weaviate:8080",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend selects the model provider: "openai" or "ollama".
	// Default: "openai"
	LLMBackend string

	// ModelName labels token metrics and selects the tokenizer.
	// Default: "gpt-4o-mini"
	ModelName string

	// VectorBackend selects the store: "weaviate" or "badger".
	// Default: "weaviate" when WeaviateURL is set, otherwise "badger".
	VectorBackend string

	// WeaviateURL is the Weaviate endpoint, e.g. "http://weaviate:8080".
	WeaviateURL string

	// BadgerPath is the Badger directory. Empty keeps the index in memory.
	BadgerPath string

	// PromptsFile overrides the built-in prompts with a YAML file that is
	// reloaded on change. Empty uses the built-in prompts.
	PromptsFile string

	// OTelEndpoint is the OTLP gRPC collector, "stdout" to print spans or
	// "none" to disable export.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// IngestAPIKey protects POST /v1/documents. Empty disables the check.
	IngestAPIKey string

	// RateLimitRPS is the per-client request rate on the chat endpoints.
	// Zero or less disables limiting.
	RateLimitRPS float64

	// RateLimitBurst is the per-client burst. Default: 5
	RateLimitBurst int

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// Options injects collaborators, replacing the ones New would build.
type Options struct {
	Client   llm.LLMClient
	Embedder llm.Embedder
	Store    vectorstore.Store

	// Registerer receives the metrics. Default: the Prometheus default
	// registry, served on /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Tokens *observability.TokenCounter
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Read-only after New returns.
type service struct {
	config   Config
	router   *gin.Engine
	client   llm.LLMClient
	embedder llm.Embedder
	store    vectorstore.Store
	prompts  prompts.Provider
	metrics  *observability.Metrics
	chat     *services.SupportChatService

	closers []func(context.Context)
}

// New builds the orchestrator.
//
// # Description
//
// New initializes, in order: tracing, metrics, the language model client,
// the vector store, the prompts and the pipeline, then the routes. A nil
// opts builds everything from cfg.
//
// # Outputs
//
//   - Service: ready to Run
//   - error: non-nil when a required collaborator cannot be created
func New(cfg Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: applyConfigDefaults(cfg)}

	if err := s.initTracer(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s.initMetrics(opts)

	if err := s.initLLM(opts); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initStore(opts); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	if err := s.initPrompts(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize prompts: %w", err)
	}

	s.initPipeline(opts)
	s.initRouter(opts)

	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down orchestrator server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = BackendOpenAI
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4o-mini"
	}
	if cfg.VectorBackend == "" {
		if strings.TrimSpace(cfg.WeaviateURL) != "" {
			cfg.VectorBackend = VectorBackendWeaviate
		} else {
			cfg.VectorBackend = VectorBackendBadger
		}
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

func (s *service) initTracer() error {
	if s.config.OTelEndpoint == OTelEndpointDisabled {
		slog.Info("Trace export disabled")
		return nil
	}
	ctx := context.Background()

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if s.config.OTelEndpoint == OTelEndpointStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		var conn *grpc.ClientConn
		conn, err = grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("aleutiancare-orchestrator")))
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	s.closers = append(s.closers, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace provider", "error", err)
		}
	})
	return nil
}

func (s *service) initMetrics(opts *Options) {
	if opts.Registerer != nil {
		s.metrics = observability.NewMetrics(opts.Registerer)
		return
	}
	if observability.DefaultMetrics == nil {
		observability.InitMetrics()
	}
	s.metrics = observability.DefaultMetrics
}

// chatModel is a provider that both generates and embeds.
type chatModel interface {
	llm.LLMClient
	llm.Embedder
}

func (s *service) initLLM(opts *Options) error {
	s.client, s.embedder = opts.Client, opts.Embedder
	if s.client != nil && s.embedder != nil {
		return nil
	}

	var (
		model chatModel
		err   error
	)
	switch s.config.LLMBackend {
	case BackendOpenAI:
		model, err = llm.NewOpenAIClient()
	case BackendOllama:
		model, err = llm.NewOllamaClient()
	default:
		return fmt.Errorf("unknown LLM backend %q", s.config.LLMBackend)
	}
	if err != nil {
		return err
	}
	slog.Info("Using LLM backend", "backend", s.config.LLMBackend)

	if s.client == nil {
		s.client = model
	}
	if s.embedder == nil {
		s.embedder = model
	}
	return nil
}

func (s *service) initStore(opts *Options) error {
	if opts.Store != nil {
		s.store = opts.Store
		return nil
	}

	switch s.config.VectorBackend {
	case VectorBackendWeaviate:
		client, err := newWeaviateClient(s.config.WeaviateURL)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
			return err
		}
		s.store = vectorstore.NewWeaviateStore(client, datatypes.KnowledgeClass)
		slog.Info("Using Weaviate vector store", "url", s.config.WeaviateURL)

	case VectorBackendBadger:
		store, err := vectorstore.NewBadgerStore(s.config.BadgerPath)
		if err != nil {
			return err
		}
		s.store = store
		s.closers = append(s.closers, func(context.Context) {
			if err := store.Close(); err != nil {
				slog.Warn("Badger close error", "error", err)
			}
		})
		slog.Info("Using Badger vector store", "path", s.config.BadgerPath, "inMemory", s.config.BadgerPath == "")

	default:
		return fmt.Errorf("unknown vector backend %q", s.config.VectorBackend)
	}
	return nil
}

func newWeaviateClient(rawURL string) (*weaviate.Client, error) {
	weaviateURL := strings.Trim(rawURL, "\"' ")
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

func (s *service) initPrompts() error {
	if s.config.PromptsFile == "" {
		s.prompts = prompts.NewStatic(prompts.Default())
		return nil
	}

	watcher, err := prompts.NewWatcher(s.config.PromptsFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go watcher.Run(ctx)

	s.prompts = watcher
	s.closers = append(s.closers, func(context.Context) {
		cancel()
		if err := watcher.Close(); err != nil {
			slog.Warn("Prompts watcher close error", "error", err)
		}
	})
	return nil
}

func (s *service) initPipeline(opts *Options) {
	// Rewrite, classification and query generation are deterministic.
	generate := llm.BindGenerate(s.client, llm.GenerationParams{Temperature: llm.Float32(0)})

	plans := services.DefaultPlanTable(services.PlanDeps{
		Generate:   generate,
		Embedder:   s.embedder,
		Store:      s.store,
		Prompts:    s.prompts,
		K:          services.RetrievalKFromEnv(),
		MultiQuery: retrieval.DefaultMultiQueryConfig(),
		Metrics:    s.metrics,
	})

	tokens := opts.Tokens
	if tokens == nil {
		tokens = observability.NewTokenCounter(s.config.ModelName)
	}
	generator := services.NewAnswerGenerator(s.client, s.prompts,
		services.GeneratorConfigFromEnv(s.config.ModelName), tokens, s.metrics)

	s.chat = services.NewSupportChatService(
		conversation.NewLLMQueryRewriter(generate, s.prompts, conversation.DefaultRewriterConfig()),
		conversation.NewLLMIntentClassifier(generate, s.prompts),
		plans, generator, s.prompts, services.DefaultConfig(), s.metrics,
	)
}

func (s *service) initRouter(opts *Options) {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("aleutiancare-orchestrator"))
	s.router.Use(middleware.RequestID(), middleware.RequestLogger())

	var metricsHandler http.Handler = promhttp.Handler()
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Chat:         handlers.NewChatHandler(s.chat, s.metrics),
		Ingester:     knowledge.NewIngester(s.embedder, s.store, knowledge.DefaultBatchSize, s.metrics),
		IngestAPIKey: s.config.IngestAPIKey,
		Limiter:      middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst, s.metrics),
		Metrics:      metricsHandler,
	})
}

// cleanup releases collaborators in reverse order of creation.
func (s *service) cleanup() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](context.Background())
	}
	s.closers = nil
}

var _ Service = (*service)(nil)
