// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the AleutianCare answering service.
//
// It reads configuration from environment variables and serves until
// SIGINT or SIGTERM.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: openai or ollama (default: openai)
//   - MODEL_NAME: chat model, also used for token metrics (default: gpt-4o-mini)
//   - VECTOR_BACKEND: weaviate or badger (default: weaviate when WEAVIATE_SERVICE_URL is set)
//   - WEAVIATE_SERVICE_URL: Weaviate URL
//   - BADGER_PATH: Badger directory; empty keeps the index in memory
//   - PROMPTS_FILE: YAML prompts overriding the built-in ones
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector, "stdout" or "none"
//   - INGEST_API_KEY: bearer key for POST /v1/documents
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST: per-client limits on the chat endpoints
//   - LOG_LEVEL, LOG_DIR: logging
//
// Pipeline knobs (RETRIEVAL_K, MULTI_QUERY_MAX, CLASSIFY_INTENT,
// INCLUDE_CURRENT_TIME, TIMEZONE, ANSWER_MAX_TOKENS,
// REWRITE_SKIP_WITHOUT_HISTORY) are read by the packages that own them.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianCare/pkg/envutil"
	"github.com/AleutianAI/AleutianCare/pkg/logging"
	"github.com/AleutianAI/AleutianCare/services/orchestrator"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "orchestrator",
		Format:  logging.FormatJSON,
		Output:  os.Stdout,
		LogDir:  os.Getenv("LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := orchestrator.Config{
		Port:           envutil.Int("ORCHESTRATOR_PORT", 12210),
		LLMBackend:     envutil.String("LLM_BACKEND_TYPE", orchestrator.BackendOpenAI),
		ModelName:      os.Getenv("MODEL_NAME"),
		VectorBackend:  os.Getenv("VECTOR_BACKEND"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		BadgerPath:     os.Getenv("BADGER_PATH"),
		PromptsFile:    os.Getenv("PROMPTS_FILE"),
		OTelEndpoint:   envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		IngestAPIKey:   os.Getenv("INGEST_API_KEY"),
		RateLimitRPS:   envutil.Float64("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envutil.Int("RATE_LIMIT_BURST", 5),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llmBackend", cfg.LLMBackend,
		"vectorBackend", cfg.VectorBackend,
		"weaviateUrl", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
}
