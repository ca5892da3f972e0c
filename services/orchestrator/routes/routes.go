// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

// Deps are the handlers and middleware the routes are built from.
type Deps struct {
	// Chat serves the chat endpoints. Required.
	Chat *handlers.ChatHandler

	// Ingester backs POST /v1/documents. The route is not registered when nil.
	Ingester handlers.Ingester

	// IngestAPIKey protects POST /v1/documents. Empty disables the check.
	IngestAPIKey string

	// Limiter rate limits the chat endpoints. May be nil.
	Limiter *middleware.RateLimiter

	// Metrics serves GET /metrics. May be nil.
	Metrics http.Handler
}

// SetupRoutes registers every endpoint of the orchestrator on router.
//
// Panics if deps.Chat is nil.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Chat == nil {
		panic("SetupRoutes: chat handler must not be nil")
	}

	router.GET("/health", handlers.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/v1")
	{
		chat := v1.Group("/chat")
		{
			chat.POST("/stream", limit(deps.Limiter, observability.EndpointChatStream), deps.Chat.HandleChatStream)
			chat.POST("", limit(deps.Limiter, observability.EndpointChatText), deps.Chat.HandleChatText)
			chat.GET("/ws", limit(deps.Limiter, observability.EndpointChatWS), deps.Chat.HandleChatWebSocket)
		}

		if deps.Ingester != nil {
			v1.POST("/documents",
				middleware.APIKeyAuth(deps.IngestAPIKey),
				limit(deps.Limiter, observability.EndpointDocuments),
				handlers.CreateDocuments(deps.Ingester),
			)
		}
	}
}

func limit(l *middleware.RateLimiter, endpoint observability.Endpoint) gin.HandlerFunc {
	if l == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return l.Middleware(endpoint)
}
