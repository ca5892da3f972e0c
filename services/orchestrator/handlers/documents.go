// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/middleware"
)

// Ingester stores knowledge documents.
type Ingester interface {
	Ingest(ctx context.Context, docs []datatypes.KnowledgeDocument) (datatypes.IngestResponse, error)
}

// CreateDocuments ingests a batch of knowledge documents.
//
// Responds 201 with the number of chunks created, 400 on an invalid body and
// 500 when embedding or storage fails. A partial failure still reports the
// chunks that were stored.
func CreateDocuments(ingester Ingester) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("Ingest request validation failed", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: validation failed"})
			return
		}

		resp, err := ingester.Ingest(c.Request.Context(), req.Documents)
		if err != nil {
			slog.Error("Knowledge ingestion failed",
				"error", err,
				"requestId", middleware.GetRequestID(c),
				"chunksCreated", resp.ChunksCreated,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":          "Failed to ingest documents",
				"chunks_created": resp.ChunksCreated,
			})
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
