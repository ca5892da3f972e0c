// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// KnowledgeClass is the Weaviate class holding support knowledge and products.
const KnowledgeClass = "Document"

// GetKnowledgeSchema returns the class definition for ingested knowledge.
// Vectors are supplied by the service, so the class has no vectorizer.
func GetKnowledgeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       KnowledgeClass,
		Description: "A support knowledge chunk or product summary.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "type",
				DataType:        []string{"text"},
				Description:     "Knowledge type: product or troubleshooting.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "topic",
				DataType:        []string{"text"},
				Description:     "Topic of the originating document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "price",
				DataType:        []string{"number"},
				Description:     "Price of the product.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "product",
				DataType:    []string{"text"},
				Description: "Product payload as JSON text.",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Originating document and part number.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the knowledge class when it does not exist yet.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetKnowledgeSchema()
	slog.Info("Checking schema", "class", class.Class)

	exists, err := client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check schema for class %s: %w", class.Class, err)
	}
	if exists {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
