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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Converts Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct through a JSON round trip. GraphQL-level errors
// reported by Weaviate are returned as an error.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("Document").Do(ctx)
//	if err != nil { ... }
//	parsed, err := ParseGraphQLResponse[KnowledgeQueryResponse](resp)
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("GraphQL query failed: %s", strings.Join(msgs, "; "))
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Knowledge Response Types
// =============================================================================

// KnowledgeQueryResponse is the shape of a Get query on the knowledge class.
type KnowledgeQueryResponse struct {
	Get struct {
		Document []KnowledgeResult `json:"Document"`
	} `json:"Get"`
}

// KnowledgeResult is one knowledge object with its search metadata.
type KnowledgeResult struct {
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Topic      string   `json:"topic"`
	Price      *float64 `json:"price"`
	Product    string   `json:"product"`
	Source     string   `json:"source"`
	Additional struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

// ToChunk converts a result into a DocumentChunk. The product payload is stored
// as JSON text; it is decoded back into a map when it parses.
func (r KnowledgeResult) ToChunk() DocumentChunk {
	meta := map[string]any{
		MetaType:  r.Type,
		MetaTopic: r.Topic,
	}
	if r.Price != nil {
		meta[MetaPrice] = *r.Price
	}
	if r.Source != "" {
		meta[MetaSource] = r.Source
	}
	if r.Product != "" {
		var product map[string]any
		if err := json.Unmarshal([]byte(r.Product), &product); err == nil {
			meta[MetaProduct] = product
		} else {
			meta[MetaProduct] = r.Product
		}
	}
	return DocumentChunk{ID: r.Additional.ID, Content: r.Content, Metadata: meta}
}
