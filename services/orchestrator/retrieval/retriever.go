// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the retrieval strategies of the answering pipeline.
//
// # Strategies
//
//   - SimilarityRetriever: one embedding and one vector search with a static
//     metadata filter.
//   - MultiQueryRetriever: the language model paraphrases the query, every
//     paraphrase is searched concurrently and the results are merged without
//     duplicate content.
//   - SelfQueryRetriever: the language model extracts attribute conditions
//     (for example price < 50000) and a semantic query from the question; the
//     conditions become a vector store filter.
//
// # Contract
//
// Every strategy returns chunks ordered by descending similarity. Zero chunks
// is a valid result. Retrieval has no side effects, so a call can be repeated.
// Embedding and vector store errors are returned to the caller; language model
// problems during query expansion or extraction degrade locally.
package retrieval

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutiancare.retrieval")

// ErrRetrieval marks embedding and vector store failures.
var ErrRetrieval = errors.New("retrieval failed")

// Retriever is one configured retrieval strategy.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	// Retrieve returns the chunks for query, most similar first.
	Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error)

	// Name identifies the strategy in logs and traces.
	Name() string
}

// DedupeByContent removes chunks whose content was already seen, keeping the
// first occurrence and the input order.
func DedupeByContent(chunks []datatypes.DocumentChunk) []datatypes.DocumentChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]datatypes.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.Content]; ok {
			continue
		}
		seen[c.Content] = struct{}{}
		out = append(out, c)
	}
	return out
}
