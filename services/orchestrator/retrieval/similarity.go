package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

// SimilarityRetriever embeds the query once and runs one vector search.
//
// # Example
//
//	products := NewSimilarityRetriever(embedder, store, vectorstore.Eq("type", "product"), 10)
//	chunks, err := products.Retrieve(ctx, "Apa itu Smartfren?")
type SimilarityRetriever struct {
	embedder llm.Embedder
	store    vectorstore.Store
	filter   *vectorstore.Filter
	k        int
}

// NewSimilarityRetriever creates a retriever. A nil filter searches the whole
// index; k <= 0 uses vectorstore.DefaultK.
func NewSimilarityRetriever(embedder llm.Embedder, store vectorstore.Store, filter *vectorstore.Filter, k int) *SimilarityRetriever {
	if k <= 0 {
		k = vectorstore.DefaultK
	}
	return &SimilarityRetriever{embedder: embedder, store: store, filter: filter, k: k}
}

// Name implements Retriever.
func (r *SimilarityRetriever) Name() string { return "similarity" }

// Retrieve implements Retriever.
func (r *SimilarityRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.DocumentChunk, error) {
	return Search(ctx, r.embedder, r.store, query, r.filter, r.k)
}

// Search is the common retrieve(query, filter, k) operation: embed query and
// return the k most similar chunks satisfying filter.
func Search(ctx context.Context, embedder llm.Embedder, store vectorstore.Store, query string, filter *vectorstore.Filter, k int) ([]datatypes.DocumentChunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("filter", filter.String()),
		attribute.Int("k", k),
	)

	if err := filter.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid filter")
		return nil, fmt.Errorf("%w: %w: %v", ErrRetrieval, vectorstore.ErrInvalidFilter, err)
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("%w: failed to embed query: %w", ErrRetrieval, err)
	}

	chunks, err := store.Search(ctx, vector, filter, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("%w: vector search failed: %w", ErrRetrieval, err)
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	return chunks, nil
}
