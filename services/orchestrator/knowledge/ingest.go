// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge loads support articles and product summaries into the
// vector store.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

var tracer = otel.Tracer("aleutiancare.knowledge")

const (
	ChunkSize    = 1000
	ChunkOverlap = ChunkSize / 10

	// DefaultBatchSize is the number of chunks embedded per EmbedBatch call.
	DefaultBatchSize = 64
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// Ingester splits, embeds and stores knowledge documents.
//
// # Description
//
// Every chunk carries the metadata retrieval filters on: type and topic,
// plus price and product for products, and source. Chunk IDs are derived
// from source and content, so ingesting the same document again overwrites
// its chunks instead of duplicating them.
//
// # Thread Safety
//
// Ingester is safe for concurrent use.
type Ingester struct {
	embedder  llm.Embedder
	store     vectorstore.Store
	batchSize int
	metrics   *observability.Metrics
}

// NewIngester creates an ingester. batchSize <= 0 uses DefaultBatchSize.
func NewIngester(embedder llm.Embedder, store vectorstore.Store, batchSize int, metrics *observability.Metrics) *Ingester {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Ingester{embedder: embedder, store: store, batchSize: batchSize, metrics: metrics}
}

// Ingest stores docs and reports how many chunks were written.
func (i *Ingester) Ingest(ctx context.Context, docs []datatypes.KnowledgeDocument) (datatypes.IngestResponse, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Ingest")
	defer span.End()

	var chunks []datatypes.DocumentChunk
	for _, doc := range docs {
		docChunks, err := Split(doc)
		if err != nil {
			span.RecordError(err)
			return datatypes.IngestResponse{}, err
		}
		chunks = append(chunks, docChunks...)
	}
	span.SetAttributes(attribute.Int("ingest.documents", len(docs)), attribute.Int("ingest.chunks", len(chunks)))

	created := 0
	for start := 0; start < len(chunks); start += i.batchSize {
		end := min(start+i.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}
		vectors, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return datatypes.IngestResponse{Documents: len(docs), ChunksCreated: created},
				fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}

		n, err := i.store.Upsert(ctx, batch, vectors)
		created += n
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			return datatypes.IngestResponse{Documents: len(docs), ChunksCreated: created},
				fmt.Errorf("failed to store chunks %d-%d: %w", start, end, err)
		}
		for _, c := range batch[:n] {
			i.metrics.RecordIngested(c.MetadataString(datatypes.MetaType), 1)
		}
	}

	slog.Info("Knowledge ingested", "documents", len(docs), "chunks", len(chunks), "created", created)
	return datatypes.IngestResponse{Documents: len(docs), ChunksCreated: created}, nil
}

// Split cuts doc into chunks with their metadata.
func Split(doc datatypes.KnowledgeDocument) ([]datatypes.DocumentChunk, error) {
	texts, err := splitterFor(doc.Source).SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", doc.Source, err)
	}

	chunks := make([]datatypes.DocumentChunk, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := map[string]any{
			datatypes.MetaType:   doc.Type,
			datatypes.MetaTopic:  doc.Topic,
			datatypes.MetaSource: doc.Source,
		}
		if doc.Price != nil {
			meta[datatypes.MetaPrice] = *doc.Price
		}
		if doc.Product != nil {
			meta[datatypes.MetaProduct] = doc.Product
		}
		chunks = append(chunks, datatypes.DocumentChunk{
			ID:       vectorstore.ChunkID(doc.Source, text),
			Content:  text,
			Metadata: meta,
		})
	}
	return chunks, nil
}

func splitterFor(source string) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}
