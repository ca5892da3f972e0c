// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var weaviateTracer = otel.Tracer("aleutiancare.vectorstore.weaviate")

// WeaviateStore searches the knowledge class of a Weaviate instance.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateStore wraps an initialized client. An empty className uses the
// knowledge class.
func NewWeaviateStore(client *weaviate.Client, className string) *WeaviateStore {
	if className == "" {
		className = datatypes.KnowledgeClass
	}
	return &WeaviateStore{client: client, className: className}
}

// knowledgeFields are requested for every hit.
var knowledgeFields = []graphql.Field{
	{Name: "content"},
	{Name: "type"},
	{Name: "topic"},
	{Name: "price"},
	{Name: "product"},
	{Name: "source"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "distance"},
	}},
}

// Search runs a nearVector query with the translated where-filter.
//
// # Description
//
// The Filter tree is translated into a filters.WhereBuilder before the query is
// sent; a translation failure is returned wrapped in ErrInvalidFilter without
// calling Weaviate. Weaviate orders nearVector hits by ascending distance, which
// is descending similarity.
func (s *WeaviateStore) Search(ctx context.Context, embedding []float32, filter *Filter, k int) ([]datatypes.DocumentChunk, error) {
	ctx, span := weaviateTracer.Start(ctx, "WeaviateStore.Search")
	defer span.End()
	if k <= 0 {
		k = DefaultK
	}
	span.SetAttributes(attribute.Int("retrieval.k", k), attribute.String("retrieval.filter", filter.String()))

	where, err := ToWhere(filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)
	query := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(knowledgeFields...).
		WithNearVector(nearVector).
		WithLimit(k)
	if where != nil {
		query = query.WithWhere(where)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	chunks := make([]datatypes.DocumentChunk, 0, len(parsed.Get.Document))
	for _, r := range parsed.Get.Document {
		chunks = append(chunks, r.ToChunk())
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(chunks)))
	slog.Debug("Weaviate search complete", "class", s.className, "hits", len(chunks), "filter", filter.String())
	return chunks, nil
}

// Upsert writes chunks with their vectors through the objects batcher.
// Objects are keyed by chunk ID, so re-ingesting a chunk overwrites it.
func (s *WeaviateStore) Upsert(ctx context.Context, chunks []datatypes.DocumentChunk, vectors [][]float32) (int, error) {
	ctx, span := weaviateTracer.Start(ctx, "WeaviateStore.Upsert")
	defer span.End()
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = ChunkID(chunk.MetadataString(datatypes.MetaSource), chunk.Content)
		}
		props := map[string]interface{}{
			"content":     chunk.Content,
			"type":        chunk.MetadataString(datatypes.MetaType),
			"topic":       chunk.MetadataString(datatypes.MetaTopic),
			"source":      chunk.MetadataString(datatypes.MetaSource),
			"ingested_at": now,
		}
		if price, ok := chunk.MetadataNumber(datatypes.MetaPrice); ok {
			props["price"] = price
		}
		if product, ok := chunk.Metadata[datatypes.MetaProduct]; ok && product != nil {
			raw, err := json.Marshal(product)
			if err != nil {
				return 0, fmt.Errorf("failed to encode product payload: %w", err)
			}
			props["product"] = string(raw)
		}
		objects[i] = &models.Object{
			Class:      s.className,
			ID:         strfmt.UUID(id),
			Vector:     vectors[i],
			Properties: props,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "id", item.ID, "error", errItem.Message)
			}
			continue
		}
		created++
	}
	span.SetAttributes(attribute.Int("ingest.created", created))
	return created, nil
}

// ToWhere translates a Filter into a Weaviate where-filter. A nil filter yields nil.
func ToWhere(f *Filter) (*filters.WhereBuilder, error) {
	if f == nil {
		return nil, nil
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return toWhere(f)
}

func toWhere(f *Filter) (*filters.WhereBuilder, error) {
	if f.Operator == OpAnd {
		operands := make([]*filters.WhereBuilder, 0, len(f.Operands))
		for _, op := range f.Operands {
			w, err := toWhere(op)
			if err != nil {
				return nil, err
			}
			operands = append(operands, w)
		}
		return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
	}

	var operator filters.WhereOperator
	switch f.Operator {
	case OpEq:
		operator = filters.Equal
	case OpNe:
		operator = filters.NotEqual
	case OpLt:
		operator = filters.LessThan
	case OpLte:
		operator = filters.LessThanEqual
	case OpGt:
		operator = filters.GreaterThan
	case OpGte:
		operator = filters.GreaterThanEqual
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, f.Operator)
	}

	w := filters.Where().WithPath([]string{f.Attribute}).WithOperator(operator)
	switch v := f.Value.(type) {
	case string:
		return w.WithValueText(v), nil
	case bool:
		return w.WithValueBoolean(v), nil
	default:
		n, ok := datatypes.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported value type %T for %q", ErrInvalidFilter, v, f.Attribute)
		}
		return w.WithValueNumber(n), nil
	}
}

// ChunkID derives a stable UUID from a chunk's source and content.
func ChunkID(source, content string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+content)).String()
}
