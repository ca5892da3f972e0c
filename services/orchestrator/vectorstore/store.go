// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore provides the vector retrieval backends used by the
// answering pipeline and the knowledge ingestion endpoint.
//
// # Backends
//
//   - WeaviateStore: remote Weaviate instance, native where-filters.
//   - BadgerStore: embedded Badger database with brute-force cosine search,
//     used for local development and tests (in-memory mode).
//
// # Thread Safety
//
// Both backends are safe for concurrent use.
package vectorstore

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// DefaultK is the number of chunks returned when a caller asks for k <= 0.
const DefaultK = 10

// ErrInvalidFilter wraps filter translation failures.
var ErrInvalidFilter = errors.New("invalid retrieval filter")

// Store is the Vector Retrieval Service.
//
// Search returns at most k chunks ordered by descending similarity. The order is
// deterministic for a fixed index state. An empty result is not an error.
type Store interface {
	Search(ctx context.Context, embedding []float32, filter *Filter, k int) ([]datatypes.DocumentChunk, error)
	Upsert(ctx context.Context, chunks []datatypes.DocumentChunk, vectors [][]float32) (int, error)
}
