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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

const (
	chunkPrefix = "chunk:"
	seqKey      = "meta:seq"
)

// storedChunk is the value written under chunk:<id>.
type storedChunk struct {
	Seq    uint64                  `json:"seq"`
	Chunk  datatypes.DocumentChunk `json:"chunk"`
	Vector []float32               `json:"vector"`
}

// BadgerStore is an embedded vector store.
//
// # Description
//
// Chunks and vectors are stored as JSON under chunk:<id>. Search scans every
// chunk, applies the Filter in-process and ranks by cosine similarity. Ties
// are broken by insertion order, which keeps results deterministic.
//
// # Limitations
//
//   - Linear scan; intended for development data sets and tests.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store at dbPath. An empty path opens an in-memory store.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Upsert stores chunks with their vectors. Re-upserting an ID keeps its original
// insertion position.
func (s *BadgerStore) Upsert(ctx context.Context, chunks []datatypes.DocumentChunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := readSeq(txn)
		if err != nil {
			return err
		}
		for i, chunk := range chunks {
			if chunk.ID == "" {
				chunk.ID = ChunkID(chunk.MetadataString(datatypes.MetaSource), chunk.Content)
			}
			key := []byte(chunkPrefix + chunk.ID)

			rec := storedChunk{Chunk: chunk, Vector: vectors[i]}
			existing, err := txn.Get(key)
			switch {
			case err == nil:
				if err := existing.Value(func(val []byte) error {
					var prev storedChunk
					if err := json.Unmarshal(val, &prev); err != nil {
						return err
					}
					rec.Seq = prev.Seq
					return nil
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				seq++
				rec.Seq = seq
			default:
				return err
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal chunk: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		return txn.Set([]byte(seqKey), buf)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(chunks), nil
}

// Search ranks every stored chunk that satisfies filter by cosine similarity.
func (s *BadgerStore) Search(ctx context.Context, embedding []float32, filter *Filter, k int) ([]datatypes.DocumentChunk, error) {
	if k <= 0 {
		k = DefaultK
	}
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	type scored struct {
		rec   storedChunk
		score float64
	}
	var hits []scored

	prefix := []byte(chunkPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec storedChunk
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				if !filter.Match(rec.Chunk.Metadata) {
					return nil
				}
				hits = append(hits, scored{rec: rec, score: CosineSimilarity(embedding, rec.Vector)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.Seq < hits[j].rec.Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]datatypes.DocumentChunk, len(hits))
	for i, h := range hits {
		out[i] = h.rec.Chunk
	}
	return out, nil
}

func readSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(seqKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value")
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
