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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Chat roles accepted in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Metadata keys written at ingestion and read by retrieval.
const (
	MetaType    = "type"
	MetaTopic   = "topic"
	MetaPrice   = "price"
	MetaProduct = "product"
	MetaSource  = "source"
)

// Knowledge document types.
const (
	DocTypeProduct         = "product"
	DocTypeTroubleshooting = "troubleshooting"
)

// Message is one chat turn. A conversation is an ordered []Message, oldest first.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// DocumentChunk is a retrieved piece of knowledge with its metadata.
//
// Chunks are immutable once returned by a store. Metadata always carries
// "type" and "topic" for ingested knowledge; products may carry "price"
// (float64) and "product".
type DocumentChunk struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// MetadataString returns a string metadata value, or "" when absent.
func (d DocumentChunk) MetadataString(key string) string {
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MetadataNumber returns a numeric metadata value. Numeric strings are accepted.
func (d DocumentChunk) MetadataNumber(key string) (float64, bool) {
	return ToFloat(d.Metadata[key])
}

// ToFloat converts the scalar types found in metadata to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SourceDocument is the client-facing form of a source chunk.
type SourceDocument struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// ToSourceDocuments converts chunks to their client-facing form, keeping order.
// A nil or empty input yields an empty, non-nil slice so it encodes as [].
func ToSourceDocuments(chunks []DocumentChunk) []SourceDocument {
	out := make([]SourceDocument, 0, len(chunks))
	for _, c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		out = append(out, SourceDocument{PageContent: c.Content, Metadata: meta})
	}
	return out
}

// EncodeSources serializes chunks as base64(JSON array of SourceDocument),
// the format carried in the X-Sources response header.
func EncodeSources(chunks []DocumentChunk) (string, error) {
	raw, err := json.Marshal(ToSourceDocuments(chunks))
	if err != nil {
		return "", fmt.Errorf("failed to encode sources: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSources reverses EncodeSources.
func DecodeSources(encoded string) ([]SourceDocument, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid sources encoding: %w", err)
	}
	var docs []SourceDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("invalid sources payload: %w", err)
	}
	return docs, nil
}
