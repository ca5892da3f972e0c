// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used when the model has no registered encoding.
const fallbackEncoding = "cl100k_base"

// TokenCounter counts prompt and answer tokens for the token metrics.
//
// # Description
//
// Uses the tiktoken encoding of the configured model. When no encoding can be
// loaded (unknown local model, no network for the BPE files) it estimates
// one token per four bytes, which is close enough for usage dashboards.
//
// # Thread Safety
//
// Safe for concurrent use.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding for model, falling back to cl100k_base
// and then to estimation.
func NewTokenCounter(model string) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		slog.Warn("Token encoding unavailable, estimating token counts", "model", model, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// NewEstimatingTokenCounter returns a counter that never loads an encoding.
func NewEstimatingTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count as one token per four bytes,
// capped at the rune count. Non-empty text is at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if runes := utf8.RuneCountInString(text); n > runes {
		n = runes
	}
	if n < 1 {
		n = 1
	}
	return n
}
