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
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{
			name: "single question",
			req:  ChatRequest{Messages: []Message{{Role: RoleUser, Content: "Apa itu Smartfren?"}}},
		},
		{
			name: "history then question",
			req: ChatRequest{Messages: []Message{
				{Role: RoleUser, Content: "paket saya tidak aktif"},
				{Role: RoleAssistant, Content: "Maaf atas ketidaknyamanannya."},
				{Role: RoleUser, Content: "gimana caranya?"},
			}},
		},
		{name: "no messages", req: ChatRequest{}, wantErr: true},
		{
			name:    "unknown role",
			req:     ChatRequest{Messages: []Message{{Role: "bot", Content: "x"}}},
			wantErr: true,
		},
		{
			name:    "empty content",
			req:     ChatRequest{Messages: []Message{{Role: RoleUser, Content: ""}}},
			wantErr: true,
		},
		{
			name:    "oversized content",
			req:     ChatRequest{Messages: []Message{{Role: RoleUser, Content: strings.Repeat("a", MaxMessageContentBytes+1)}}},
			wantErr: true,
		},
		{
			name: "last message from assistant",
			req: ChatRequest{Messages: []Message{
				{Role: RoleUser, Content: "hai"},
				{Role: RoleAssistant, Content: "halo"},
			}},
			wantErr: true,
		},
		{
			name:    "bad request id",
			req:     ChatRequest{RequestID: "nope", Messages: []Message{{Role: RoleUser, Content: "x"}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatRequest_TooManyMessages(t *testing.T) {
	msgs := make([]Message, MaxMessagesPerRequest+1)
	for i := range msgs {
		msgs[i] = Message{Role: RoleUser, Content: "x"}
	}
	req := ChatRequest{Messages: msgs}
	assert.Error(t, req.Validate())
}

func TestChatRequest_LastMessageNotUserError(t *testing.T) {
	req := ChatRequest{Messages: []Message{{Role: RoleSystem, Content: "x"}}}
	assert.ErrorIs(t, req.Validate(), ErrLastMessageNotUser)
}

func TestChatRequest_EnsureDefaults(t *testing.T) {
	req := ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}
	req.EnsureDefaults()

	_, err := uuid.Parse(req.RequestID)
	require.NoError(t, err)
	assert.Greater(t, req.Timestamp, int64(0))
	assert.NoError(t, req.Validate())

	keep := ChatRequest{RequestID: "550e8400-e29b-41d4-a716-446655440000", Timestamp: 42}
	keep.EnsureDefaults()
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", keep.RequestID)
	assert.Equal(t, int64(42), keep.Timestamp)
}

func TestChatRequest_HistoryAndQuestion(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}}
	assert.Equal(t, "c", req.Question())
	assert.Equal(t, []Message{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}, req.History())

	empty := ChatRequest{}
	assert.Empty(t, empty.Question())
	assert.Nil(t, empty.History())
}

func TestIngestRequest_Validate(t *testing.T) {
	price := 50000.0
	ok := IngestRequest{Documents: []KnowledgeDocument{
		{Content: "Paket 50rb", Type: DocTypeProduct, Topic: "paket", Source: "produk.md", Price: &price},
		{Content: "Restart modem", Type: DocTypeTroubleshooting, Topic: "modem", Source: "faq.md"},
	}}
	assert.NoError(t, ok.Validate())

	bad := IngestRequest{Documents: []KnowledgeDocument{{Content: "x", Type: "promo", Topic: "t", Source: "s"}}}
	assert.Error(t, bad.Validate())

	negative := -1.0
	badPrice := IngestRequest{Documents: []KnowledgeDocument{{Content: "x", Type: DocTypeProduct, Topic: "t", Source: "s", Price: &negative}}}
	assert.Error(t, badPrice.Validate())

	assert.Error(t, (&IngestRequest{}).Validate())
}
