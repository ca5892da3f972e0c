// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

func TestSSEParser_ParseLine_Skipped(t *testing.T) {
	parser := NewSSEParser()

	tests := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"carriage return", "\r"},
		{"keepalive comment", ": ping"},
		{"event name", "event: token"},
		{"id field", "id: 7"},
		{"unknown field", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.ParseLine(tt.line)
			require.NoError(t, err)
			assert.Nil(t, event)
		})
	}
}

func TestSSEParser_ParseLine_Data(t *testing.T) {
	parser := NewSSEParser()

	event, err := parser.ParseLine(`data: {"id":"e1","type":"token","created_at":5,"content":"Cek ","hash":"h1","prev_hash":"h0"}`)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "e1", event.Id)
	assert.Equal(t, datatypes.EventToken, event.Type)
	assert.Equal(t, int64(5), event.CreatedAt)
	assert.Equal(t, "Cek ", event.Content)
	assert.Equal(t, "h1", event.Hash)
	assert.Equal(t, "h0", event.PrevHash)
}

func TestSSEParser_ParseLine_DataWithoutSpace(t *testing.T) {
	event, err := NewSSEParser().ParseLine(`data:{"type":"error","error":"Internal server error","status":502}`)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, datatypes.EventError, event.Type)
	assert.Equal(t, 502, event.Status)
}

func TestSSEParser_ParseLine_InvalidJSON(t *testing.T) {
	event, err := NewSSEParser().ParseLine("data: {not json")
	assert.Error(t, err)
	assert.Nil(t, event)
}
