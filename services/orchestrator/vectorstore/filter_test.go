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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	product := map[string]any{"type": "product", "price": 45000.0}
	pricey := map[string]any{"type": "product", "price": 99000.0}
	noPrice := map[string]any{"type": "product"}
	trouble := map[string]any{"type": "troubleshooting"}

	tests := []struct {
		name   string
		filter *Filter
		meta   map[string]any
		want   bool
	}{
		{"nil matches all", nil, trouble, true},
		{"eq string", Eq("type", "product"), product, true},
		{"eq string mismatch", Eq("type", "product"), trouble, false},
		{"ne string", Ne("type", "product"), trouble, true},
		{"lt under bound", Lt("price", 50000), product, true},
		{"lt over bound", Lt("price", 50000), pricey, false},
		{"lte equal", Lte("price", 45000.0), product, true},
		{"gt", Gt("price", 50000), pricey, true},
		{"gte", Gte("price", 99000), pricey, true},
		{"missing attribute fails comparison", Lt("price", 50000), noPrice, false},
		{"missing attribute passes ne", Ne("price", 50000), noPrice, true},
		{"and all hold", And(Eq("type", "product"), Lt("price", 50000)), product, true},
		{"and one fails", And(Eq("type", "product"), Lt("price", 50000)), pricey, false},
		{"numeric string metadata", Lt("price", 50000), map[string]any{"price": "30000"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.meta))
		})
	}
}

func TestAnd_Collapses(t *testing.T) {
	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))

	single := Eq("type", "product")
	assert.Same(t, single, And(nil, single))

	both := And(single, Lt("price", 1))
	require.NotNil(t, both)
	assert.Equal(t, OpAnd, both.Operator)
	assert.Len(t, both.Operands, 2)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, (*Filter)(nil).Validate())
	assert.NoError(t, And(Eq("type", "product"), Lt("price", 50000.0)).Validate())

	assert.Error(t, (&Filter{Operator: OpAnd}).Validate())
	assert.Error(t, (&Filter{Operator: "like", Attribute: "x", Value: "y"}).Validate())
	assert.Error(t, Eq("", "x").Validate())
	assert.Error(t, Eq("type", nil).Validate())
	assert.Error(t, Lt("price", "cheap").Validate())
	assert.Error(t, (&Filter{Operator: OpAnd, Operands: []*Filter{nil}}).Validate())
}

func TestFilter_String(t *testing.T) {
	f := And(Eq("type", "product"), Lt("price", 50000))
	assert.Equal(t, `type = "product" AND price < 50000`, f.String())
	assert.Equal(t, "<none>", (*Filter)(nil).String())
}

func TestToWhere(t *testing.T) {
	where, err := ToWhere(nil)
	require.NoError(t, err)
	assert.Nil(t, where)

	where, err = ToWhere(And(Eq("type", "product"), Lt("price", 50000)))
	require.NoError(t, err)
	built := where.Build()
	require.NotNil(t, built)
	assert.Equal(t, "And", built.Operator)
	require.Len(t, built.Operands, 2)

	eq := built.Operands[0]
	assert.Equal(t, []string{"type"}, eq.Path)
	assert.Equal(t, "Equal", eq.Operator)
	require.NotNil(t, eq.ValueText)
	assert.Equal(t, "product", *eq.ValueText)

	lt := built.Operands[1]
	assert.Equal(t, []string{"price"}, lt.Path)
	assert.Equal(t, "LessThan", lt.Operator)
	require.NotNil(t, lt.ValueNumber)
	assert.Equal(t, 50000.0, *lt.ValueNumber)
}

func TestToWhere_Invalid(t *testing.T) {
	_, err := ToWhere(Lt("price", "murah"))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestChunkID_Stable(t *testing.T) {
	a := ChunkID("faq.md_part_1", "Restart your modem")
	b := ChunkID("faq.md_part_1", "Restart your modem")
	c := ChunkID("faq.md_part_2", "Restart your modem")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}
