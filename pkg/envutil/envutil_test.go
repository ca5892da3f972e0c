// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Setenv("ENVUTIL_STRING", "Asia/Jakarta")
	assert.Equal(t, "Asia/Jakarta", String("ENVUTIL_STRING", "UTC"))

	t.Setenv("ENVUTIL_STRING", "")
	assert.Equal(t, "UTC", String("ENVUTIL_STRING", "UTC"))
}

func TestInt(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want int
	}{
		{"set", "5", 5},
		{"unset", "", 3},
		{"invalid", "five", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVUTIL_INT", tt.val)
			assert.Equal(t, tt.want, Int("ENVUTIL_INT", 3))
		})
	}
}

func TestFloat64(t *testing.T) {
	t.Setenv("ENVUTIL_FLOAT", "2.5")
	assert.InDelta(t, 2.5, Float64("ENVUTIL_FLOAT", 0), 1e-9)

	t.Setenv("ENVUTIL_FLOAT", "fast")
	assert.InDelta(t, 1.0, Float64("ENVUTIL_FLOAT", 1), 1e-9)
}

func TestBool(t *testing.T) {
	tests := []struct {
		name       string
		val        string
		defaultVal bool
		want       bool
	}{
		{"true", "true", false, true},
		{"numeric false", "0", true, false},
		{"unset", "", true, true},
		{"invalid", "yes please", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVUTIL_BOOL", tt.val)
			assert.Equal(t, tt.want, Bool("ENVUTIL_BOOL", tt.defaultVal))
		})
	}
}
