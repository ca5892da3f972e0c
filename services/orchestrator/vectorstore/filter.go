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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// Operator is a filter operator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpAnd Operator = "and"
)

// Filter is a predicate over DocumentChunk metadata.
//
// # Description
//
// A Filter is either a comparison of one metadata attribute against a scalar
// value, or an "and" node whose operands must all hold. Stores translate it
// into their native filter language; Match evaluates it in-process.
//
// # Examples
//
//	f := And(Eq("type", "product"), Lt("price", 50000))
//	f.String() // type = "product" AND price < 50000
type Filter struct {
	Operator  Operator  `json:"operator"`
	Attribute string    `json:"attribute,omitempty"`
	Value     any       `json:"value,omitempty"`
	Operands  []*Filter `json:"operands,omitempty"`
}

func Eq(attribute string, value any) *Filter  { return compare(OpEq, attribute, value) }
func Ne(attribute string, value any) *Filter  { return compare(OpNe, attribute, value) }
func Lt(attribute string, value any) *Filter  { return compare(OpLt, attribute, value) }
func Lte(attribute string, value any) *Filter { return compare(OpLte, attribute, value) }
func Gt(attribute string, value any) *Filter  { return compare(OpGt, attribute, value) }
func Gte(attribute string, value any) *Filter { return compare(OpGte, attribute, value) }

func compare(op Operator, attribute string, value any) *Filter {
	return &Filter{Operator: op, Attribute: attribute, Value: value}
}

// And combines filters, skipping nils. It returns nil when nothing is left and
// the single filter itself when only one remains.
func And(filters ...*Filter) *Filter {
	var operands []*Filter
	for _, f := range filters {
		if f != nil {
			operands = append(operands, f)
		}
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return &Filter{Operator: OpAnd, Operands: operands}
	}
}

// IsComparison reports whether op compares an attribute to a value.
func (op Operator) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// IsOrdering reports whether op needs numeric operands.
func (op Operator) IsOrdering() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Validate checks that the tree can be translated by any store.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	switch {
	case f.Operator == OpAnd:
		if len(f.Operands) == 0 {
			return fmt.Errorf("and filter has no operands")
		}
		for _, op := range f.Operands {
			if op == nil {
				return fmt.Errorf("and filter has a nil operand")
			}
			if err := op.Validate(); err != nil {
				return err
			}
		}
		return nil
	case f.Operator.IsComparison():
		if f.Attribute == "" {
			return fmt.Errorf("%s filter has no attribute", f.Operator)
		}
		if f.Value == nil {
			return fmt.Errorf("%s filter on %q has no value", f.Operator, f.Attribute)
		}
		if f.Operator.IsOrdering() && !isNumeric(f.Value) {
			return fmt.Errorf("%s filter on %q needs a number, got %T", f.Operator, f.Attribute, f.Value)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
}

// Match evaluates the filter against metadata. A nil filter matches everything.
// A comparison on an attribute missing from metadata only matches for "ne".
func (f *Filter) Match(metadata map[string]any) bool {
	if f == nil {
		return true
	}
	if f.Operator == OpAnd {
		for _, op := range f.Operands {
			if !op.Match(metadata) {
				return false
			}
		}
		return true
	}

	actual, ok := metadata[f.Attribute]
	if !ok || actual == nil {
		return f.Operator == OpNe
	}

	if isNumeric(f.Value) {
		a, okA := datatypes.ToFloat(actual)
		b, _ := datatypes.ToFloat(f.Value)
		if !okA {
			return f.Operator == OpNe
		}
		switch f.Operator {
		case OpEq:
			return a == b
		case OpNe:
			return a != b
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		}
		return false
	}

	equal := fmt.Sprint(actual) == fmt.Sprint(f.Value)
	switch f.Operator {
	case OpEq:
		return equal
	case OpNe:
		return !equal
	}
	return false
}

// String renders the filter for logs.
func (f *Filter) String() string {
	if f == nil {
		return "<none>"
	}
	if f.Operator == OpAnd {
		parts := make([]string, 0, len(f.Operands))
		for _, op := range f.Operands {
			parts = append(parts, op.String())
		}
		return strings.Join(parts, " AND ")
	}
	symbol := map[Operator]string{OpEq: "=", OpNe: "!=", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">="}[f.Operator]
	if s, ok := f.Value.(string); ok {
		return fmt.Sprintf("%s %s %q", f.Attribute, symbol, s)
	}
	return fmt.Sprintf("%s %s %v", f.Attribute, symbol, f.Value)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
