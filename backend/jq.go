//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package backend provides the external collaborators node executors depend
// on at compile time: the JQ program evaluator and the sandboxed user-code
// runner.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// JQRunner evaluates JQ programs against JSON-like values.
type JQRunner struct{}

// NewJQRunner creates a gojq-backed runner.
func NewJQRunner() *JQRunner {
	return &JQRunner{}
}

// Run compiles and evaluates a JQ program and returns the first produced
// result. A program producing no results, or an error value, fails.
func (r *JQRunner) Run(ctx context.Context, program string, input any) (any, error) {
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("jq parse: %w", err)
	}

	normalized, err := normalizeJSON(input)
	if err != nil {
		return nil, fmt.Errorf("jq input: %w", err)
	}

	iter := query.RunWithContext(ctx, normalized)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("jq program produced no result")
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("jq: %w", err)
	}
	return v, nil
}

// normalizeJSON round-trips a value through encoding/json so gojq only sees
// the value kinds it supports. Integral floats become ints, matching how the
// jq CLI decodes JSON numbers, so arithmetic on them stays integer-typed.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return intifyNumbers(out), nil
}

func intifyNumbers(v any) any {
	switch val := v.(type) {
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = intifyNumbers(e)
		}
		return val
	case map[string]any:
		for k, e := range val {
			val[k] = intifyNumbers(e)
		}
		return val
	default:
		return v
	}
}
