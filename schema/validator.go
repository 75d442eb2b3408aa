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

// Package schema validates JSON values against JSON Schema (Draft 7).
// It gates workflow inputs and outputs at the invocation boundary.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSchema reports that a schema definition itself is ill-formed.
var ErrInvalidSchema = errors.New("invalid schema")

// ValidationError reports that an instance does not match a schema.
type ValidationError struct {
	Message string
	// Path is the dotted path to the offending value in the instance.
	Path string
	// SchemaPath is the dotted path to the failing schema keyword.
	SchemaPath string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("schema validation failed: %s", e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.SchemaPath != "" {
		msg += fmt.Sprintf(" (schema_path: %s)", e.SchemaPath)
	}
	return msg
}

// Result is the outcome of a non-throwing validation.
type Result struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Path       string `json:"path,omitempty"`
	SchemaPath string `json:"schema_path,omitempty"`
}

// CheckSchema verifies that def is a well-formed Draft-7 JSON Schema.
func CheckSchema(def map[string]any) error {
	_, err := compile(def, true)
	return err
}

// ValidateInstance validates instance against the Draft-7 schema def.
// When formatCheck is true, "format" keywords are asserted.
// It returns ErrInvalidSchema when def itself is ill-formed and a
// *ValidationError when the instance does not match.
func ValidateInstance(instance any, def map[string]any, formatCheck bool) error {
	compiled, err := compile(def, formatCheck)
	if err != nil {
		return err
	}
	if err := compiled.Validate(normalize(instance)); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := leafError(ve)
			return &ValidationError{
				Message:    leaf.Message,
				Path:       pointerToDotted(leaf.InstanceLocation),
				SchemaPath: pointerToDotted(leaf.KeywordLocation),
			}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// ValidateInstanceSafe is the non-throwing variant of ValidateInstance.
func ValidateInstanceSafe(instance any, def map[string]any, formatCheck bool) Result {
	err := ValidateInstance(instance, def, formatCheck)
	if err == nil {
		return Result{OK: true}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Result{Error: ve.Error(), Path: ve.Path, SchemaPath: ve.SchemaPath}
	}
	return Result{Error: err.Error()}
}

func compile(def map[string]any, formatCheck bool) (*jsonschema.Schema, error) {
	if def == nil {
		def = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = formatCheck
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return compiled, nil
}

// leafError walks to the deepest cause so the reported paths point at the
// offending value rather than at the schema root.
func leafError(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func pointerToDotted(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

// normalize round-trips instance through encoding/json so that typed values
// (int64, custom structs) compare like plain JSON values.
func normalize(instance any) any {
	raw, err := json.Marshal(instance)
	if err != nil {
		return instance
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return instance
	}
	return out
}
