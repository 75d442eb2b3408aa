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

package graph

import "reflect"

// State represents the state that flows through the graph.
//
// Node functions receive a snapshot of the state and return a partial update
// containing only the keys they intend to change. The executor owns merging:
// each key of an update is combined with the current state through the
// field's reducer (see StateSchema), so that two concurrent updates touching
// different keys never clobber each other.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Reducer combines an existing state value with an updated value.
type Reducer func(existing, update any) any

// StateField describes a single field of the state schema.
type StateField struct {
	// Type is the expected Go type of the field (informational).
	Type reflect.Type
	// Reducer merges concurrent updates for this field.
	// When nil, updates overwrite the existing value.
	Reducer Reducer
	// Default, when set, provides the initial value for the field.
	Default func() any
}

// StateSchema declares the fields of a graph state and how concurrent
// updates to them are merged.
type StateSchema struct {
	fields map[string]StateField
}

// NewStateSchema creates a new empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{fields: make(map[string]StateField)}
}

// AddField adds a field to the schema and returns the schema for chaining.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.fields[name] = field
	return s
}

// Field returns the field definition for name.
func (s *StateSchema) Field(name string) (StateField, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Init creates the initial state populated with field defaults.
func (s *StateSchema) Init() State {
	state := make(State, len(s.fields))
	for name, field := range s.fields {
		if field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// ApplyUpdate merges a partial update into state using the per-field
// reducers and returns the merged state. The input state is not mutated.
func (s *StateSchema) ApplyUpdate(state, update State) State {
	merged := state.Clone()
	for key, value := range update {
		field, ok := s.fields[key]
		if !ok || field.Reducer == nil {
			merged[key] = value
			continue
		}
		merged[key] = field.Reducer(merged[key], value)
	}
	return merged
}

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// MergeReducer merges two map[string]any values key by key.
// Keys from both sides are kept; the update wins on conflicts.
func MergeReducer(existing, update any) any {
	left, _ := existing.(map[string]any)
	right, _ := update.(map[string]any)
	merged := make(map[string]any, len(left)+len(right))
	for k, v := range left {
		merged[k] = v
	}
	for k, v := range right {
		merged[k] = v
	}
	return merged
}

// AppendReducer concatenates two []any values in arrival order.
func AppendReducer(existing, update any) any {
	left, _ := existing.([]any)
	right, _ := update.([]any)
	out := make([]any, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}
