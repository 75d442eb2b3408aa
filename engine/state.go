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

// Package engine holds the workflow execution state model and the mapping
// engine that resolves expressions against it.
package engine

import (
	"trpc.group/trpc-go/trpc-flow-go/graph"
)

// Execution state keys.
const (
	StateKeyInput    = "input"
	StateKeyData     = "data"
	StateKeyLastNode = "last_node"
	StateKeyOutput   = "output"
	StateKeyErrors   = "errors"
)

// ErrorRecord is one classified node failure accumulated in the errors key.
type ErrorRecord struct {
	NodeID  string         `json:"node_id"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// Error type taxonomy.
const (
	ErrTypeInvalidWorkflow     = "invalid_workflow"
	ErrTypeInvalidSchema       = "invalid_schema"
	ErrTypeSchemaValidation    = "schema_validation"
	ErrTypeMissingDependency   = "missing_dependency"
	ErrTypeMapping             = "mapping_error"
	ErrTypeJQ                  = "jq_error"
	ErrTypePythonCode          = "python_code_error"
	ErrTypeLLM                 = "llm_error"
	ErrTypePromptFormat        = "prompt_format_error"
	ErrTypeHTTPRequest         = "http_request_error"
	ErrTypeRouter              = "router_error"
	ErrTypeUnsupportedNodeKind = "unsupported_node_kind"
)

// appendErrors concatenates error record slices in completion order.
func appendErrors(existing, update any) any {
	left, _ := existing.([]ErrorRecord)
	right, _ := update.([]ErrorRecord)
	if len(left) == 0 {
		return right
	}
	merged := make([]ErrorRecord, 0, len(left)+len(right))
	merged = append(merged, left...)
	return append(merged, right...)
}

// StateSchema returns the execution state schema shared by every compiled
// workflow: the input is constant for the run, data merges by union so
// parallel branches keep each other's entries, last_node is last-writer-wins
// and errors concatenate in completion order.
func StateSchema() *graph.StateSchema {
	return graph.NewStateSchema().
		AddField(StateKeyInput, graph.StateField{Reducer: graph.DefaultReducer}).
		AddField(StateKeyData, graph.StateField{
			Reducer: graph.MergeReducer,
			Default: func() any { return map[string]any{} },
		}).
		AddField(StateKeyLastNode, graph.StateField{Reducer: graph.DefaultReducer}).
		AddField(StateKeyOutput, graph.StateField{Reducer: graph.DefaultReducer}).
		AddField(StateKeyErrors, graph.StateField{
			Reducer: appendErrors,
			Default: func() any { return []ErrorRecord{} },
		})
}

// WriteNodeOutputs returns the partial update recording a node's outputs.
// Only the touched keys appear in the update; rewriting untouched keys
// would corrupt parallel merges.
func WriteNodeOutputs(nodeID string, outputs any) graph.State {
	return graph.State{
		StateKeyData:     map[string]any{nodeID: outputs},
		StateKeyLastNode: nodeID,
	}
}

// WriteError returns the partial update recording a classified node failure.
func WriteError(nodeID, errType, message string, details map[string]any) graph.State {
	if details == nil {
		details = map[string]any{}
	}
	return graph.State{
		StateKeyErrors: []ErrorRecord{{
			NodeID:  nodeID,
			Type:    errType,
			Message: message,
			Details: details,
		}},
		StateKeyLastNode: nodeID,
	}
}

// StateErrors extracts the accumulated error records from a state.
func StateErrors(state graph.State) []ErrorRecord {
	records, _ := state[StateKeyErrors].([]ErrorRecord)
	return records
}
