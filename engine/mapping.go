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

package engine

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/graph"
)

// MappingError reports a failed strict resolution or an unsupported
// expression. It carries the mapping_error classification.
type MappingError struct {
	Message string
}

func (e *MappingError) Error() string {
	return e.Message
}

func mappingErrorf(format string, args ...any) error {
	return &MappingError{Message: fmt.Sprintf(format, args...)}
}

// rawResultTokens select the whole raw node result in an output mapping.
// $result is canonical; the rest are legacy aliases.
var rawResultTokens = map[string]bool{
	"$result":      true,
	"$tool_result": true,
	"$jq_result":   true,
	"$code_result": true,
}

// ResolveExpr resolves a reference expression against the execution state:
//
//	$input           the workflow input object
//	$input.a.b       dotted path inside the input
//	$nodes.<id>      a completed node's output object
//	$nodes.<id>.a.b  dotted path inside a node's output
//	$state.<key>     a top-level state key
//
// Anything that is not a string starting with "$" is a literal returned
// as-is. In strict mode a missing key fails; in lenient mode it yields nil.
func ResolveExpr(state graph.State, expr any, strict bool) (any, error) {
	s, ok := expr.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return expr, nil
	}

	switch {
	case s == "$input":
		return state[StateKeyInput], nil

	case strings.HasPrefix(s, "$input."):
		path := strings.Split(s[len("$input."):], ".")
		return getPath(state[StateKeyInput], path, strict)

	case strings.HasPrefix(s, "$nodes."):
		parts := strings.Split(s[len("$nodes."):], ".")
		data, _ := state[StateKeyData].(map[string]any)
		if len(parts) == 1 {
			// A bare node reference yields nil when the node has not run.
			return data[parts[0]], nil
		}
		nodeOut := data[parts[0]]
		if nodeOut == nil {
			nodeOut = map[string]any{}
		}
		return getPath(nodeOut, parts[1:], strict)

	case strings.HasPrefix(s, "$state."):
		key := s[len("$state."):]
		if v, ok := state[key]; ok {
			return v, nil
		}
		if strict {
			return nil, mappingErrorf("missing state key: %s", key)
		}
		return nil, nil

	default:
		return nil, mappingErrorf("unsupported expression: %s", s)
	}
}

// ResolveInputs resolves every value of an input mapping.
func ResolveInputs(state graph.State, inputMapping map[string]any, strict bool) (map[string]any, error) {
	resolved := make(map[string]any, len(inputMapping))
	for k, v := range inputMapping {
		value, err := ResolveExpr(state, v, strict)
		if err != nil {
			return nil, err
		}
		resolved[k] = value
	}
	return resolved, nil
}

// ApplyOutputMapping projects a raw node result into named output slots.
// An empty mapping passes the raw result through verbatim; otherwise each
// entry is $result (or a legacy alias) for the whole result, "$.a.b" for a
// path into it, or a literal written through unchanged. Projecting a path
// from a non-object result yields nil.
func ApplyOutputMapping(result any, outputMapping map[string]any) any {
	if len(outputMapping) == 0 {
		return result
	}
	out := make(map[string]any, len(outputMapping))
	for key, spec := range outputMapping {
		s, isStr := spec.(string)
		switch {
		case isStr && rawResultTokens[s]:
			out[key] = result
		case isStr && strings.HasPrefix(s, "$."):
			v, _ := getPath(result, strings.Split(s[2:], "."), false)
			out[key] = v
		default:
			out[key] = spec
		}
	}
	return out
}

func getPath(obj any, path []string, strict bool) (any, error) {
	cur := obj
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			if strict {
				return nil, mappingErrorf("missing key '%s' while resolving path %s", p, strings.Join(path, "."))
			}
			return nil, nil
		}
		v, ok := m[p]
		if !ok {
			if strict {
				return nil, mappingErrorf("missing key '%s' while resolving path %s", p, strings.Join(path, "."))
			}
			return nil, nil
		}
		cur = v
	}
	return cur, nil
}
