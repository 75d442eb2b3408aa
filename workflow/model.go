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

// Package workflow defines the declarative workflow DSL: a typed node/edge
// model parsed from JSON (or YAML rendered to JSON) plus its structural
// validator.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node kinds an author may declare. KindStart and KindEnd are system kinds
// installed by the compiler and are never authored.
const (
	KindNoop        = "noop"
	KindJQTransform = "jq_transform"
	KindPythonCode  = "python_code"
	KindLLM         = "llm"
	KindRouter      = "router"
	KindHTTPRequest = "http_request"

	KindStart = "start"
	KindEnd   = "end"
)

// StartNodeID and EndNodeID are the reserved endpoint ids edges may
// reference without declaring them as nodes.
const (
	StartNodeID = "start"
	EndNodeID   = "end"
)

// Workflow is the top-level workflow definition.
type Workflow struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version"`

	Input  Input  `json:"input"`
	Output Output `json:"output"`

	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`

	// FailFast aborts the run on the first node error. Defaults to true
	// when omitted.
	FailFast *bool `json:"fail_fast,omitempty"`
}

// FailFastEnabled reports the effective fail_fast setting.
func (w *Workflow) FailFastEnabled() bool {
	return w.FailFast == nil || *w.FailFast
}

// Node returns the declared node with the given id.
func (w *Workflow) Node(id string) (*Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Input is the workflow input schema container.
type Input struct {
	Schema map[string]any `json:"schema,omitempty"`
}

// SchemaOrDefault returns the declared schema, defaulting to an
// unconstrained object.
func (in Input) SchemaOrDefault() map[string]any {
	if in.Schema == nil {
		return map[string]any{"type": "object"}
	}
	return in.Schema
}

// Output is the workflow output container: the final input-mapping applied
// by the end node plus the schema the produced output must match.
type Output struct {
	InputMapping map[string]any `json:"input_mapping,omitempty"`
	Schema       map[string]any `json:"schema,omitempty"`
}

// SchemaOrDefault returns the declared schema, defaulting to an
// unconstrained object.
func (out Output) SchemaOrDefault() map[string]any {
	if out.Schema == nil {
		return map[string]any{"type": "object"}
	}
	return out.Schema
}

// Node is a tagged variant over kinds. Kind-specific fields are populated
// only for the matching kind; the validator enforces their presence.
type Node struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`

	InputMapping  map[string]any `json:"input_mapping,omitempty"`
	OutputMapping map[string]any `json:"output_mapping,omitempty"`

	// Code is the program source for jq_transform and python_code nodes.
	Code string `json:"code,omitempty"`

	// TimeoutS bounds wall-clock execution for python_code (default 1.0)
	// and http_request (default 30.0) nodes.
	TimeoutS *float64 `json:"timeout_s,omitempty"`

	// LLM fields.
	Model        string         `json:"model,omitempty"`
	ModelParams  map[string]any `json:"model_params,omitempty"`
	Prompt       *Prompt        `json:"prompt,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`

	// Router fields.
	Cases   Cases  `json:"cases,omitempty"`
	Default string `json:"default,omitempty"`
}

// TimeoutSeconds returns the declared timeout or the given default.
func (n *Node) TimeoutSeconds(def float64) float64 {
	if n.TimeoutS == nil {
		return def
	}
	return *n.TimeoutS
}

// DisplayName returns the node name, falling back to the id.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Edge is a union of the two edge variants. A simple edge has a target and
// an optional label; a branch edge carries a non-empty list of routes. The
// variants are distinguished by the presence of the routes field.
type Edge struct {
	From      string  `json:"from"`
	To        string  `json:"to,omitempty"`
	WhenLabel string  `json:"when_label,omitempty"`
	Routes    []Route `json:"routes,omitempty"`
}

// IsBranch reports whether the edge is a branch edge. The routes key being
// present in the source document, even empty, selects the branch variant.
func (e *Edge) IsBranch() bool {
	return e.Routes != nil
}

// Route is one destination of a branch edge.
type Route struct {
	To        string `json:"to"`
	WhenLabel string `json:"when_label,omitempty"`
}

// Case is one ordered entry of a router's cases mapping.
type Case struct {
	Label     string
	Condition string
}

// Cases preserves the author's insertion order of a router's cases object.
// JSON objects are unordered in most decoders, but the order here is
// load-bearing: the first truthy condition wins.
type Cases []Case

// UnmarshalJSON decodes a JSON object into ordered label/condition pairs,
// preserving source order via token scanning.
func (c *Cases) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("cases must be an object, got %v", tok)
	}
	var cases Cases
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, _ := keyTok.(string)
		var cond string
		if err := dec.Decode(&cond); err != nil {
			return fmt.Errorf("case %q: condition must be a string: %w", label, err)
		}
		cases = append(cases, Case{Label: label, Condition: cond})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = cases
	return nil
}

// MarshalJSON renders the cases back as a JSON object in insertion order.
func (c Cases) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, cs := range c {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(cs.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(cs.Condition)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}
