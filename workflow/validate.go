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

package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidWorkflow wraps every structural validation failure.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// idPattern is the shape every declared node id must match.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var authoredKinds = map[string]bool{
	KindNoop:        true,
	KindJQTransform: true,
	KindPythonCode:  true,
	KindLLM:         true,
	KindRouter:      true,
	KindHTTPRequest: true,
}

// Parse decodes a JSON workflow description and validates its structure.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks the structural invariants of the workflow: well-formed
// unique node ids, known kinds, kind-specific required fields, and edge
// endpoints referencing declared nodes or the reserved start/end ids.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidWorkflow)
	}

	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if !idPattern.MatchString(n.ID) {
			return fmt.Errorf("%w: node id %q must be lowercase snake_case", ErrInvalidWorkflow, n.ID)
		}
		if n.ID == StartNodeID || n.ID == EndNodeID {
			return fmt.Errorf("%w: node id %q is reserved", ErrInvalidWorkflow, n.ID)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidWorkflow, n.ID)
		}
		ids[n.ID] = true

		if err := validateNode(n); err != nil {
			return err
		}
	}

	for _, e := range w.Edges {
		if err := validateEdge(e, ids); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(n *Node) error {
	if !authoredKinds[n.Kind] {
		return fmt.Errorf("%w: node %q has unknown kind %q", ErrInvalidWorkflow, n.ID, n.Kind)
	}
	switch n.Kind {
	case KindJQTransform, KindPythonCode:
		if n.Code == "" {
			return fmt.Errorf("%w: node %q requires code", ErrInvalidWorkflow, n.ID)
		}
	case KindLLM:
		if n.Model == "" {
			return fmt.Errorf("%w: node %q requires a model", ErrInvalidWorkflow, n.ID)
		}
		if n.Prompt == nil {
			return fmt.Errorf("%w: node %q requires a prompt", ErrInvalidWorkflow, n.ID)
		}
	case KindRouter:
		if len(n.Cases) == 0 {
			return fmt.Errorf("%w: node %q requires at least one case", ErrInvalidWorkflow, n.ID)
		}
	}
	return nil
}

func validateEdge(e *Edge, ids map[string]bool) error {
	if e.From != StartNodeID && !ids[e.From] {
		return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidWorkflow, e.From)
	}
	if e.IsBranch() {
		if len(e.Routes) == 0 {
			return fmt.Errorf("%w: branch edge from %q has no routes", ErrInvalidWorkflow, e.From)
		}
		for _, r := range e.Routes {
			if r.To != EndNodeID && !ids[r.To] {
				return fmt.Errorf("%w: edge route to unknown node %q", ErrInvalidWorkflow, r.To)
			}
		}
		return nil
	}
	if e.To == "" {
		return fmt.Errorf("%w: edge from %q has no target", ErrInvalidWorkflow, e.From)
	}
	if e.To != EndNodeID && !ids[e.To] {
		return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidWorkflow, e.To)
	}
	return nil
}
