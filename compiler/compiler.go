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

// Package compiler turns a validated workflow definition into an executable
// graph and drives complete invocations through it.
package compiler

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// Compile lowers a workflow into an executable graph. It runs the semantic
// validation pass, installs the system start and end nodes, binds every
// declared node to its executor via the kind registry and installs the
// edges, flattening branch edges and grouping labelled edges into a single
// conditional dispatch per source.
func Compile(wf *workflow.Workflow, cc *node.CompileContext, rtc node.RuntimeContext) (*graph.Graph, error) {
	if err := validateSemantics(wf); err != nil {
		return nil, err
	}

	failFast := wf.FailFastEnabled()
	registry := node.Registry()

	sg := graph.NewStateGraph(engine.StateSchema())

	// System nodes: a start passthrough and the end node parameterised by
	// the workflow's output input-mapping.
	sg.AddNode(workflow.StartNodeID,
		wrapSystemNode(workflow.StartNodeID, node.NewStartExecutor(), rtc),
		graph.WithKind(workflow.KindStart))
	sg.AddNode(workflow.EndNodeID,
		wrapNode(workflow.EndNodeID, node.NewEndExecutor(wf.Output.InputMapping), rtc, failFast),
		graph.WithKind(workflow.KindEnd))

	for _, def := range wf.Nodes {
		factory, ok := registry[def.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported node kind: %s", workflow.ErrInvalidWorkflow, def.Kind)
		}
		exec, err := factory(def, cc)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", def.ID, err)
		}
		sg.AddNode(def.ID, wrapNode(def.ID, exec, rtc, failFast),
			graph.WithName(def.DisplayName()), graph.WithKind(def.Kind))
	}

	addEdges(sg, wf)
	sg.SetEntryPoint(workflow.StartNodeID)

	compiled, err := sg.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidWorkflow, err)
	}
	return compiled, nil
}

// validateSemantics runs the compile-level checks on top of the structural
// validator: reserved ids are enforced there, this pass checks the graph is
// entered and left.
func validateSemantics(wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	fromStart := false
	toEnd := false
	for _, e := range wf.Edges {
		if e.From == workflow.StartNodeID {
			fromStart = true
		}
		if e.IsBranch() {
			for _, r := range e.Routes {
				if r.To == workflow.EndNodeID {
					toEnd = true
				}
			}
		} else if e.To == workflow.EndNodeID {
			toEnd = true
		}
	}
	if !fromStart {
		return fmt.Errorf("%w: workflow must have at least one edge from 'start'", workflow.ErrInvalidWorkflow)
	}
	if !toEnd {
		return fmt.Errorf("%w: workflow must have at least one edge to 'end'", workflow.ErrInvalidWorkflow)
	}
	return nil
}

// wrapNode adapts a node executor to the graph contract, injecting the
// runtime context. Under fail_fast a partial update carrying errors aborts
// the run with a fatal carrying the first error's message; the update is
// discarded.
func wrapNode(id string, exec node.Executor, rtc node.RuntimeContext, failFast bool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		update, err := exec(ctx, state, rtc)
		if err != nil {
			return nil, err
		}
		if failFast {
			if records := engine.StateErrors(update); len(records) > 0 {
				return nil, fmt.Errorf("node %s failed with error: %s", id, records[0].Message)
			}
		}
		return update, nil
	}
}

// wrapSystemNode injects the runtime context without the fail_fast check.
func wrapSystemNode(id string, exec node.Executor, rtc node.RuntimeContext) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		return exec(ctx, state, rtc)
	}
}

// flatEdge is a branch route flattened into simple-edge form.
type flatEdge struct {
	to        string
	whenLabel string
}

func addEdges(sg *graph.StateGraph, wf *workflow.Workflow) {
	// Flatten branch edges and group by source, preserving declaration order.
	bySource := make(map[string][]flatEdge)
	var order []string
	appendEdge := func(from string, fe flatEdge) {
		if _, seen := bySource[from]; !seen {
			order = append(order, from)
		}
		bySource[from] = append(bySource[from], fe)
	}
	for _, e := range wf.Edges {
		if e.IsBranch() {
			for _, r := range e.Routes {
				appendEdge(e.From, flatEdge{to: r.To, whenLabel: r.WhenLabel})
			}
		} else {
			appendEdge(e.From, flatEdge{to: e.To, whenLabel: e.WhenLabel})
		}
	}

	for _, src := range order {
		edges := bySource[src]
		var labelled []flatEdge
		for _, fe := range edges {
			if fe.whenLabel == "" {
				sg.AddEdge(src, fe.to)
				continue
			}
			labelled = append(labelled, fe)
		}
		if len(labelled) > 0 {
			sg.AddConditionalEdges(src, labelSelector(src), labelMap(labelled))
		}
	}
}

// labelSelector reads the dispatch label the source node wrote to its data
// slot, falling back to "else".
func labelSelector(src string) graph.LabelFunc {
	return func(_ context.Context, state graph.State) (string, error) {
		data, _ := state[engine.StateKeyData].(map[string]any)
		nodeOut, _ := data[src].(map[string]any)
		if label, ok := nodeOut["label"].(string); ok && label != "" {
			return label, nil
		}
		return "else", nil
	}
}

// labelMap builds the static label-to-target map for a conditional
// dispatch. Labels routing to "end" go to the internal end node so the end
// executor still computes the output; an "else" fallback to end is added
// when absent.
func labelMap(edges []flatEdge) map[string]string {
	mapping := make(map[string]string, len(edges)+1)
	for _, fe := range edges {
		mapping[fe.whenLabel] = fe.to
	}
	if _, ok := mapping["else"]; !ok {
		mapping["else"] = workflow.EndNodeID
	}
	return mapping
}
