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

package node

import (
	"context"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// PickRoute evaluates the cases in declared order and returns the label of
// the first truthy condition, falling back to the default label. An empty
// return means no route was selected.
func PickRoute(cases workflow.Cases, defaultLabel string, state graph.State) (string, error) {
	for _, c := range cases {
		ok, err := EvalCondition(c.Condition, state)
		if err != nil {
			return "", err
		}
		if ok {
			return c.Label, nil
		}
	}
	return defaultLabel, nil
}

// NewRouterExecutor builds the router executor. Its output is the selected
// label, written to the node's data slot for the conditional dispatch to
// read.
func NewRouterExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		label, err := PickRoute(def.Cases, def.Default, state)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeRouter, err.Error(), nil), nil
		}
		if label == "" {
			return engine.WriteError(nodeID, engine.ErrTypeRouter, "No route selected", nil), nil
		}
		cc.emit(ctx, Event{
			"type":    "node_completed",
			"node_id": nodeID,
			"kind":    workflow.KindRouter,
			"route":   label,
		})
		return engine.WriteNodeOutputs(nodeID, map[string]any{"label": label}), nil
	}, nil
}
