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

// NewStartExecutor builds the internal start node: a passthrough that
// touches no state keys.
func NewStartExecutor() Executor {
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		return graph.State{}, nil
	}
}

// NewEndExecutor builds the internal end node. It computes the final
// workflow output by resolving the workflow's output input-mapping against
// the completed state and writes it under the output key.
func NewEndExecutor(outputMapping map[string]any) Executor {
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		outputs, err := engine.ResolveInputs(state, outputMapping, true)
		if err != nil {
			return engine.WriteError(workflow.EndNodeID, engine.ErrTypeMapping, err.Error(), nil), nil
		}
		return graph.State{engine.StateKeyOutput: outputs}, nil
	}
}
