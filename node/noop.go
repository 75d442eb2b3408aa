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

// NewNoopExecutor builds the noop executor: it copies resolved inputs
// through the output projection.
func NewNoopExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		inputs, err := engine.ResolveInputs(state, def.InputMapping, true)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeMapping, err.Error(), nil), nil
		}
		outputs := engine.ApplyOutputMapping(inputs, def.OutputMapping)
		cc.emitCompleted(ctx, nodeID, workflow.KindNoop)
		return engine.WriteNodeOutputs(nodeID, outputs), nil
	}, nil
}
