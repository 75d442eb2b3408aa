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

// NewJQExecutor builds the jq_transform executor. Inputs resolve leniently:
// JQ is often used to pick from optional branch outputs, so missing data
// becomes null rather than a failure.
func NewJQExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		if cc == nil || cc.JQ == nil {
			return engine.WriteError(nodeID, engine.ErrTypeMissingDependency, "JQ runner is not configured", nil), nil
		}
		inputs, err := engine.ResolveInputs(state, def.InputMapping, false)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeJQ, err.Error(), nil), nil
		}
		result, err := cc.JQ.Run(ctx, def.Code, inputs)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeJQ, err.Error(), nil), nil
		}
		outputs := engine.ApplyOutputMapping(result, def.OutputMapping)
		cc.emitCompleted(ctx, nodeID, workflow.KindJQTransform)
		return engine.WriteNodeOutputs(nodeID, outputs), nil
	}, nil
}
