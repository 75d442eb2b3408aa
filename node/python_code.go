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
	"time"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// defaultCodeTimeoutS bounds user code execution when the node declares no
// timeout of its own.
const defaultCodeTimeoutS = 1.0

// NewPythonCodeExecutor builds the python_code executor: user code runs in
// the sandbox with a hard wall-clock timeout. Timeouts and any runtime
// failure classify as python_code_error.
func NewPythonCodeExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	timeout := time.Duration(def.TimeoutSeconds(defaultCodeTimeoutS) * float64(time.Second))
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		if cc == nil || cc.Sandbox == nil {
			return engine.WriteError(nodeID, engine.ErrTypeMissingDependency, "sandbox runner is not configured", nil), nil
		}
		inputs, err := engine.ResolveInputs(state, def.InputMapping, true)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypePythonCode, err.Error(), nil), nil
		}
		result, err := cc.Sandbox.Run(ctx, def.Code, inputs, timeout)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypePythonCode, err.Error(), nil), nil
		}
		outputs := engine.ApplyOutputMapping(result, def.OutputMapping)
		cc.emitCompleted(ctx, nodeID, workflow.KindPythonCode)
		return engine.WriteNodeOutputs(nodeID, outputs), nil
	}, nil
}
