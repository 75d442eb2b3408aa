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

// Package node implements the workflow node executors. Every executor
// shares one contract: resolve inputs from the state, do the work, project
// outputs, return a partial state update. Executors never mutate the state
// they receive and convert expected failures into classified error records.
package node

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// JQRunner evaluates a JQ program against an input value.
type JQRunner interface {
	Run(ctx context.Context, program string, input any) (any, error)
}

// SandboxRunner executes user code with a wall-clock timeout.
type SandboxRunner interface {
	Run(ctx context.Context, code string, input map[string]any, timeout time.Duration) (any, error)
}

// Event is an engine notification emitted through the event hook.
type Event map[string]any

// EventHook receives engine events such as node_completed.
type EventHook func(ctx context.Context, event Event)

// CompileContext carries the compile-time collaborators shared read-only
// across all nodes of a compiled workflow.
type CompileContext struct {
	JQ        JQRunner
	Sandbox   SandboxRunner
	EmitEvent EventHook
}

func (cc *CompileContext) emit(ctx context.Context, event Event) {
	if cc != nil && cc.EmitEvent != nil {
		cc.EmitEvent(ctx, event)
	}
}

func (cc *CompileContext) emitCompleted(ctx context.Context, nodeID, kind string) {
	cc.emit(ctx, Event{"type": "node_completed", "node_id": nodeID, "kind": kind})
}

// RuntimeContext is arbitrary per-invocation configuration passed to every
// node and never mutated by the engine.
type RuntimeContext map[string]any

// Executor is the uniform node contract. It receives the current state and
// the runtime context and returns a partial state update. Expected failures
// are returned as error records inside the update; a non-nil error is
// reserved for fatal conditions.
type Executor func(ctx context.Context, state graph.State, rtc RuntimeContext) (graph.State, error)

// Factory builds an executor for a node definition, closing over the
// compile context.
type Factory func(def *workflow.Node, cc *CompileContext) (Executor, error)

// Registry maps authored node kinds to their factories.
func Registry() map[string]Factory {
	return map[string]Factory{
		workflow.KindNoop:        NewNoopExecutor,
		workflow.KindJQTransform: NewJQExecutor,
		workflow.KindPythonCode:  NewPythonCodeExecutor,
		workflow.KindLLM:         NewLLMExecutor,
		workflow.KindRouter:      NewRouterExecutor,
		workflow.KindHTTPRequest: NewHTTPRequestExecutor,
	}
}
