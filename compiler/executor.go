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

package compiler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/schema"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

var tracer = otel.Tracer("trpc.group/trpc-go/trpc-flow-go/compiler")

// WorkflowExecutor validates and invokes workflow descriptions end to end:
// parse, input gate, compile, run, output gate.
type WorkflowExecutor struct {
	compileCtx     *node.CompileContext
	maxConcurrency int
}

// ExecutorOption configures a WorkflowExecutor.
type ExecutorOption func(*WorkflowExecutor)

// WithCompileContext sets the compile-time collaborators shared by every
// invocation.
func WithCompileContext(cc *node.CompileContext) ExecutorOption {
	return func(e *WorkflowExecutor) {
		e.compileCtx = cc
	}
}

// WithMaxConcurrency caps the number of nodes running concurrently per
// invocation.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *WorkflowExecutor) {
		e.maxConcurrency = n
	}
}

// NewWorkflowExecutor creates a workflow executor.
func NewWorkflowExecutor(opts ...ExecutorOption) *WorkflowExecutor {
	e := &WorkflowExecutor{compileCtx: &node.CompileContext{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate parses and validates a workflow description: structure, compile
// semantics and the declared input/output schemas. When inputData is
// non-nil it is additionally validated against the input schema.
func (e *WorkflowExecutor) Validate(description []byte, inputData map[string]any) error {
	wf, err := workflow.Parse(description)
	if err != nil {
		return err
	}
	if err := validateSemantics(wf); err != nil {
		return err
	}
	if err := schema.CheckSchema(wf.Input.SchemaOrDefault()); err != nil {
		return fmt.Errorf("workflow %q input schema: %w", wf.ID, err)
	}
	if err := schema.CheckSchema(wf.Output.SchemaOrDefault()); err != nil {
		return fmt.Errorf("workflow %q output schema: %w", wf.ID, err)
	}
	if inputData != nil {
		if err := schema.ValidateInstance(inputData, wf.Input.SchemaOrDefault(), true); err != nil {
			return fmt.Errorf("workflow %q input schema validation failed: %w", wf.ID, err)
		}
	}
	return nil
}

// Invoke runs a workflow description against the given input and returns
// the final output. The input is gated by the workflow's input schema
// before execution and the output by its output schema after.
func (e *WorkflowExecutor) Invoke(ctx context.Context, description []byte, input map[string]any, rtc node.RuntimeContext) (any, error) {
	wf, err := workflow.Parse(description)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}

	invocationID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "workflow.invoke",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("workflow.invocation_id", invocationID),
		))
	defer span.End()

	if err := schema.ValidateInstance(input, wf.Input.SchemaOrDefault(), true); err != nil {
		return nil, fmt.Errorf("workflow %q input schema validation failed: %w", wf.ID, err)
	}

	compiled, err := Compile(wf, e.compileCtx, rtc)
	if err != nil {
		return nil, err
	}
	exec, err := graph.NewExecutor(compiled, graph.WithMaxConcurrency(e.maxConcurrency))
	if err != nil {
		return nil, err
	}

	log.Debugf("invoking workflow %s (invocation %s)", wf.ID, invocationID)
	final, err := exec.Execute(ctx, graph.State{engine.StateKeyInput: input})
	if err != nil {
		return nil, fmt.Errorf("workflow %q invocation failed: %w", wf.ID, err)
	}

	output := final[engine.StateKeyOutput]
	if err := schema.ValidateInstance(output, wf.Output.SchemaOrDefault(), true); err != nil {
		return nil, fmt.Errorf("workflow %q output schema validation failed: %w", wf.ID, err)
	}
	return output, nil
}
