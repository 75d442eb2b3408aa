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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/backend"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []node.Event
}

func (r *eventRecorder) record(_ context.Context, e node.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) completedNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, e := range r.events {
		if e["type"] == "node_completed" {
			ids = append(ids, e["node_id"].(string))
		}
	}
	return ids
}

func newTestExecutor(t *testing.T, hook node.EventHook) *WorkflowExecutor {
	t.Helper()
	sandbox, err := backend.NewSandbox(8)
	require.NoError(t, err)
	t.Cleanup(sandbox.Close)

	return NewWorkflowExecutor(WithCompileContext(&node.CompileContext{
		JQ:        backend.NewJQRunner(),
		Sandbox:   sandbox,
		EmitEvent: hook,
	}))
}

func TestInvokeIdentity(t *testing.T) {
	wf := `{
	  "id": "wf_identity", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"x": "$input.x"}},
	  "nodes": [],
	  "edges": [{"from": "start", "to": "end"}]
	}`

	out, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf),
		map[string]any{"x": float64(123)}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(123)}, out)
}

func TestInvokeSequentialTransform(t *testing.T) {
	wf := `{
	  "id": "wf_seq", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"result": "$nodes.step_concat"}},
	  "nodes": [
	    {
	      "id": "step_transform", "kind": "python_code",
	      "code": "return {\"num2\": input[\"num\"] * 2, \"text_upper\": input[\"text\"].upper()}",
	      "input_mapping": {"num": "$input.num", "text": "$input.text"}
	    },
	    {
	      "id": "step_concat", "kind": "jq_transform",
	      "code": ".text_upper + \"-\" + (.num2|tostring)",
	      "input_mapping": {
	        "text_upper": "$nodes.step_transform.text_upper",
	        "num2": "$nodes.step_transform.num2"
	      }
	    }
	  ],
	  "edges": [
	    {"from": "start", "to": "step_transform"},
	    {"from": "step_transform", "to": "step_concat"},
	    {"from": "step_concat", "to": "end"}
	  ]
	}`

	out, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf),
		map[string]any{"num": float64(7), "text": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "HELLO-14"}, out)
}

func TestInvokeFanOutFanIn(t *testing.T) {
	wf := `{
	  "id": "wf_fan", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"result": "$nodes.total.sum"}},
	  "nodes": [
	    {"id": "mul_two", "kind": "python_code",
	     "code": "return {\"value\": input[\"val\"] * 2}",
	     "input_mapping": {"val": "$input.val"}},
	    {"id": "mul_three", "kind": "python_code",
	     "code": "return {\"value\": input[\"val\"] * 3}",
	     "input_mapping": {"val": "$input.val"}},
	    {"id": "mul_four", "kind": "python_code",
	     "code": "return {\"value\": input[\"val\"] * 4}",
	     "input_mapping": {"val": "$input.val"}},
	    {"id": "total", "kind": "python_code",
	     "code": "return {\"sum\": input[\"a\"] + input[\"b\"] + input[\"c\"]}",
	     "input_mapping": {
	       "a": "$nodes.mul_two.value",
	       "b": "$nodes.mul_three.value",
	       "c": "$nodes.mul_four.value"
	     }}
	  ],
	  "edges": [
	    {"from": "start", "to": "mul_two"},
	    {"from": "start", "to": "mul_three"},
	    {"from": "start", "to": "mul_four"},
	    {"from": "mul_two", "to": "total"},
	    {"from": "mul_three", "to": "total"},
	    {"from": "mul_four", "to": "total"},
	    {"from": "total", "to": "end"}
	  ]
	}`

	out, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf),
		map[string]any{"val": float64(5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": int64(45)}, out)
}

func TestInvokeUnevenBranchJoin(t *testing.T) {
	// One-hop branch joining a three-hop branch: the join must see both
	// branches' outputs even though the short branch delivers much earlier.
	wf := `{
	  "id": "wf_deep_join", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"short": "$nodes.joiner.short", "long": "$nodes.joiner.long"}},
	  "nodes": [
	    {"id": "short_op", "kind": "noop", "input_mapping": {"val": "$input.val"}},
	    {"id": "long_one", "kind": "noop", "input_mapping": {"val": "$input.val"}},
	    {"id": "long_two", "kind": "noop", "input_mapping": {"val": "$nodes.long_one.val"}},
	    {"id": "long_three", "kind": "noop", "input_mapping": {"val": "$nodes.long_two.val"}},
	    {"id": "joiner", "kind": "noop",
	     "input_mapping": {"short": "$nodes.short_op.val", "long": "$nodes.long_three.val"}}
	  ],
	  "edges": [
	    {"from": "start", "to": "short_op"},
	    {"from": "start", "to": "long_one"},
	    {"from": "long_one", "to": "long_two"},
	    {"from": "long_two", "to": "long_three"},
	    {"from": "short_op", "to": "joiner"},
	    {"from": "long_three", "to": "joiner"},
	    {"from": "joiner", "to": "end"}
	  ]
	}`

	out, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf),
		map[string]any{"val": float64(9)}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"short": float64(9), "long": float64(9)}, out)
}

func routerWorkflow() string {
	return `{
	  "id": "wf_router", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"result": "$nodes.pick"}},
	  "nodes": [
	    {"id": "route", "kind": "router",
	     "cases": {"add": "$input.op == 'add'", "sub": "$input.op == 'sub'"}},
	    {"id": "add_op", "kind": "python_code",
	     "code": "return {\"result\": input[\"x\"] + input[\"y\"]}",
	     "input_mapping": {"x": "$input.x", "y": "$input.y"}},
	    {"id": "sub_op", "kind": "python_code",
	     "code": "return {\"result\": input[\"x\"] - input[\"y\"]}",
	     "input_mapping": {"x": "$input.x", "y": "$input.y"}},
	    {"id": "pick", "kind": "jq_transform",
	     "code": ".a // .b",
	     "input_mapping": {"a": "$nodes.add_op.result", "b": "$nodes.sub_op.result"}}
	  ],
	  "edges": [
	    {"from": "start", "to": "route"},
	    {"from": "route", "routes": [
	      {"to": "add_op", "when_label": "add"},
	      {"to": "sub_op", "when_label": "sub"}
	    ]},
	    {"from": "add_op", "to": "pick"},
	    {"from": "sub_op", "to": "pick"},
	    {"from": "pick", "to": "end"}
	  ]
	}`
}

func TestInvokeRouterAdd(t *testing.T) {
	rec := &eventRecorder{}

	out, err := newTestExecutor(t, rec.record).Invoke(context.Background(), []byte(routerWorkflow()),
		map[string]any{"x": float64(3), "y": float64(4), "op": "add"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": 7}, out)

	completed := rec.completedNodes()
	assert.Contains(t, completed, "add_op")
	assert.NotContains(t, completed, "sub_op")
}

func TestInvokeRouterSub(t *testing.T) {
	rec := &eventRecorder{}

	out, err := newTestExecutor(t, rec.record).Invoke(context.Background(), []byte(routerWorkflow()),
		map[string]any{"x": float64(3), "y": float64(4), "op": "sub"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": -1}, out)
	assert.NotContains(t, rec.completedNodes(), "add_op")
}

func TestInvokeSchemaGate(t *testing.T) {
	rec := &eventRecorder{}
	wf := `{
	  "id": "wf_gate", "version": 1,
	  "input": {"schema": {
	    "type": "object",
	    "properties": {"y": {"type": "integer"}},
	    "required": ["y"]
	  }},
	  "output": {"input_mapping": {"y": "$input.y"}},
	  "nodes": [{"id": "pass", "kind": "noop", "input_mapping": {"y": "$input.y"}}],
	  "edges": [{"from": "start", "to": "pass"}, {"from": "pass", "to": "end"}]
	}`

	_, err := newTestExecutor(t, rec.record).Invoke(context.Background(), []byte(wf),
		map[string]any{"x": float64(123)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workflow "wf_gate" input schema validation failed`)
	// No node ran.
	assert.Empty(t, rec.completedNodes())
}

func TestInvokeSandboxTimeout(t *testing.T) {
	wf := `{
	  "id": "wf_timeout", "version": 1,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {}},
	  "nodes": [
	    {"id": "spin", "kind": "python_code", "timeout_s": 0.1,
	     "code": "n = 0\nwhile True:\n    n = n + 1\nreturn n"}
	  ],
	  "edges": [{"from": "start", "to": "spin"}, {"from": "spin", "to": "end"}]
	}`

	_, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf), map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spin failed with error")
	assert.Contains(t, err.Error(), "timed out")
}

func TestInvokeFailFastDisabledContinues(t *testing.T) {
	wf := `{
	  "id": "wf_tolerant", "version": 1, "fail_fast": false,
	  "input": {"schema": {"type": "object"}},
	  "output": {"input_mapping": {"picked": "$nodes.pick"}},
	  "nodes": [
	    {"id": "bad_jq", "kind": "jq_transform", "code": "error(\"boom\")"},
	    {"id": "pick", "kind": "jq_transform",
	     "code": ".v // \"fallback\"",
	     "input_mapping": {"v": "$nodes.bad_jq.value"}}
	  ],
	  "edges": [
	    {"from": "start", "to": "bad_jq"},
	    {"from": "bad_jq", "to": "pick"},
	    {"from": "pick", "to": "end"}
	  ]
	}`

	out, err := newTestExecutor(t, nil).Invoke(context.Background(), []byte(wf), map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"picked": "fallback"}, out)
}

func TestValidateOK(t *testing.T) {
	err := newTestExecutor(t, nil).Validate([]byte(routerWorkflow()), nil)
	assert.NoError(t, err)
}

func TestValidateWithInputData(t *testing.T) {
	wf := `{
	  "id": "wf_gate", "version": 1,
	  "input": {"schema": {
	    "type": "object",
	    "properties": {"y": {"type": "integer"}},
	    "required": ["y"]
	  }},
	  "output": {"input_mapping": {}},
	  "nodes": [{"id": "pass", "kind": "noop"}],
	  "edges": [{"from": "start", "to": "pass"}, {"from": "pass", "to": "end"}]
	}`
	exec := newTestExecutor(t, nil)

	assert.NoError(t, exec.Validate([]byte(wf), map[string]any{"y": float64(1)}))

	err := exec.Validate([]byte(wf), map[string]any{"x": float64(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input schema validation failed")
}

func TestValidateStructuralError(t *testing.T) {
	err := newTestExecutor(t, nil).Validate([]byte(`{
	  "id": "wf_bad", "version": 1, "input": {}, "output": {},
	  "nodes": [{"id": "Pass", "kind": "noop"}],
	  "edges": [{"from": "start", "to": "Pass"}, {"from": "Pass", "to": "end"}]
	}`), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
}

func TestValidateMissingStartEdge(t *testing.T) {
	err := newTestExecutor(t, nil).Validate([]byte(`{
	  "id": "wf_noentry", "version": 1, "input": {}, "output": {},
	  "nodes": [{"id": "pass", "kind": "noop"}],
	  "edges": [{"from": "pass", "to": "end"}]
	}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edge from 'start'")
}

func TestValidateInvalidSchema(t *testing.T) {
	err := newTestExecutor(t, nil).Validate([]byte(`{
	  "id": "wf_badschema", "version": 1,
	  "input": {"schema": {"type": "not-a-type"}},
	  "output": {"input_mapping": {}},
	  "nodes": [{"id": "pass", "kind": "noop"}],
	  "edges": [{"from": "start", "to": "pass"}, {"from": "pass", "to": "end"}]
	}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input schema")
}
