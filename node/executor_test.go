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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

type fakeJQ struct {
	result any
	err    error
	gotIn  any
}

func (f *fakeJQ) Run(_ context.Context, _ string, input any) (any, error) {
	f.gotIn = input
	return f.result, f.err
}

type fakeSandbox struct {
	result any
	err    error
}

func (f *fakeSandbox) Run(_ context.Context, _ string, _ map[string]any, _ time.Duration) (any, error) {
	return f.result, f.err
}

func baseState() graph.State {
	return graph.State{
		engine.StateKeyInput: map[string]any{"x": float64(3), "text": "hello"},
		engine.StateKeyData:  map[string]any{},
	}
}

func firstError(t *testing.T, update graph.State) engine.ErrorRecord {
	t.Helper()
	records, ok := update[engine.StateKeyErrors].([]engine.ErrorRecord)
	require.True(t, ok, "update carries no errors")
	require.NotEmpty(t, records)
	return records[0]
}

func nodeOutput(t *testing.T, update graph.State, nodeID string) any {
	t.Helper()
	data, ok := update[engine.StateKeyData].(map[string]any)
	require.True(t, ok, "update carries no data")
	return data[nodeID]
}

func TestNoopExecutor(t *testing.T) {
	var events []Event
	cc := &CompileContext{EmitEvent: func(_ context.Context, e Event) { events = append(events, e) }}

	exec, err := NewNoopExecutor(&workflow.Node{
		ID:           "pass",
		Kind:         workflow.KindNoop,
		InputMapping: map[string]any{"v": "$input.x"},
	}, cc)
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"v": float64(3)}, nodeOutput(t, update, "pass"))
	assert.Equal(t, "pass", update[engine.StateKeyLastNode])
	require.Len(t, events, 1)
	assert.Equal(t, "node_completed", events[0]["type"])
}

func TestNoopExecutorMappingError(t *testing.T) {
	exec, err := NewNoopExecutor(&workflow.Node{
		ID:           "pass",
		Kind:         workflow.KindNoop,
		InputMapping: map[string]any{"v": "$input.missing"},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ErrTypeMapping, firstError(t, update).Type)
}

func TestJQExecutor(t *testing.T) {
	jq := &fakeJQ{result: map[string]any{"doubled": 6}}
	exec, err := NewJQExecutor(&workflow.Node{
		ID:           "jq",
		Kind:         workflow.KindJQTransform,
		Code:         "{doubled: (.v * 2)}",
		InputMapping: map[string]any{"v": "$input.x"},
	}, &CompileContext{JQ: jq})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"doubled": 6}, nodeOutput(t, update, "jq"))
}

func TestJQExecutorLenientInputs(t *testing.T) {
	jq := &fakeJQ{result: "ok"}
	exec, err := NewJQExecutor(&workflow.Node{
		ID:           "jq",
		Kind:         workflow.KindJQTransform,
		Code:         ".",
		InputMapping: map[string]any{"v": "$nodes.skipped_branch.value"},
	}, &CompileContext{JQ: jq})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.NotContains(t, update, engine.StateKeyErrors)
	assert.Equal(t, map[string]any{"v": nil}, jq.gotIn)
}

func TestJQExecutorMissingRunner(t *testing.T) {
	exec, err := NewJQExecutor(&workflow.Node{ID: "jq", Kind: workflow.KindJQTransform, Code: "."}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ErrTypeMissingDependency, firstError(t, update).Type)
}

func TestJQExecutorRunnerError(t *testing.T) {
	exec, err := NewJQExecutor(&workflow.Node{ID: "jq", Kind: workflow.KindJQTransform, Code: "."},
		&CompileContext{JQ: &fakeJQ{err: errors.New("bad program")}})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	rec := firstError(t, update)
	assert.Equal(t, engine.ErrTypeJQ, rec.Type)
	assert.Contains(t, rec.Message, "bad program")
}

func TestPythonCodeExecutor(t *testing.T) {
	sb := &fakeSandbox{result: map[string]any{"x_doubled": int64(6)}}
	exec, err := NewPythonCodeExecutor(&workflow.Node{
		ID:           "py",
		Kind:         workflow.KindPythonCode,
		Code:         "return {\"x_doubled\": input[\"x\"] * 2}",
		InputMapping: map[string]any{"x": "$input.x"},
	}, &CompileContext{Sandbox: sb})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x_doubled": int64(6)}, nodeOutput(t, update, "py"))
}

func TestPythonCodeExecutorTimeoutClassified(t *testing.T) {
	sb := &fakeSandbox{err: errors.New("sandbox execution timed out after 100ms")}
	exec, err := NewPythonCodeExecutor(&workflow.Node{
		ID:   "py",
		Kind: workflow.KindPythonCode,
		Code: "while True:\n    pass",
	}, &CompileContext{Sandbox: sb})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	rec := firstError(t, update)
	assert.Equal(t, engine.ErrTypePythonCode, rec.Type)
	assert.Contains(t, rec.Message, "timed out")
}

func TestPythonCodeExecutorMissingSandbox(t *testing.T) {
	exec, err := NewPythonCodeExecutor(&workflow.Node{ID: "py", Kind: workflow.KindPythonCode, Code: "return 1"}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ErrTypeMissingDependency, firstError(t, update).Type)
}

func TestRouterExecutorOrderedCases(t *testing.T) {
	exec, err := NewRouterExecutor(&workflow.Node{
		ID:   "route",
		Kind: workflow.KindRouter,
		Cases: workflow.Cases{
			{Label: "add", Condition: "$input.op == 'add'"},
			{Label: "anything", Condition: "else"},
		},
	}, &CompileContext{})
	require.NoError(t, err)

	state := baseState()
	state[engine.StateKeyInput] = map[string]any{"op": "add"}

	update, err := exec(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "add"}, nodeOutput(t, update, "route"))
}

func TestRouterExecutorDefault(t *testing.T) {
	exec, err := NewRouterExecutor(&workflow.Node{
		ID:      "route",
		Kind:    workflow.KindRouter,
		Cases:   workflow.Cases{{Label: "add", Condition: "$input.op == 'add'"}},
		Default: "fallback",
	}, &CompileContext{})
	require.NoError(t, err)

	state := baseState()
	state[engine.StateKeyInput] = map[string]any{"op": "sub"}

	update, err := exec(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "fallback"}, nodeOutput(t, update, "route"))
}

func TestRouterExecutorNoRoute(t *testing.T) {
	exec, err := NewRouterExecutor(&workflow.Node{
		ID:    "route",
		Kind:  workflow.KindRouter,
		Cases: workflow.Cases{{Label: "add", Condition: "$input.op == 'add'"}},
	}, &CompileContext{})
	require.NoError(t, err)

	state := baseState()
	state[engine.StateKeyInput] = map[string]any{"op": "sub"}

	update, err := exec(context.Background(), state, nil)
	require.NoError(t, err)
	rec := firstError(t, update)
	assert.Equal(t, engine.ErrTypeRouter, rec.Type)
	assert.Equal(t, "No route selected", rec.Message)
}

func TestRouterExecutorUnsafeCondition(t *testing.T) {
	exec, err := NewRouterExecutor(&workflow.Node{
		ID:    "route",
		Kind:  workflow.KindRouter,
		Cases: workflow.Cases{{Label: "bad", Condition: "len('x') > 0"}},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ErrTypeRouter, firstError(t, update).Type)
}

func TestHTTPExecutorGetQueryParams(t *testing.T) {
	var gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"greeting": "hi"}`))
	}))
	defer srv.Close()

	exec, err := NewHTTPRequestExecutor(&workflow.Node{
		ID:   "fetch",
		Kind: workflow.KindHTTPRequest,
		InputMapping: map[string]any{
			"url":    srv.URL + "/users/{id}",
			"id":     "$input.x",
			"method": "GET",
		},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)

	assert.Equal(t, "/users/3", gotPath)
	assert.Contains(t, gotQuery, "id=3")

	out := nodeOutput(t, update, "fetch").(map[string]any)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 200, out["status"])
	assert.Equal(t, map[string]any{"greeting": "hi"}, out["body_json"])
	assert.NotZero(t, out["body_bytes_len"])
}

func TestHTTPExecutorPostJSONBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	exec, err := NewHTTPRequestExecutor(&workflow.Node{
		ID:   "create",
		Kind: workflow.KindHTTPRequest,
		InputMapping: map[string]any{
			"url":     srv.URL,
			"method":  "POST",
			"headers": map[string]any{"X-Token": "abc"},
			"name":    "$input.text",
		},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"name": "hello"}, gotBody)

	out := nodeOutput(t, update, "create").(map[string]any)
	assert.Equal(t, 201, out["status"])
	assert.Equal(t, "created", out["body_text"])
}

func TestHTTPExecutorNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	exec, err := NewHTTPRequestExecutor(&workflow.Node{
		ID:           "fetch",
		Kind:         workflow.KindHTTPRequest,
		InputMapping: map[string]any{"url": srv.URL},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)

	rec := firstError(t, update)
	assert.Equal(t, engine.ErrTypeHTTPRequest, rec.Type)
	assert.Contains(t, rec.Message, "HTTP 502")
	assert.Equal(t, 502, rec.Details["status"])
	assert.Equal(t, "upstream down", rec.Details["body_text"])
}

func TestHTTPExecutorBadURL(t *testing.T) {
	exec, err := NewHTTPRequestExecutor(&workflow.Node{
		ID:           "fetch",
		Kind:         workflow.KindHTTPRequest,
		InputMapping: map[string]any{"url": 42},
	}, &CompileContext{})
	require.NoError(t, err)

	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)

	rec := firstError(t, update)
	assert.Equal(t, engine.ErrTypeHTTPRequest, rec.Type)
	assert.Contains(t, rec.Message, "url must resolve to a string")
}

func TestStartExecutorEmptyUpdate(t *testing.T) {
	exec := NewStartExecutor()
	update, err := exec(context.Background(), baseState(), nil)
	require.NoError(t, err)
	assert.Empty(t, update)
}

func TestEndExecutorWritesOutput(t *testing.T) {
	exec := NewEndExecutor(map[string]any{"result": "$nodes.calc.sum"})

	state := baseState()
	state[engine.StateKeyData] = map[string]any{"calc": map[string]any{"sum": float64(7)}}

	update, err := exec(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": float64(7)}, update[engine.StateKeyOutput])
}

func TestEndExecutorStrictResolve(t *testing.T) {
	exec := NewEndExecutor(map[string]any{"result": "$nodes.calc.missing"})

	state := baseState()
	state[engine.StateKeyData] = map[string]any{"calc": map[string]any{}}

	update, err := exec(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ErrTypeMapping, firstError(t, update).Type)
}
