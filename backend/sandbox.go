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

package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// PrintedKey is the reserved output key carrying captured print output.
const PrintedKey = "_printed"

const userMainName = "user_main"

// Sandbox runs distrusted user code under a language-level restricted
// evaluator. The code is wrapped as a callable user_main(input) so authors
// can write a top-level return; it runs with a curated builtin set, no
// imports and no host access. Execution is offloaded to a worker pool and
// a wall-clock timeout is enforced from outside; on expiry the worker is
// cancelled and abandoned.
//
// This is not an OS sandbox: it contains distrusted input, not untrusted
// principals.
type Sandbox struct {
	pool *ants.Pool
}

// NewSandbox creates a sandbox backed by a worker pool of the given size.
// A non-positive size falls back to a small default.
func NewSandbox(poolSize int) (*Sandbox, error) {
	if poolSize <= 0 {
		poolSize = 16
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("sandbox pool: %w", err)
	}
	return &Sandbox{pool: pool}, nil
}

// Close releases the worker pool.
func (s *Sandbox) Close() {
	s.pool.Release()
}

type sandboxResult struct {
	value any
	err   error
}

// Run executes user code with the given input under the timeout. If the
// code returns an object, captured print output (if any) is attached under
// PrintedKey; otherwise the raw return value is passed through for
// projection.
func (s *Sandbox) Run(ctx context.Context, code string, input map[string]any, timeout time.Duration) (any, error) {
	var printed strings.Builder
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			printed.WriteString(msg)
			printed.WriteByte('\n')
		},
	}

	done := make(chan sandboxResult, 1)
	if err := s.pool.Submit(func() {
		value, err := runUserMain(thread, code, input)
		done <- sandboxResult{value: value, err: err}
	}); err != nil {
		return nil, fmt.Errorf("sandbox submit: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if out, ok := r.value.(map[string]any); ok {
			if p := printed.String(); p != "" {
				out[PrintedKey] = p
			}
			return out, nil
		}
		return r.value, nil
	case <-timer.C:
		// Abandon the worker; cancellation aborts the evaluation promptly.
		thread.Cancel("timeout")
		return nil, fmt.Errorf("sandbox execution timed out after %s", timeout)
	case <-ctx.Done():
		thread.Cancel("context cancelled")
		return nil, ctx.Err()
	}
}

func runUserMain(thread *starlark.Thread, code string, input map[string]any) (any, error) {
	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}

	globals, err := starlark.ExecFileOptions(opts, thread, "<sandboxed_code>", wrapUserCode(code), predeclared())
	if err != nil {
		return nil, fmt.Errorf("sandbox compile failed: %w", err)
	}
	fn, ok := globals[userMainName].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("sandbox code did not define callable %s(input)", userMainName)
	}

	arg, err := toStarlark(input)
	if err != nil {
		return nil, fmt.Errorf("sandbox input: %w", err)
	}
	value, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, fmt.Errorf("sandbox function failed: %w", err)
	}
	return fromStarlark(value)
}

// wrapUserCode turns the authored body into a function definition so a
// top-level return works.
func wrapUserCode(code string) string {
	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(userMainName)
	b.WriteString("(input):\n")
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			b.WriteString("    ")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// predeclared supplies the builtins the evaluator's universe lacks. The
// universe already carries len, range, enumerate, sorted, zip, all, any,
// abs, min, max and print.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"sum":    starlark.NewBuiltin("sum", builtinSum),
		"map":    starlark.NewBuiltin("map", builtinMap),
		"filter": starlark.NewBuiltin("filter", builtinFilter),
	}
}

func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	start := starlark.Value(starlark.MakeInt(0))
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable, &start); err != nil {
		return nil, err
	}
	total := start
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		v, err := starlark.Binary(syntax.PLUS, total, x)
		if err != nil {
			return nil, err
		}
		total = v
	}
	return total, nil
}

func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	var out []starlark.Value
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		v, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return starlark.NewList(out), nil
}

func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	var out []starlark.Value
	iter := iterable.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		keep, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}

// toStarlark converts a JSON-like Go value for the evaluator. Integral
// floats become ints so user code can index and range over them.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		f, _ := starlark.AsFloat(val)
		return f, nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			e, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, e := range val {
			ge, err := fromStarlark(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ge)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			e, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
