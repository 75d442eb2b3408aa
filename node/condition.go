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
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
)

// refPattern matches state references embedded in router conditions:
// $input.a.b, $nodes.id.path and $state.key.
var refPattern = regexp.MustCompile(
	`\$(?:input(?:\.[A-Za-z0-9_]+)+|nodes\.[A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)+|state\.[A-Za-z0-9_]+)`)

// EvalCondition evaluates a router condition against the execution state
// and reports whether it holds.
//
// The literal "else" is always true. State references are rewritten into
// injected variables resolved leniently (missing data is nil, not fatal),
// then the rewritten expression is parsed and its syntax tree checked
// against a strict allow-list before evaluation: boolean and/or/not,
// comparisons, arithmetic, constants and the injected references. Anything
// else — calls, member access, subscripts, closures — is rejected.
func EvalCondition(condition string, state graph.State) (bool, error) {
	cond := strings.TrimSpace(condition)
	if cond == "else" {
		return true, nil
	}

	env := map[string]any{
		"input": state[engine.StateKeyInput],
		"nodes": state[engine.StateKeyData],
		"state": map[string]any(state),
	}

	refIndex := 0
	rewritten := refPattern.ReplaceAllStringFunc(cond, func(token string) string {
		name := fmt.Sprintf("ref_%d", refIndex)
		refIndex++
		v, _ := engine.ResolveExpr(state, token, false)
		env[name] = intifyRef(v)
		return name
	})

	tree, err := parser.Parse(rewritten)
	if err != nil {
		return false, fmt.Errorf("parse condition: %w", err)
	}
	if err := checkAllowList(tree.Node); err != nil {
		return false, err
	}

	program, err := expr.Compile(rewritten, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	return truthy(out), nil
}

var allowedBinaryOps = map[string]bool{
	"and": true, "&&": true,
	"or": true, "||": true,
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"+": true, "-": true, "*": true, "/": true, "%": true,
}

var allowedUnaryOps = map[string]bool{
	"not": true, "!": true, "-": true, "+": true,
}

type allowListVisitor struct {
	err error
}

func (v *allowListVisitor) Visit(node *ast.Node) {
	if v.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.BoolNode, *ast.IntegerNode, *ast.FloatNode, *ast.StringNode, *ast.IdentifierNode:
	case *ast.UnaryNode:
		if !allowedUnaryOps[n.Operator] {
			v.err = fmt.Errorf("unsupported operator %q in condition", n.Operator)
		}
	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			v.err = fmt.Errorf("unsupported operator %q in condition", n.Operator)
		}
	default:
		v.err = fmt.Errorf("unsupported expression element %T in condition", *node)
	}
}

func checkAllowList(node ast.Node) error {
	visitor := &allowListVisitor{}
	ast.Walk(&node, visitor)
	return visitor.err
}

// intifyRef converts integral floats to ints so integer-style arithmetic
// (notably %) behaves the way condition authors expect for JSON numbers.
func intifyRef(v any) any {
	if f, ok := v.(float64); ok && f == float64(int(f)) {
		return int(f)
	}
	return v
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
