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

package graph

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

var tracer = otel.Tracer("trpc.group/trpc-go/trpc-flow-go/graph")

// Executor executes a compiled graph with dependency-driven parallelism.
//
// Execution proceeds in supersteps: every ready node of the current frontier
// runs concurrently in its own goroutine; partial updates are merged
// serially, in completion order, through the state schema's reducers. After
// a superstep, completed nodes signal their successors (conditional
// dispatches select exactly one target) and the next frontier is formed.
//
// A node with several unconditional predecessors acts as a join: it becomes
// ready only once every predecessor activated in this run has completed.
// Predecessors on never-taken branches do not block the join. Each node runs
// at most once per run.
type Executor struct {
	graph          *Graph
	maxConcurrency int
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// MaxConcurrency caps the number of nodes running in one superstep.
	// Zero means no cap.
	MaxConcurrency int
}

// WithMaxConcurrency caps the number of nodes running concurrently.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MaxConcurrency = n
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if err := graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	var options ExecutorOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Executor{
		graph:          graph,
		maxConcurrency: options.MaxConcurrency,
	}, nil
}

type nodeResult struct {
	nodeID string
	update State
	err    error
}

// Execute runs the graph to completion and returns the final state.
// The initial state is merged over the schema defaults before the entry
// node runs. A fatal node error cancels in-flight siblings and is returned;
// their partial updates are discarded.
func (e *Executor) Execute(ctx context.Context, initial State) (State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "graph.execute")
	defer span.End()

	schema := e.graph.Schema()
	state := schema.ApplyUpdate(schema.Init(), initial)

	executed := make(map[string]bool)
	// arrived[n] holds the predecessors whose completion signal reached n.
	arrived := make(map[string]map[string]bool)
	// activated[n] means n is on a taken path: it was signalled, or lies on
	// the unconditional closure of a signalled node and so will be.
	activated := make(map[string]bool)
	e.activate(e.graph.EntryPoint(), activated)

	frontier := []string{e.graph.EntryPoint()}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		results := make(chan nodeResult, len(frontier))
		sem := make(chan struct{}, concurrencyLimit(e.maxConcurrency, len(frontier)))
		for _, nodeID := range frontier {
			node, ok := e.graph.Node(nodeID)
			if !ok {
				return state, &UnknownNodeError{ID: nodeID, Context: "frontier"}
			}
			sem <- struct{}{}
			go func(node *Node) {
				defer func() { <-sem }()
				results <- e.runNode(ctx, node, state)
			}(node)
		}

		// Merge updates serially, in completion order.
		var fatal error
		completed := make([]string, 0, len(frontier))
		for range frontier {
			r := <-results
			if r.err != nil {
				if fatal == nil {
					fatal = &NodeError{NodeID: r.nodeID, Err: r.err}
					cancel()
				}
				continue
			}
			if fatal != nil {
				// A sibling already failed; this result is discarded.
				continue
			}
			state = schema.ApplyUpdate(state, r.update)
			completed = append(completed, r.nodeID)
		}
		if fatal != nil {
			return state, fatal
		}

		for _, nodeID := range frontier {
			executed[nodeID] = true
		}

		for _, src := range completed {
			targets, err := e.successors(ctx, state, src)
			if err != nil {
				return state, err
			}
			for _, dst := range targets {
				if arrived[dst] == nil {
					arrived[dst] = make(map[string]bool)
				}
				arrived[dst][src] = true
				e.activate(dst, activated)
			}
		}

		frontier = e.nextFrontier(arrived, executed, activated)
	}

	return state, nil
}

func (e *Executor) runNode(ctx context.Context, node *Node, state State) nodeResult {
	nodeCtx, span := tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.kind", node.Kind),
		))
	defer span.End()

	log.Debugf("executing node %s (%s)", node.ID, node.Kind)
	update, err := node.Function(nodeCtx, state.Clone())
	if err != nil {
		return nodeResult{nodeID: node.ID, err: err}
	}
	return nodeResult{nodeID: node.ID, update: update}
}

// successors resolves the nodes signalled by a completed node: the targets
// of its unconditional edges plus, when a conditional dispatch is installed,
// the single target selected by the dispatch label.
func (e *Executor) successors(ctx context.Context, state State, src string) ([]string, error) {
	var targets []string
	for _, edge := range e.graph.Edges(src) {
		targets = append(targets, edge.To)
	}
	if ce, ok := e.graph.ConditionalDispatch(src); ok {
		label, err := ce.Selector(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("conditional dispatch at %s: %w", src, err)
		}
		dst, ok := ce.PathMap[label]
		if !ok {
			return nil, fmt.Errorf("conditional dispatch at %s: no target for label %q", src, label)
		}
		targets = append(targets, dst)
	}
	return targets, nil
}

// activate marks a node and its unconditional descendant closure as being on
// a taken path. A signalled node will run, and running it signals all of its
// unconditional successors, so the whole closure is certain to be reached no
// matter how many hops away it is.
func (e *Executor) activate(nodeID string, activated map[string]bool) {
	if activated[nodeID] {
		return
	}
	activated[nodeID] = true
	for _, edge := range e.graph.Edges(nodeID) {
		e.activate(edge.To, activated)
	}
}

// nextFrontier picks the signalled nodes whose join barrier is satisfied.
// A node is held back while any of its unconditional predecessors is on a
// taken path but has not yet delivered its signal.
func (e *Executor) nextFrontier(arrived map[string]map[string]bool, executed, activated map[string]bool) []string {
	var next []string
	for dst, srcs := range arrived {
		if executed[dst] || len(srcs) == 0 {
			continue
		}
		if e.joinSatisfied(dst, arrived, activated) {
			next = append(next, dst)
		}
	}
	sort.Strings(next)
	return next
}

func (e *Executor) joinSatisfied(dst string, arrived map[string]map[string]bool, activated map[string]bool) bool {
	for _, pred := range e.graph.predecessors(dst) {
		if arrived[dst][pred] {
			continue
		}
		if activated[pred] {
			// The predecessor will run on this path but has not delivered
			// its signal yet: wait for it.
			return false
		}
	}
	return true
}

func concurrencyLimit(max, frontier int) int {
	if max <= 0 || max > frontier {
		return frontier
	}
	return max
}
