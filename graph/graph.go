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

// Package graph provides graph-based execution functionality similar to LangGraph.
package graph

import "context"

const (
	// Start is the conventional ID of the graph entry node.
	Start = "start"
	// End is the conventional ID of the graph finish node.
	End = "end"
)

// NodeFunc executes a node against a snapshot of the state and returns a
// partial state update. A non-nil error is fatal and aborts the whole run.
type NodeFunc func(ctx context.Context, state State) (State, error)

// LabelFunc selects a routing label from the state. It is evaluated after
// the source node of a conditional dispatch has completed.
type LabelFunc func(ctx context.Context, state State) (string, error)

// Node represents a node in the graph.
type Node struct {
	// ID is the unique identifier of the node.
	ID string
	// Name is the human-readable name of the node.
	Name string
	// Kind describes what the node does (informational, used in events).
	Kind string
	// Function is the function executed for this node.
	Function NodeFunc
}

// Edge represents an unconditional edge in the graph.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge represents a conditional dispatch installed at a source
// node. After the source completes, Selector picks a label and PathMap
// translates it into the destination node ID.
type ConditionalEdge struct {
	From     string
	Selector LabelFunc
	PathMap  map[string]string
}

// Graph represents a directed graph of nodes and edges over a state schema.
// Build it through StateGraph; a Graph is immutable once compiled.
type Graph struct {
	schema      *StateSchema
	nodes       map[string]*Node
	edges       map[string][]*Edge
	conditional map[string]*ConditionalEdge
	entryPoint  string
}

// New creates a new empty graph with the given state schema.
func New(schema *StateSchema) *Graph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &Graph{
		schema:      schema,
		nodes:       make(map[string]*Node),
		edges:       make(map[string][]*Edge),
		conditional: make(map[string]*ConditionalEdge),
	}
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

func (g *Graph) addNode(node *Node) error {
	if node.ID == "" {
		return ErrEmptyNodeID
	}
	if _, exists := g.nodes[node.ID]; exists {
		return &DuplicateNodeError{ID: node.ID}
	}
	g.nodes[node.ID] = node
	return nil
}

func (g *Graph) addEdge(edge *Edge) {
	g.edges[edge.From] = append(g.edges[edge.From], edge)
}

func (g *Graph) addConditionalEdge(edge *ConditionalEdge) {
	g.conditional[edge.From] = edge
}

func (g *Graph) setEntryPoint(nodeID string) {
	g.entryPoint = nodeID
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Edges returns the unconditional outgoing edges of a node.
func (g *Graph) Edges(nodeID string) []*Edge {
	return g.edges[nodeID]
}

// ConditionalDispatch returns the conditional dispatch installed at a node,
// if any.
func (g *Graph) ConditionalDispatch(nodeID string) (*ConditionalEdge, bool) {
	ce, ok := g.conditional[nodeID]
	return ce, ok
}

// EntryPoint returns the ID of the entry node.
func (g *Graph) EntryPoint() string {
	return g.entryPoint
}

// predecessors returns the sources of unconditional edges into nodeID.
// Conditional dispatch targets are intentionally excluded: a node reached
// only through routing must not act as a join barrier.
func (g *Graph) predecessors(nodeID string) []string {
	var preds []string
	for from, edges := range g.edges {
		for _, e := range edges {
			if e.To == nodeID {
				preds = append(preds, from)
				break
			}
		}
	}
	return preds
}

// validate validates the graph structure.
func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return ErrNoEntryPoint
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return &UnknownNodeError{ID: g.entryPoint, Context: "entry point"}
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return &UnknownNodeError{ID: from, Context: "edge source"}
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return &UnknownNodeError{ID: e.To, Context: "edge target"}
			}
		}
	}
	for from, ce := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return &UnknownNodeError{ID: from, Context: "conditional edge source"}
		}
		for _, to := range ce.PathMap {
			if _, ok := g.nodes[to]; !ok {
				return &UnknownNodeError{ID: to, Context: "conditional edge target"}
			}
		}
	}
	return nil
}
