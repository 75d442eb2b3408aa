package graph

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyNodeID  = errors.New("node ID cannot be empty")
	ErrNoEntryPoint = errors.New("graph must have an entry point")
)

// DuplicateNodeError reports a node added twice.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node with ID %s already exists", e.ID)
}

// UnknownNodeError reports a reference to a node that was never added.
type UnknownNodeError struct {
	ID      string
	Context string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s references unknown node %s", e.Context, e.ID)
}

// NodeError wraps a fatal error raised while executing a node.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
