package task

import (
	"errors"
	"fmt"
)

// ErrInvalidEdge indicates an attempt to wire a node that cannot legally be
// connected: a nil or foreign reference, a parent that has already resolved,
// or a second call against a non-reusable handler.
var ErrInvalidEdge = errors.New("invalid edge")

// ErrTerminated is returned by Await when the awaited node was torn down by
// a termination cascade. Termination is a signal, not a fault: the node
// carries no recorded error.
var ErrTerminated = errors.New("node terminated")

// ExecutionFault records a fault raised by a node's body during Running.
type ExecutionFault struct {
	NodeID   string
	NodeName string
	Err      error
}

// Error implements the error interface.
func (f *ExecutionFault) Error() string {
	return fmt.Sprintf("node %q failed: %v", f.NodeName, f.Err)
}

// Unwrap exposes the underlying body error for errors.Is/As chains.
func (f *ExecutionFault) Unwrap() error {
	return f.Err
}

// newFault wraps a body error in an ExecutionFault, leaving errors that are
// already faults untouched so nested propagation keeps a single wrapper.
func newFault(n *Node, err error) error {
	var fault *ExecutionFault
	if errors.As(err, &fault) {
		return err
	}
	return &ExecutionFault{NodeID: n.ID(), NodeName: n.name, Err: err}
}
