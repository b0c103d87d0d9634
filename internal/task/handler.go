package task

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// Handler is the TaskNode variant wrapping a reusable callable. It supports
// tracked execution under a parent, direct awaiting by its invoker, and,
// when marked reusable, repeated call cycles.
type Handler struct {
	node *Node
}

// NewHandler wraps fn as a handler node.
func NewHandler(name string, fn Callable, opts ...Option) *Handler {
	n := newNode(name, KindHandler, opts...)
	n.fn = fn
	return &Handler{node: n}
}

// Reusable marks a handler as re-callable: completion keeps the node alive
// and a later Call resets it to Pending under its new invoker.
func Reusable() Option {
	return func(n *Node) {
		n.reusable = true
	}
}

// TreeNode implements Ref.
func (h *Handler) TreeNode() *Node {
	return h.node
}

// Call schedules the handler for tracked execution as a child of parent.
// A resolved reusable handler is re-enqueued: detached from its previous
// invoker, reset to Pending, and adopted by the new one. A resolved
// non-reusable handler fails with the invalid-edge fault, as does a call
// against a handler whose previous cycle is still open.
func (h *Handler) Call(ctx context.Context, parent Ref, args ...any) error {
	n := h.node

	n.mu.Lock()
	switch {
	case n.status == StatusPending && n.parent == nil && !n.started:
		n.args = args
		n.mu.Unlock()

	case n.status.Terminal() && n.resolved:
		if !n.reusable {
			n.mu.Unlock()
			return fmt.Errorf("%w: handler %q is not reusable", ErrInvalidEdge, n.name)
		}
		old := n.parent
		n.mu.Unlock()
		if old != nil {
			old.removeChild(n)
		}
		if err := h.Reset(); err != nil {
			return err
		}
		n.mu.Lock()
		n.args = args
		n.mu.Unlock()

	default:
		n.mu.Unlock()
		return fmt.Errorf("%w: handler %q is still unresolved", ErrInvalidEdge, n.name)
	}

	return Submit(ctx, parent, h)
}

// Await blocks until the handler's current cycle resolves and returns its
// direct result, independent of tree bookkeeping on the caller's side.
func (h *Handler) Await(ctx context.Context) (any, error) {
	return h.node.Await(ctx)
}

// Reset clears a resolved reusable handler back to Pending, opening a fresh
// execution cycle with its own resolution channel. The explicit operation
// replaces any self-referential re-enqueue tricks; Call performs it
// automatically when re-invoking a resolved handler.
func (h *Handler) Reset() error {
	n := h.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.reusable {
		return fmt.Errorf("%w: handler %q is not reusable", ErrInvalidEdge, n.name)
	}
	if !n.resolved || !n.status.Terminal() {
		return fmt.Errorf("%w: handler %q has not resolved yet", ErrInvalidEdge, n.name)
	}
	if n.parent != nil {
		return fmt.Errorf("%w: handler %q is still attached to %q", ErrInvalidEdge, n.name, n.parent.name)
	}
	n.status = StatusPending
	n.result = nil
	n.err = nil
	n.args = nil
	n.started = false
	n.closing = false
	n.resolved = false
	n.resolvedCh = make(chan struct{})
	n.runCtx = nil
	n.cancel = nil
	return nil
}

// Invoke runs fn as a plain asynchronous operation with no tree bookkeeping
// and no callbacks attached. Panics are captured and returned as errors, the
// same as for tracked execution.
func Invoke(ctx context.Context, fn Callable, args ...any) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil callable", ErrInvalidEdge)
	}
	var result any
	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		result, err = fn(ctx, args...)
	})
	if r := catcher.Recovered(); r != nil {
		err = r.AsError()
	}
	return result, err
}
