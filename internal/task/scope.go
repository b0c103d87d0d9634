package task

import "context"

// Scope is handed to a running job body. It is the body's only way to grow
// the tree: child jobs and handler calls submitted here become children of
// the owning node and count against its subtree barrier.
type Scope struct {
	node *Node
}

// Node returns the node owning this scope.
func (s *Scope) Node() *Node {
	return s.node
}

// SubmitJob creates a child job under the scope's node and schedules it.
func (s *Scope) SubmitJob(ctx context.Context, name string, body Body, opts ...Option) (*Job, error) {
	j := NewJob(name, body, opts...)
	if err := Submit(ctx, s.node, j); err != nil {
		return nil, err
	}
	return j, nil
}

// CallHandler tracks h as a child of the scope's node and awaits its result.
func (s *Scope) CallHandler(ctx context.Context, h *Handler, args ...any) (any, error) {
	if err := h.Call(ctx, s.node, args...); err != nil {
		return nil, err
	}
	return h.Await(ctx)
}

// CallDetached tracks h as a child of the scope's node without awaiting it.
// The subtree barrier still covers it; only the caller's control flow is
// released.
func (s *Scope) CallDetached(ctx context.Context, h *Handler, args ...any) error {
	return h.Call(ctx, s.node, args...)
}
