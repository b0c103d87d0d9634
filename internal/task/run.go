package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/vk/taskcmdr/internal/callback"
	"github.com/vk/taskcmdr/internal/ctxlog"
)

// Start schedules the node for execution under the given context. The body
// runs in its own goroutine; subtrees therefore execute in parallel while
// each node's bookkeeping stays serialized behind its mutex. Starting a node
// that is not Pending, or starting one twice, is a no-op.
func (n *Node) Start(ctx context.Context) {
	n.mu.Lock()
	if n.status != StatusPending || n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	runCtx, cancel := context.WithCancel(ctx)
	n.runCtx = runCtx
	n.cancel = cancel
	n.mu.Unlock()

	go n.run(runCtx)
}

func (n *Node) run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With("node", n.name, "kind", n.kind.String())

	n.mu.Lock()
	if n.status != StatusPending {
		// Terminated before the worker picked it up; the cascade already
		// fired the terminate stage and resolved the node.
		n.mu.Unlock()
		return
	}
	n.status = StatusRunning
	args := n.args
	n.mu.Unlock()

	logger.Debug("Node running.")
	n.callbacks.Fire(ctx, n.startStage(), n, nil)

	var result any
	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		switch {
		case n.kind == KindJob && n.body == nil:
			err = fmt.Errorf("job %q has no body", n.name)
		case n.kind == KindJob:
			result, err = n.body(ctx, &Scope{node: n})
		case n.fn == nil:
			err = fmt.Errorf("handler %q has no callable", n.name)
		default:
			result, err = n.fn(ctx, args...)
		}
	})
	if r := catcher.Recovered(); r != nil {
		err = r.AsError()
	}

	// Bottom-up barrier: the terminal transition waits for subtree closure,
	// so a parent never reports resolution before all of its children.
	n.waitChildren()

	n.finish(ctx, result, err)
}

// waitChildren blocks until the subtree closes. It deliberately ignores
// context cancellation: under a termination cascade every child resolves
// anyway, and the barrier must hold regardless.
func (n *Node) waitChildren() {
	for {
		next := n.nextUnresolvedChild()
		if next == nil {
			return
		}
		<-next.Resolved()
	}
}

// finish performs the terminal transition and fires the matching stage. The
// transition is not complete until the callbacks have run, so resolution is
// only published afterwards, and only by the goroutine that performed the
// transition; end-stage bindings that submit sibling work therefore always
// win the race against the parent's own barrier.
func (n *Node) finish(ctx context.Context, result any, err error) {
	logger := ctxlog.FromContext(ctx).With("node", n.name)

	n.mu.Lock()
	if n.status != StatusRunning {
		// Terminated while the body was running. The cascade owns the
		// terminal transition and publishes resolution after its own
		// terminate firing; the late result is discarded.
		n.mu.Unlock()
		logger.Debug("Discarding result of terminated node.")
		return
	}
	if err == nil {
		err = n.childFaultLocked()
	}
	if err != nil && IsTermination(err) && n.runCtx != nil && n.runCtx.Err() != nil {
		// The run context was canceled under the body. That is cooperative
		// termination, not a fault: the node carries no error and fires the
		// terminate stage, never the exception stage.
		n.status = StatusTerminated
		n.mu.Unlock()
		logger.Debug("Node terminated by context cancellation.")
		n.callbacks.Fire(ctx, callback.StageTerminate, n, nil)
		n.markResolved()
		return
	}
	if err != nil {
		n.status = StatusFailed
		n.err = newFault(n, err)
		fault := n.err
		n.mu.Unlock()
		logger.Debug("Node failed.", "error", fault)
		n.callbacks.Fire(ctx, callback.StageException, n, fault)
		n.markResolved()
		return
	}
	n.status = StatusCompleted
	n.result = result
	n.mu.Unlock()

	logger.Debug("Node completed.")
	n.callbacks.Fire(ctx, n.CompletionStage(), n, nil)
	n.markResolved()
}

// childFaultLocked surfaces the first failure among propagate-policy
// children. Record-policy and terminated children never fail the parent.
func (n *Node) childFaultLocked() error {
	for _, c := range n.children {
		c.mu.Lock()
		failed := c.policy == PolicyPropagate && c.status == StatusFailed
		childErr := c.err
		name := c.name
		c.mu.Unlock()
		if failed {
			return fmt.Errorf("child %q failed: %w", name, childErr)
		}
	}
	return nil
}

// IsTermination reports whether err marks cooperative interruption rather
// than a real fault.
func IsTermination(err error) bool {
	return errors.Is(err, ErrTerminated) || errors.Is(err, context.Canceled)
}
