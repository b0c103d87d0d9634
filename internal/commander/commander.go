// Package commander provides the root scheduler driving a task tree to
// closure. It accepts externally submitted jobs and handlers as roots,
// executes every rooted subtree concurrently, and fires its end-of-run
// callback exactly once after the last root resolves.
package commander

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/taskcmdr/internal/callback"
	"github.com/vk/taskcmdr/internal/ctxlog"
	"github.com/vk/taskcmdr/internal/task"
)

// ErrAlreadyRun indicates a second Run or a Submit after the run closed.
var ErrAlreadyRun = errors.New("commander has already run")

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateDone
)

// Commander is a distinguished task-tree node acting as universal ancestor
// of every submitted root.
type Commander struct {
	anchor *task.Node

	mu     sync.Mutex
	state  runState
	runCtx context.Context
}

// New creates an idle commander with no roots.
func New() *Commander {
	return &Commander{
		anchor: task.NewRoot("commander"),
	}
}

// Node exposes the commander's anchor node, primarily for inspection.
func (c *Commander) Node() *task.Node {
	return c.anchor
}

// OnEnd registers a binding on the commander-end stage. It fires exactly
// once, after every rooted subtree has resolved.
func (c *Commander) OnEnd(fn callback.Func, opts ...callback.Option) error {
	return c.anchor.AddCallback(callback.StageCommanderEnd, fn, opts...)
}

// Submit attaches a job or handler as a root. Before Run it is merely
// recorded; during Run it is scheduled immediately. After the run has closed
// submission fails.
func (c *Commander) Submit(ref task.Ref) error {
	if ref == nil || ref.TreeNode() == nil {
		return fmt.Errorf("%w: nil node", task.ErrInvalidEdge)
	}

	c.mu.Lock()
	switch c.state {
	case stateDone:
		c.mu.Unlock()
		return ErrAlreadyRun
	case stateRunning:
		ctx := c.runCtx
		c.mu.Unlock()
		return task.Submit(ctx, c.anchor, ref)
	default:
		c.mu.Unlock()
		return c.anchor.Adopt(ref.TreeNode())
	}
}

// Run drives the whole tree to closure and blocks until every root, and
// transitively every descendant, has resolved. With no roots submitted it
// resolves immediately. Faults recorded anywhere in the tree are aggregated
// into the returned error; the first real fault is kept as root cause, in
// submission order. Termination outcomes are not faults and never surface
// here.
func (c *Commander) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyRun
	}
	c.state = stateRunning
	c.runCtx = ctx
	c.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	roots := c.anchor.Children()
	logger.Info("Starting task tree execution.", "roots", len(roots))

	for _, root := range roots {
		root.Start(ctx)
	}

	if err := c.anchor.AwaitChildren(ctx); err != nil {
		logger.Warn("Run context canceled, terminating unresolved subtrees.")
		c.Terminate()
		_ = c.anchor.AwaitChildren(context.Background())
	}

	c.mu.Lock()
	c.state = stateDone
	c.mu.Unlock()

	runErr := c.collectFaults(ctx)
	c.anchor.Callbacks().Fire(ctx, callback.StageCommanderEnd, c.anchor, runErr)
	logger.Info("All rooted subtrees resolved.")
	return runErr
}

// Terminate cascades cooperative termination into every unresolved root.
func (c *Commander) Terminate() {
	for _, root := range c.anchor.Children() {
		root.Terminate()
	}
}

// collectFaults walks the resolved tree gathering failed nodes. Termination
// and cancellation are symptoms, not causes, and are left out; the first
// remaining fault becomes the root cause the returned error wraps.
func (c *Commander) collectFaults(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var failed []string
	var rootCause error
	var walk func(n *task.Node)
	walk = func(n *task.Node) {
		if n.Status() == task.StatusFailed {
			err := n.Err()
			logger.Error("Node failed execution.", "node", n.Name(), "error", err)
			if err != nil && !task.IsTermination(err) {
				failed = append(failed, n.Name())
				if rootCause == nil {
					rootCause = err
				}
			}
		}
		for _, child := range n.Children() {
			walk(child)
		}
	}
	for _, root := range c.anchor.Children() {
		walk(root)
	}

	if rootCause != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}
