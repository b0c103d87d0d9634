// Package edge layers node-to-node connection sugar over the callback
// registry and submission primitives. Nothing here extends the core
// contract: an edge is just an end-stage binding that submits the next
// unit of work as a sibling under the finished node's parent.
package edge

import (
	"context"
	"fmt"

	"github.com/vk/taskcmdr/internal/callback"
	"github.com/vk/taskcmdr/internal/ctxlog"
	"github.com/vk/taskcmdr/internal/task"
)

// Connect schedules `to` when `from` completes. The target joins the tree
// under from's parent, so the parent's barrier extends over it while from
// itself resolves first.
func Connect(from, to task.Ref) error {
	if from == nil || from.TreeNode() == nil {
		return fmt.Errorf("%w: nil source", task.ErrInvalidEdge)
	}
	if to == nil || to.TreeNode() == nil {
		return fmt.Errorf("%w: nil target", task.ErrInvalidEdge)
	}

	src := from.TreeNode()
	return src.AddCallback(src.CompletionStage(), func(ctx context.Context, _ callback.Call) {
		submitSibling(ctx, src, to)
	})
}

// ConnectIf schedules one of several targets keyed on from's result. A
// result that is not a string, or matches no route, schedules nothing and
// raises nothing.
func ConnectIf(from task.Ref, routes map[string]task.Ref) error {
	if from == nil || from.TreeNode() == nil {
		return fmt.Errorf("%w: nil source", task.ErrInvalidEdge)
	}
	for key, to := range routes {
		if to == nil || to.TreeNode() == nil {
			return fmt.Errorf("%w: nil target for route %q", task.ErrInvalidEdge, key)
		}
	}

	src := from.TreeNode()
	return src.AddCallback(src.CompletionStage(), func(ctx context.Context, _ callback.Call) {
		result, ok := src.Result().(string)
		if !ok {
			ctxlog.FromContext(ctx).Debug("Conditional edge result is not a string, nothing scheduled.", "node", src.Name())
			return
		}
		to, ok := routes[result]
		if !ok {
			ctxlog.FromContext(ctx).Debug("No route for result, nothing scheduled.", "node", src.Name(), "result", result)
			return
		}
		submitSibling(ctx, src, to)
	})
}

func submitSibling(ctx context.Context, src *task.Node, to task.Ref) {
	logger := ctxlog.FromContext(ctx)
	parent := src.Parent()
	if parent == nil {
		logger.Warn("Edge source has no parent, target not scheduled.", "node", src.Name())
		return
	}
	if err := task.Submit(ctx, parent, to); err != nil {
		logger.Error("Edge target submission failed.", "node", src.Name(), "target", to.TreeNode().Name(), "error", err)
	}
}
