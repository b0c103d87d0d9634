package plan

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vk/taskcmdr/internal/commander"
	"github.com/vk/taskcmdr/internal/ctxlog"
	"github.com/vk/taskcmdr/internal/edge"
	"github.com/vk/taskcmdr/internal/task"
)

// Build compiles the plan onto a commander: one job node per declared job,
// edges wired through the combinators, and every untargeted job submitted
// as a root.
func (p *Plan) Build(cmdr *commander.Commander) error {
	jobs := make(map[string]*task.Job, len(p.Jobs))
	for _, spec := range p.Jobs {
		jobs[spec.Name] = task.NewJob(spec.Name, commandBody(spec.Command))
	}

	// Conditional edges from one source share a single routing callback.
	routes := make(map[string]map[string]task.Ref)
	for _, e := range p.Edges {
		if e.When == "" {
			if err := edge.Connect(jobs[e.From], jobs[e.To]); err != nil {
				return fmt.Errorf("wiring edge %s -> %s: %w", e.From, e.To, err)
			}
			continue
		}
		if routes[e.From] == nil {
			routes[e.From] = make(map[string]task.Ref)
		}
		routes[e.From][e.When] = jobs[e.To]
	}
	for from, cases := range routes {
		if err := edge.ConnectIf(jobs[from], cases); err != nil {
			return fmt.Errorf("wiring conditional edges from %s: %w", from, err)
		}
	}

	for _, spec := range p.Roots() {
		if err := cmdr.Submit(jobs[spec.Name]); err != nil {
			return fmt.Errorf("submitting root %s: %w", spec.Name, err)
		}
	}
	return nil
}

// commandBody runs a shell command under the node's context, so a
// termination cascade kills the process. The job's result is trimmed
// standard output, which conditional edges match against.
func commandBody(command string) task.Body {
	return func(ctx context.Context, scope *task.Scope) (any, error) {
		logger := ctxlog.FromContext(ctx).With("job", scope.Node().Name())
		logger.Info("▶️ Running command.", "command", command)

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		result := strings.TrimSpace(string(out))
		logger.Info("✅ Command finished.", "result", result)
		return result, nil
	}
}
