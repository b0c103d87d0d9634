// Package plan loads declarative task plans from HCL files and compiles
// them into Commander submissions and edge wiring.
//
// A plan declares job blocks and the edges between them:
//
//	job "build" {
//	  command = "make build"
//	}
//
//	job "notify" {
//	  command = "echo done ${env.USER}"
//	}
//
//	edge {
//	  from = "build"
//	  to   = "notify"
//	}
//
// An edge with a `when` attribute is conditional on the upstream job's
// result, which for command jobs is trimmed standard output.
package plan

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/taskcmdr/internal/ctxlog"
)

// JobSpec is one declared job after expression evaluation.
type JobSpec struct {
	Name    string
	Command string
}

// EdgeSpec connects two declared jobs. When is empty for unconditional edges.
type EdgeSpec struct {
	From string
	To   string
	When string
}

// Plan is a fully validated task plan.
type Plan struct {
	Path  string
	Jobs  []JobSpec
	Edges []EdgeSpec
}

type rawJob struct {
	Name    string         `hcl:"name,label"`
	Command hcl.Expression `hcl:"command"`
}

type rawEdge struct {
	From string  `hcl:"from"`
	To   string  `hcl:"to"`
	When *string `hcl:"when"`
}

type rawPlan struct {
	Jobs  []rawJob  `hcl:"job,block"`
	Edges []rawEdge `hcl:"edge,block"`
}

// Load parses and validates the plan file at path. Decode diagnostics and
// structural problems are fatal load errors, never silently dropped.
func Load(ctx context.Context, path string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading plan file.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing plan %s: %w", path, diags)
	}

	var raw rawPlan
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding plan %s: %w", path, diags)
	}

	evalCtx := evalContext()
	p := &Plan{Path: path}
	for _, j := range raw.Jobs {
		val, diags := j.Command.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating command for job %q: %w", j.Name, diags)
		}
		if val.Type() != cty.String || val.IsNull() {
			return nil, fmt.Errorf("job %q: command must be a string", j.Name)
		}
		p.Jobs = append(p.Jobs, JobSpec{Name: j.Name, Command: val.AsString()})
	}
	for _, e := range raw.Edges {
		spec := EdgeSpec{From: e.From, To: e.To}
		if e.When != nil {
			spec.When = *e.When
		}
		p.Edges = append(p.Edges, spec)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	logger.Debug("Plan loaded.", "jobs", len(p.Jobs), "edges", len(p.Edges))
	return p, nil
}

// evalContext exposes the process environment to plan expressions as the
// `env` object, mirroring shell interpolation without shelling out.
func evalContext() *hcl.EvalContext {
	envVals := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			envVals[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(envVals) > 0 {
		env = cty.ObjectVal(envVals)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func (p *Plan) validate() error {
	jobs := make(map[string]struct{}, len(p.Jobs))
	for _, j := range p.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job with empty name")
		}
		if _, dup := jobs[j.Name]; dup {
			return fmt.Errorf("duplicate job %q", j.Name)
		}
		jobs[j.Name] = struct{}{}
	}

	targets := make(map[string]struct{}, len(p.Edges))
	seen := make(map[string]struct{}, len(p.Edges))
	for _, e := range p.Edges {
		if _, ok := jobs[e.From]; !ok {
			return fmt.Errorf("edge references unknown job %q", e.From)
		}
		if _, ok := jobs[e.To]; !ok {
			return fmt.Errorf("edge references unknown job %q", e.To)
		}
		// A job node is adopted exactly once; two edges into the same job
		// would race for its parent slot.
		if _, dup := targets[e.To]; dup {
			return fmt.Errorf("job %q is the target of more than one edge", e.To)
		}
		targets[e.To] = struct{}{}

		// Unconditional fan-out is fine; conditional routes must be unique
		// per (source, condition) because only one target can follow.
		if e.When != "" {
			key := e.From + "\x00" + e.When
			if _, dup := seen[key]; dup {
				return fmt.Errorf("duplicate edge from %q with condition %q", e.From, e.When)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// Roots returns the jobs no edge targets; these are submitted directly to
// the commander.
func (p *Plan) Roots() []JobSpec {
	targets := make(map[string]struct{}, len(p.Edges))
	for _, e := range p.Edges {
		targets[e.To] = struct{}{}
	}
	var roots []JobSpec
	for _, j := range p.Jobs {
		if _, ok := targets[j.Name]; !ok {
			roots = append(roots, j)
		}
	}
	return roots
}
