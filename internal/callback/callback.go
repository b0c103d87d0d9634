package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/taskcmdr/internal/ctxlog"
)

// Stage names a lifecycle point at which registered bindings fire.
type Stage string

const (
	// StageJobStart fires on a job's Pending to Running transition.
	StageJobStart Stage = "job_start"
	// StageJobEnd fires when a job completes and its subtree has closed.
	StageJobEnd Stage = "job_end"
	// StageHandlerStart fires on a handler's Pending to Running transition.
	StageHandlerStart Stage = "handler_start"
	// StageHandlerEnd fires when a handler completes and its subtree has closed.
	StageHandlerEnd Stage = "handler_end"
	// StageException fires when a node's body returns a fault.
	StageException Stage = "exception"
	// StageTerminate fires once per node affected by a termination cascade.
	StageTerminate Stage = "terminate"
	// StageCommanderEnd fires exactly once, when every rooted subtree has resolved.
	StageCommanderEnd Stage = "commander_end"
)

var knownStages = map[Stage]struct{}{
	StageJobStart:     {},
	StageJobEnd:       {},
	StageHandlerStart: {},
	StageHandlerEnd:   {},
	StageException:    {},
	StageTerminate:    {},
	StageCommanderEnd: {},
}

// ErrUnknownStage indicates a registration against a stage the registry does not define.
var ErrUnknownStage = errors.New("unknown callback stage")

// ErrNilFunc indicates a registration without a callback function.
var ErrNilFunc = errors.New("callback function must not be nil")

// Call is the argument record passed to a binding when its stage fires.
type Call struct {
	// Node is the triggering node. It is set only for bindings registered
	// with InjectNode; otherwise it is nil.
	Node any
	// Args are the positional arguments fixed at registration time.
	Args []any
	// Kwargs are the keyword arguments fixed at registration time.
	Kwargs map[string]any
	// Err carries the fault for the exception stage and the aggregated run
	// error for the commander-end stage; nil elsewhere.
	Err error
}

// Func is a callback body. It runs synchronously with respect to the
// transition that triggered it.
type Func func(ctx context.Context, call Call)

// binding pairs a callback function with its fixed arguments.
type binding struct {
	fn     Func
	args   []any
	kwargs map[string]any
	inject bool
}

// Option configures a single binding at registration time.
type Option func(*binding)

// WithArgs fixes positional arguments passed on every firing of the binding.
func WithArgs(args ...any) Option {
	return func(b *binding) {
		b.args = args
	}
}

// WithKwargs fixes keyword arguments passed on every firing of the binding.
func WithKwargs(kwargs map[string]any) Option {
	return func(b *binding) {
		b.kwargs = kwargs
	}
}

// InjectNode marks the binding to receive the triggering node in Call.Node.
func InjectNode() Option {
	return func(b *binding) {
		b.inject = true
	}
}

// Registry maps lifecycle stages to ordered binding lists for one node.
// All operations are concurrency-safe.
type Registry struct {
	mu       sync.Mutex
	bindings map[Stage][]binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[Stage][]binding),
	}
}

// Register validates and appends a binding to the stage's ordered list.
func (r *Registry) Register(stage Stage, fn Func, opts ...Option) error {
	if _, ok := knownStages[stage]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	if fn == nil {
		return fmt.Errorf("%w: stage %q", ErrNilFunc, stage)
	}

	b := binding{fn: fn}
	for _, opt := range opts {
		opt(&b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[stage] = append(r.bindings[stage], b)
	return nil
}

// Len reports the number of bindings registered for a stage.
func (r *Registry) Len(stage Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings[stage])
}

// Fire invokes every binding for the stage, in registration order. The
// triggering transition is not complete until Fire returns, so callers hold
// no node locks here: bindings are free to submit further work.
func (r *Registry) Fire(ctx context.Context, stage Stage, node any, faultErr error) {
	r.mu.Lock()
	queue := make([]binding, len(r.bindings[stage]))
	copy(queue, r.bindings[stage])
	r.mu.Unlock()

	if len(queue) == 0 {
		return
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Firing callback stage.", "stage", stage, "bindings", len(queue))

	for _, b := range queue {
		call := Call{
			Args:   b.args,
			Kwargs: b.kwargs,
			Err:    faultErr,
		}
		if b.inject {
			call.Node = node
		}
		b.fn(ctx, call)
	}
}
