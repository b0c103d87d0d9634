package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/taskcmdr/internal/callback"
)

// Kind distinguishes the two node variants. Dispatch happens on this tag,
// never on runtime type inspection.
type Kind int

const (
	// KindJob is a self-contained task description with an executable body.
	KindJob Kind = iota
	// KindHandler wraps a callable that may be tracked or awaited directly.
	KindHandler
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a node.
type Status int

const (
	// StatusPending indicates the node has been created but not yet started.
	StatusPending Status = iota
	// StatusRunning indicates the node's body is executing or its subtree is closing.
	StatusRunning
	// StatusCompleted indicates the body returned normally and the subtree closed.
	StatusCompleted
	// StatusFailed indicates the body raised a fault.
	StatusFailed
	// StatusTerminated indicates the node was torn down by a termination cascade.
	StatusTerminated
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the three terminal outcomes.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// Policy selects how a node's fault reaches its parent.
type Policy int

const (
	// PolicyRecord leaves the fault on the node for asynchronous inspection.
	// Sibling scheduling is never affected. This is the default.
	PolicyRecord Policy = iota
	// PolicyPropagate additionally fails the parent once its own subtree
	// barrier completes, carrying the child fault upward toward the root.
	PolicyPropagate
)

// Body is the executable body of a Job. The scope allows the body to submit
// child jobs and call handlers under this node.
type Body func(ctx context.Context, scope *Scope) (any, error)

// Callable is the function a Handler wraps.
type Callable func(ctx context.Context, args ...any) (any, error)

// Ref is anything that resolves to a tree node: a Job, a Handler, or a
// bare Node. Wiring operations accept Refs and fail loudly on nil ones.
type Ref interface {
	TreeNode() *Node
}

// Node is a single entity in the task tree. All bookkeeping mutations are
// serialized by the node's own mutex; bodies and callbacks run outside it.
type Node struct {
	id       uuid.UUID
	name     string
	kind     Kind
	reusable bool
	policy   Policy

	body Body     // jobs only
	fn   Callable // handlers only

	callbacks *callback.Registry

	mu         sync.Mutex
	parent     *Node
	children   []*Node
	status     Status
	result     any
	err        error
	data       any
	args       []any // pending handler call arguments
	started    bool
	closing    bool // no further children accepted; barrier satisfied
	resolved   bool
	resolvedAt time.Time
	resolvedCh chan struct{}
	runCtx     context.Context
	cancel     context.CancelFunc
}

// Option configures a node at construction time.
type Option func(*Node)

// WithPolicy sets the fault propagation policy for the node's call site.
func WithPolicy(p Policy) Option {
	return func(n *Node) {
		n.policy = p
	}
}

// WithData attaches an opaque payload to the node. The core never interprets
// it; concurrent mutation safety belongs to the caller.
func WithData(data any) Option {
	return func(n *Node) {
		n.data = data
	}
}

func newNode(name string, kind Kind, opts ...Option) *Node {
	n := &Node{
		id:         uuid.New(),
		name:       name,
		kind:       kind,
		status:     StatusPending,
		callbacks:  callback.NewRegistry(),
		resolvedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewRoot creates a detached anchor node. The Commander uses one as the
// universal ancestor of every submitted root; it has no body and never runs.
func NewRoot(name string) *Node {
	return newNode(name, KindJob)
}

// TreeNode implements Ref.
func (n *Node) TreeNode() *Node {
	return n
}

// ID returns the node's opaque identity, stable for its lifetime.
func (n *Node) ID() string {
	return n.id.String()
}

// Name returns the human-readable name given at construction.
func (n *Node) Name() string {
	return n.name
}

// Kind returns the node's variant tag.
func (n *Node) Kind() Kind {
	return n.kind
}

// Status returns the node's current lifecycle state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Result returns the value produced on normal completion, nil otherwise.
func (n *Node) Result() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// Err returns the recorded fault, non-nil only after a Failed transition.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Parent returns the owning node, or nil for detached nodes and roots.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Children returns a snapshot of the insertion-ordered child list.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Data returns the caller-attached payload.
func (n *Node) Data() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data
}

// SetData replaces the caller-attached payload.
func (n *Node) SetData(data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.data = data
}

// ResolvedAt returns when the node resolved; zero while unresolved.
func (n *Node) ResolvedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolvedAt
}

// IsResolved reports whether the node and its whole subtree have closed.
func (n *Node) IsResolved() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolved
}

// Resolved returns a channel closed when the current execution cycle
// resolves. Reusable handlers get a fresh channel on Reset.
func (n *Node) Resolved() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolvedCh
}

// AddCallback registers a lifecycle callback binding on this node.
func (n *Node) AddCallback(stage callback.Stage, fn callback.Func, opts ...callback.Option) error {
	return n.callbacks.Register(stage, fn, opts...)
}

// Callbacks exposes the node's registry for firing by owning schedulers.
func (n *Node) Callbacks() *callback.Registry {
	return n.callbacks
}

// CompletionStage returns the end stage matching the node's kind.
func (n *Node) CompletionStage() callback.Stage {
	if n.kind == KindHandler {
		return callback.StageHandlerEnd
	}
	return callback.StageJobEnd
}

func (n *Node) startStage() callback.Stage {
	if n.kind == KindHandler {
		return callback.StageHandlerStart
	}
	return callback.StageJobStart
}

// Adopt attaches child to this node's ordered child list. The parent link is
// fixed here; re-parenting exists only for reusable handlers via Reset. A
// parent whose subtree barrier has already been satisfied refuses new
// children.
func (n *Node) Adopt(child *Node) error {
	if child == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidEdge)
	}
	if child == n {
		return fmt.Errorf("%w: node %q cannot adopt itself", ErrInvalidEdge, n.name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closing || n.resolved {
		return fmt.Errorf("%w: parent %q has already resolved", ErrInvalidEdge, n.name)
	}

	child.mu.Lock()
	defer child.mu.Unlock()
	if child.parent != nil {
		return fmt.Errorf("%w: node %q is already attached to %q", ErrInvalidEdge, child.name, child.parent.name)
	}
	child.parent = n
	if child.data == nil {
		child.data = n.data
	}
	n.children = append(n.children, child)
	return nil
}

// removeChild detaches child from this node's list, clearing the back link.
// Used only by the reusable handler re-enqueue path.
func (n *Node) removeChild(child *Node) {
	n.mu.Lock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	child.mu.Lock()
	if child.parent == n {
		child.parent = nil
	}
	child.mu.Unlock()
}

// markResolved closes the current cycle's resolution channel exactly once.
func (n *Node) markResolved() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resolved {
		return
	}
	n.resolved = true
	n.resolvedAt = time.Now()
	close(n.resolvedCh)
}

// nextUnresolvedChild returns any child whose subtree is still open. When
// none remain it latches the closing flag so no further children slip in
// behind the barrier.
func (n *Node) nextUnresolvedChild() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.children {
		c.mu.Lock()
		open := !c.resolved
		c.mu.Unlock()
		if open {
			return c
		}
	}
	n.closing = true
	return nil
}

// AwaitChildren blocks until every child, including children attached while
// waiting, has resolved. Sibling order is unconstrained; only subtree
// closure matters here.
func (n *Node) AwaitChildren(ctx context.Context) error {
	for {
		next := n.nextUnresolvedChild()
		if next == nil {
			return nil
		}
		select {
		case <-next.Resolved():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Await blocks until the node's current cycle resolves, then reports its
// outcome: the result on completion, the recorded fault on failure, or
// ErrTerminated after a termination cascade.
func (n *Node) Await(ctx context.Context) (any, error) {
	select {
	case <-n.Resolved():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.status {
	case StatusFailed:
		return nil, n.err
	case StatusTerminated:
		return nil, ErrTerminated
	default:
		return n.result, nil
	}
}

// Terminate requests cooperative termination of the node and its whole
// subtree. Unresolved children are terminated first; the node itself is
// marked Terminated last. Each affected node fires its terminate stage
// exactly once. Already-resolved nodes are untouched.
func (n *Node) Terminate() {
	n.mu.Lock()
	ctx := n.runCtx
	n.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	n.terminate(ctx)
}

func (n *Node) terminate(ctx context.Context) {
	n.mu.Lock()
	if n.resolved {
		n.mu.Unlock()
		return
	}
	// Latch closing before snapshotting so no child adopted mid-cascade
	// escapes termination.
	n.closing = true
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	cancel := n.cancel
	n.mu.Unlock()

	for _, c := range children {
		c.terminate(ctx)
	}

	n.mu.Lock()
	if n.status.Terminal() {
		// Reached a terminal state during the cascade; whichever goroutine
		// performed that transition fires its stage and publishes
		// resolution. Nothing left to interrupt here.
		n.mu.Unlock()
		return
	}
	n.status = StatusTerminated
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.callbacks.Fire(ctx, callback.StageTerminate, n, nil)
	n.markResolved()
}

// Submit attaches child under parent and schedules it for execution. This is
// the single wiring primitive shared by the Commander, scopes, and edges.
func Submit(ctx context.Context, parent, child Ref) error {
	if parent == nil || parent.TreeNode() == nil {
		return fmt.Errorf("%w: nil parent", ErrInvalidEdge)
	}
	if child == nil || child.TreeNode() == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidEdge)
	}
	c := child.TreeNode()
	if err := parent.TreeNode().Adopt(c); err != nil {
		return err
	}
	c.Start(ctx)
	return nil
}
