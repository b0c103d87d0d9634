package task

// Job is the TaskNode variant owning an executable body. The body may
// submit further children through its Scope while running.
type Job struct {
	node *Node
}

// NewJob creates a Pending job. It is attached to the tree by a Commander
// submission, a Scope, or an edge; until then it has no parent.
func NewJob(name string, body Body, opts ...Option) *Job {
	n := newNode(name, KindJob, opts...)
	n.body = body
	return &Job{node: n}
}

// TreeNode implements Ref.
func (j *Job) TreeNode() *Node {
	return j.node
}
