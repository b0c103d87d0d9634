// Package task implements the task-tree model: nodes, their lifecycle state
// machine, and the cooperative execution rules that connect them.
//
// A Node is one unit of work in a tree shaped by submission: a Job runs a
// body that may submit further children through its Scope, a Handler wraps a
// callable that can be tracked in the tree or awaited directly. A node
// reaches its terminal state only after every child has resolved, so subtree
// closure is always bottom-up. Termination cascades the other way, top-down,
// reaching every unresolved descendant before the requested node itself is
// marked Terminated.
//
// Lifecycle callbacks registered on a node fire synchronously with respect
// to the transition that triggered them; edges between nodes are expressed
// by callbacks that submit the next unit of work.
package task
