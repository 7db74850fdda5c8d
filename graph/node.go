package graph

import "context"

// Node is a single step of a workflow graph.
//
// A node reads the current run state, performs its work (typically one call
// to a model or a retriever) and returns a NodeResult describing the partial
// state update and, optionally, where execution goes next.
//
// Type parameter S is the run state shared by every node of the workflow.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update. The engine merges it into the run
	// state with the workflow's reducer.
	Delta S

	// Route overrides edge-based routing when set. The zero value defers to
	// the edges registered with Connect.
	Route Next

	// Err aborts the run. The engine wraps it in a NodeError carrying the
	// node ID unless it already is one.
	Err error
}

// Next is a routing decision returned by a node.
type Next struct {
	// To names the next node.
	To string

	// Terminal ends the run after the delta is merged.
	Terminal bool
}

// Stop returns a Next that ends the run.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that continues at nodeID.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	classify := NodeFunc[RouterState](func(ctx context.Context, s RouterState) NodeResult[RouterState] {
//	    return NodeResult[RouterState]{Delta: RouterState{Domain: DomainInsurance}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError is a failure reported by a node.
type NodeError struct {
	// Message is the human-readable description.
	Message string

	// Code is a machine-readable code, e.g. "UNCLASSIFIED_DOMAIN".
	Code string

	// NodeID identifies the failing node. The engine fills it in when empty.
	NodeID string

	// Cause is the underlying error, reachable through errors.Is / errors.As.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Fail is a shorthand for a NodeResult that aborts the run with a NodeError.
func Fail[S any](code string, err error) NodeResult[S] {
	return NodeResult[S]{Err: &NodeError{Message: err.Error(), Code: code, Cause: err}}
}
