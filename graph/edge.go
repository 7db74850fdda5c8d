// Package graph provides the workflow engine used by the llm-workflows
// pipelines: typed run state, reducer-based merging, conditional edges and
// per-step persistence and observability.
package graph

// Edge is a possible transition between two nodes.
//
// An edge with a nil When is unconditional. Conditional edges are evaluated
// in the order they were registered and the first match wins, so a branch
// point is expressed as a set of mutually exclusive predicates.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate decides whether an edge is taken for the given state.
type Predicate[S any] func(state S) bool
