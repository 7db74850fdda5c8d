package graph

// Reducer merges a node's partial update into the current run state.
//
// The reducer owns the merge rule for every field of S. The workflows in this
// module append to their message log and replace every other non-zero field.
// A reducer must not mutate slices reachable from prev in place: step
// snapshots persisted by the store would otherwise change after the fact.
type Reducer[S any] func(prev, delta S) S
