package emit

// Event is one observability record produced while a workflow runs.
//
// The engine emits node_start, node_end, node_error, routing_decision,
// run_complete, run_failed, checkpoint_saved and resume events. Nodes add
// llm_call events through graph.RecordUsage.
type Event struct {
	// RunID identifies the workflow run.
	RunID string `json:"run_id"`

	// Step is the 1-based step number within the run, 0 outside of a step.
	Step int `json:"step"`

	// NodeID is the node the event refers to, if any.
	NodeID string `json:"node_id,omitempty"`

	// Msg is the event name.
	Msg string `json:"msg"`

	// Meta carries event-specific fields such as "error", "latency_ms",
	// "next", "model", "tokens_in" and "tokens_out".
	Meta map[string]interface{} `json:"meta,omitempty"`
}
