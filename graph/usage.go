package graph

import (
	"context"

	"github.com/dshills/llm-workflows/graph/emit"
)

type runContextKey struct{}

// runContext is attached to the context handed to nodes so they can report
// model usage without holding references to engine collaborators.
type runContext struct {
	runID   string
	step    int
	cost    *CostTracker
	metrics *PrometheusMetrics
	emitter emit.Emitter
}

func withRunContext(ctx context.Context, rc *runContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunID returns the ID of the run executing the current node, or "" outside
// of an engine run.
func RunID(ctx context.Context) string {
	if rc, ok := ctx.Value(runContextKey{}).(*runContext); ok {
		return rc.runID
	}
	return ""
}

// RecordUsage reports the token usage of one model call made by nodeID. It
// feeds the engine's cost tracker and token metrics and emits an "llm_call"
// event. Outside of an engine run it is a no-op.
func RecordUsage(ctx context.Context, nodeID, model string, inputTokens, outputTokens int) {
	rc, ok := ctx.Value(runContextKey{}).(*runContext)
	if !ok {
		return
	}

	var cost float64
	if rc.cost != nil {
		cost = rc.cost.RecordLLMCall(rc.runID, nodeID, model, inputTokens, outputTokens)
	}
	rc.metrics.AddTokens(model, inputTokens, outputTokens)

	rc.emitter.Emit(emit.Event{
		RunID:  rc.runID,
		Step:   rc.step,
		NodeID: nodeID,
		Msg:    "llm_call",
		Meta: map[string]interface{}{
			"model":      model,
			"tokens_in":  inputTokens,
			"tokens_out": outputTokens,
			"cost_usd":   cost,
		},
	})
}
