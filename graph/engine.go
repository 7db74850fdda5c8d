package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/store"
)

// Engine executes a workflow graph over run state of type S.
//
// Nodes run strictly one after another: the next node starts only after the
// previous node returned and its delta was merged by the reducer and saved to
// the store. Routing is decided by the node's explicit Route when set,
// otherwise by the first matching edge out of the node.
//
// Example:
//
//	engine := graph.New(ReduceState, store.NewMemStore[State](), emit.NewNullEmitter(),
//	    graph.WithMaxSteps(10))
//	_ = engine.Add("generate_sql", generateNode)
//	_ = engine.Add("explain_sql", explainNode)
//	_ = engine.StartAt("generate_sql")
//	_ = engine.Connect("generate_sql", "explain_sql", nil)
//
//	final, err := engine.Run(ctx, "run-001", State{UserQuery: "Show me total sales by region"})
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string

	store   store.Store[S]
	emitter emit.Emitter

	opts   Options
	optErr error
}

// New creates an Engine. The reducer and store are required by Run; a nil
// emitter discards events. An invalid option does not panic: it is reported
// by the first call to Run.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts ...Option) *Engine[S] {
	cfg := &engineConfig{}
	var optErr error
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil && optErr == nil {
			optErr = &EngineError{Message: "invalid option: " + err.Error(), Code: CodeInvalidOption, Cause: err}
		}
	}

	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		store:   st,
		emitter: emitter,
		opts:    cfg.opts,
		optErr:  optErr,
	}
}

// Add registers a node under a unique ID.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: CodeDuplicateNode}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry node. The node must already be registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: CodeNodeNotFound}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge. A nil predicate makes the edge unconditional. Node
// existence is checked lazily, when the edge is taken.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node until a node returns Stop,
// an error occurs or the context is cancelled. On failure the zero state is
// returned: partial results are never exposed to the caller.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}

	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	if start == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Run)", Code: CodeNoStartNode}
	}

	return e.execute(ctx, runID, start, initial)
}

// RunFrom executes the workflow starting at an arbitrary node with the given
// state. It is used to resume runs and to replay the tail of a workflow
// against hand-constructed state.
func (e *Engine[S]) RunFrom(ctx context.Context, runID, startNode string, state S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}
	if startNode == "" {
		return zero, &EngineError{Message: "start node not specified", Code: CodeNoStartNode}
	}
	if _, ok := e.node(startNode); !ok {
		return zero, &EngineError{Message: "start node does not exist: " + startNode, Code: CodeNodeNotFound}
	}

	return e.execute(ctx, runID, startNode, state)
}

// Invoke runs a single node against state and returns the merged state
// without following any route or touching the store.
func (e *Engine[S]) Invoke(ctx context.Context, nodeID string, state S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}
	node, ok := e.node(nodeID)
	if !ok {
		return zero, &EngineError{Message: "node not found: " + nodeID, Code: CodeNodeNotFound}
	}

	rc := &runContext{runID: RunID(ctx), cost: e.opts.CostTracker, metrics: e.opts.Metrics, emitter: e.emitter}
	result, err := e.runNode(withRunContext(ctx, rc), rc, nodeID, node, state)
	if err != nil {
		return zero, err
	}
	return e.reducer(state, result.Delta), nil
}

func (e *Engine[S]) validate() error {
	if e.optErr != nil {
		return e.optErr
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeMissingStore}
	}
	return nil
}

func (e *Engine[S]) node(nodeID string) (Node[S], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.nodes[nodeID]
	return n, ok
}

func (e *Engine[S]) execute(ctx context.Context, runID, startNode string, state S) (S, error) {
	var zero S

	rc := &runContext{runID: runID, cost: e.opts.CostTracker, metrics: e.opts.Metrics, emitter: e.emitter}
	ctx = withRunContext(ctx, rc)

	fail := func(err error) (S, error) {
		e.opts.Metrics.IncrementRuns("error")
		e.emitter.Emit(emit.Event{
			RunID: runID,
			Step:  rc.step,
			Msg:   "run_failed",
			Meta:  map[string]interface{}{"error": err.Error()},
		})
		return zero, err
	}

	current := startNode
	for step := 1; ; step++ {
		rc.step = step

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return fail(&EngineError{
				Message: fmt.Sprintf("workflow exceeded MaxSteps limit of %d", e.opts.MaxSteps),
				Code:    CodeMaxStepsExceeded,
				Cause:   ErrMaxStepsExceeded,
			})
		}

		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		node, ok := e.node(current)
		if !ok {
			return fail(&EngineError{Message: "node not found during execution: " + current, Code: CodeNodeNotFound})
		}

		result, err := e.runNode(ctx, rc, current, node, state)
		if err != nil {
			return fail(err)
		}

		state = e.reducer(state, result.Delta)

		if err := e.store.SaveStep(ctx, runID, step, current, state); err != nil {
			return fail(&EngineError{Message: "failed to save step: " + err.Error(), Code: CodeStoreError, Cause: err})
		}

		if result.Route.Terminal {
			e.opts.Metrics.IncrementRuns("success")
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: current, Msg: "run_complete"})
			return state, nil
		}

		next := result.Route.To
		if next == "" {
			next = e.evaluateEdges(current, state)
		}
		if next == "" {
			return fail(&EngineError{Message: "no valid route from node: " + current, Code: CodeNoRoute})
		}

		e.emitter.Emit(emit.Event{
			RunID:  runID,
			Step:   step,
			NodeID: current,
			Msg:    "routing_decision",
			Meta:   map[string]interface{}{"next": next},
		})
		current = next
	}
}

// runNode executes one node, applying its timeout and retry policy.
func (e *Engine[S]) runNode(ctx context.Context, rc *runContext, nodeID string, node Node[S], state S) (NodeResult[S], error) {
	var policy *NodePolicy
	if p, ok := e.opts.NodePolicies[nodeID]; ok {
		policy = &p
	}

	attempts := 1
	var retry *RetryPolicy
	if policy != nil && policy.RetryPolicy != nil {
		retry = policy.RetryPolicy
		attempts = retry.MaxAttempts
	}

	for attempt := 0; ; attempt++ {
		e.emitter.Emit(emit.Event{
			RunID:  rc.runID,
			Step:   rc.step,
			NodeID: nodeID,
			Msg:    "node_start",
			Meta:   map[string]interface{}{"attempt": attempt},
		})

		e.opts.Metrics.nodeStarted()
		start := time.Now()
		result, err := executeNodeWithTimeout(ctx, node, nodeID, state, policy, e.opts.DefaultNodeTimeout)
		latency := time.Since(start)
		e.opts.Metrics.nodeFinished()

		if err == nil && result.Err != nil {
			err = wrapNodeError(nodeID, result.Err)
		}

		if err == nil {
			e.opts.Metrics.RecordStepLatency(nodeID, latency, "success")
			e.emitter.Emit(emit.Event{
				RunID:  rc.runID,
				Step:   rc.step,
				NodeID: nodeID,
				Msg:    "node_end",
				Meta:   map[string]interface{}{"latency_ms": latency.Milliseconds()},
			})
			return result, nil
		}

		status := "error"
		if ErrorCode(err) == CodeNodeTimeout {
			status = "timeout"
		}
		e.opts.Metrics.RecordStepLatency(nodeID, latency, status)
		e.emitter.Emit(emit.Event{
			RunID:  rc.runID,
			Step:   rc.step,
			NodeID: nodeID,
			Msg:    "node_error",
			Meta: map[string]interface{}{
				"error":      err.Error(),
				"attempt":    attempt,
				"latency_ms": latency.Milliseconds(),
			},
		})

		if retry == nil || attempt+1 >= attempts || !retry.retryable(err) || ctx.Err() != nil {
			return result, err
		}

		e.opts.Metrics.IncrementRetries(nodeID, status)
		delay := computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay, nil)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			}
		}
	}
}

// evaluateEdges returns the target of the first edge out of fromNode whose
// predicate holds, or "" when none does.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// SaveCheckpoint stores the latest persisted state of runID under cpID.
func (e *Engine[S]) SaveCheckpoint(ctx context.Context, runID, cpID string) error {
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeMissingStore}
	}

	latest, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return &EngineError{Message: "cannot create checkpoint: " + err.Error(), Code: CodeRunNotFound, Cause: err}
	}

	if err := e.store.SaveCheckpoint(ctx, cpID, latest, step); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: CodeCheckpointSave, Cause: err}
	}

	e.emitter.Emit(emit.Event{
		RunID: runID,
		Step:  step,
		Msg:   "checkpoint_saved",
		Meta:  map[string]interface{}{"checkpoint_id": cpID},
	})
	return nil
}

// ResumeFromCheckpoint starts a new run at startNode from the state saved
// under cpID.
func (e *Engine[S]) ResumeFromCheckpoint(ctx context.Context, cpID, newRunID, startNode string) (S, error) {
	var zero S

	if e.store == nil {
		return zero, &EngineError{Message: "store is required", Code: CodeMissingStore}
	}

	state, step, err := e.store.LoadCheckpoint(ctx, cpID)
	if err != nil {
		code := CodeStoreError
		if errors.Is(err, store.ErrNotFound) {
			code = CodeCheckpointNotFound
		}
		return zero, &EngineError{Message: "cannot resume from checkpoint " + cpID + ": " + err.Error(), Code: code, Cause: err}
	}

	e.emitter.Emit(emit.Event{
		RunID:  newRunID,
		NodeID: startNode,
		Msg:    "resume",
		Meta:   map[string]interface{}{"checkpoint_id": cpID, "checkpoint_step": step},
	})

	return e.RunFrom(ctx, newRunID, startNode, state)
}
