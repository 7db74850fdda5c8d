// Package dataframe implements a question-answering agent over tabular data.
// A CSV is loaded into an in-memory SQLite table and a tool-calling model
// answers questions by querying it through the sql_query tool.
//
// The agent is a two-node graph:
//
//	agent -> (tools -> agent)* -> stop
package dataframe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/store"
	"github.com/dshills/llm-workflows/graph/tool"
)

// Node IDs.
const (
	NodeAgent = "agent"
	NodeTools = "tools"
)

// DefaultMaxIterations bounds the model calls of one run.
const DefaultMaxIterations = 8

// CodeMaxIterations is the NodeError code of a run that hit MaxIterations.
const CodeMaxIterations = "MAX_ITERATIONS"

var (
	ErrEmptyQuery    = errors.New("dataframe: query is empty")
	ErrMaxIterations = errors.New("dataframe: agent reached its iteration limit without an answer")
)

const queryPrompt = "If you do not know the answer, say you don't know.\nThink step by step.\n\nBelow is the query.\nQuery: %s\n"

// FormatQuery wraps a user question in the agent's query prompt.
func FormatQuery(query string) string {
	return fmt.Sprintf(queryPrompt, query)
}

// Step is one tool call the agent made while answering.
type Step struct {
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input"`
	Output string                 `json:"output"`
}

// State is the run state of the agent graph.
type State struct {
	Messages   []model.Message  `json:"messages"`
	Query      string           `json:"query"`
	Answer     string           `json:"answer"`
	Iterations int              `json:"iterations"`
	Pending    []model.ToolCall `json:"pending,omitempty"`
	Steps      []Step           `json:"steps,omitempty"`
}

// Reduce appends Messages and Steps. Pending is replaced whenever the delta
// carries a non-nil slice, so an empty slice clears it; other fields are
// replaced when set.
func Reduce(prev, delta State) State {
	prev.Messages = model.AppendMessages(prev.Messages, delta.Messages...)
	if len(delta.Steps) > 0 {
		steps := make([]Step, 0, len(prev.Steps)+len(delta.Steps))
		prev.Steps = append(append(steps, prev.Steps...), delta.Steps...)
	}
	if delta.Query != "" {
		prev.Query = delta.Query
	}
	if delta.Answer != "" {
		prev.Answer = delta.Answer
	}
	if delta.Iterations != 0 {
		prev.Iterations = delta.Iterations
	}
	if delta.Pending != nil {
		prev.Pending = delta.Pending
	}
	return prev
}

type Input struct {
	Query string `json:"query"`
}

type Output struct {
	Answer string `json:"answer"`
	Steps  []Step `json:"steps"`
}

// Deps configure an Agent. Model and at least one tool are required.
type Deps struct {
	Model model.ChatModel
	Tools []tool.Tool

	// Frames are described in the system prompt.
	Frames []*Frame

	// MaxIterations defaults to DefaultMaxIterations.
	MaxIterations int

	Store   store.Store[State]
	Emitter emit.Emitter
}

type Agent struct {
	engine *graph.Engine[State]
}

// New builds the agent graph. The engine step limit is derived from
// MaxIterations; opts apply after it and may override it.
func New(deps Deps, opts ...graph.Option) (*Agent, error) {
	if deps.Model == nil {
		return nil, errors.New("dataframe: model is required")
	}
	if len(deps.Tools) == 0 {
		return nil, errors.New("dataframe: at least one tool is required")
	}
	registry, err := tool.NewRegistry(deps.Tools...)
	if err != nil {
		return nil, err
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = DefaultMaxIterations
	}
	if deps.Store == nil {
		deps.Store = store.NewMemStore[State]()
	}

	opts = append([]graph.Option{graph.WithMaxSteps(2*deps.MaxIterations + 1)}, opts...)
	engine := graph.New(Reduce, deps.Store, deps.Emitter, opts...)
	if err := engine.Add(NodeAgent, agentNode(deps.Model, registry, systemPrompt(deps.Frames), deps.MaxIterations)); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeTools, toolsNode(registry)); err != nil {
		return nil, err
	}
	if err := engine.StartAt(NodeAgent); err != nil {
		return nil, err
	}
	pending := func(s State) bool { return len(s.Pending) > 0 }
	if err := engine.Connect(NodeAgent, NodeTools, pending); err != nil {
		return nil, err
	}
	if err := engine.Connect(NodeTools, NodeAgent, nil); err != nil {
		return nil, err
	}
	return &Agent{engine: engine}, nil
}

func (a *Agent) Run(ctx context.Context, in Input) (Output, error) {
	return a.RunWithID(ctx, uuid.NewString(), in)
}

func (a *Agent) RunWithID(ctx context.Context, runID string, in Input) (Output, error) {
	if strings.TrimSpace(in.Query) == "" {
		return Output{}, ErrEmptyQuery
	}
	initial := State{
		Query:    in.Query,
		Messages: []model.Message{model.User(FormatQuery(in.Query))},
	}
	final, err := a.engine.Run(ctx, runID, initial)
	if err != nil {
		return Output{}, err
	}
	steps := final.Steps
	if steps == nil {
		steps = []Step{}
	}
	return Output{Answer: final.Answer, Steps: steps}, nil
}

func systemPrompt(frames []*Frame) string {
	var b strings.Builder
	b.WriteString("You are working with tabular data loaded into SQLite. ")
	b.WriteString("Use the " + QueryToolName + " tool to look at the data before answering, ")
	b.WriteString("then reply with the final answer in plain text.")
	for _, f := range frames {
		b.WriteString("\n\n")
		b.WriteString(f.Schema())
	}
	return b.String()
}

// agentNode calls the model with the log and the tools. A reply without
// tool calls is the answer; otherwise the calls are queued for the tools
// node.
func agentNode(m model.ChatModel, registry *tool.Registry, system string, maxIterations int) graph.NodeFunc[State] {
	specs := registry.Specs()
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		if s.Iterations >= maxIterations {
			return graph.Fail[State](CodeMaxIterations, ErrMaxIterations)
		}

		msgs := make([]model.Message, 0, len(s.Messages)+1)
		msgs = append(msgs, model.System(system))
		msgs = append(msgs, s.Messages...)

		out, err := m.Chat(ctx, msgs, specs)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		graph.RecordUsage(ctx, NodeAgent, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

		reply := model.Message{Role: model.RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls}
		delta := State{Messages: []model.Message{reply}, Iterations: s.Iterations + 1}
		if len(out.ToolCalls) == 0 {
			delta.Answer = out.Text
			return graph.NodeResult[State]{Delta: delta, Route: graph.Stop()}
		}
		delta.Pending = out.ToolCalls
		return graph.NodeResult[State]{Delta: delta}
	}
}

// toolsNode answers every pending call with one tool turn, in order.
func toolsNode(registry *tool.Registry) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		delta := State{Pending: []model.ToolCall{}}
		for _, call := range s.Pending {
			reply, err := registry.Dispatch(ctx, call)
			if err != nil {
				return graph.NodeResult[State]{Err: err}
			}
			delta.Messages = append(delta.Messages, reply)
			delta.Steps = append(delta.Steps, Step{Tool: call.Name, Input: call.Input, Output: reply.Content})
		}
		return graph.NodeResult[State]{Delta: delta}
	}
}
