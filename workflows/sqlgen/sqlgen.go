// Package sqlgen implements the two-step SQL assistant workflow: a
// low-variability model writes a SQL query for the user's question, then a
// high-variability model explains it.
package sqlgen

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/store"
)

// Node IDs.
const (
	NodeGenerateSQL = "generate_sql"
	NodeExplainSQL  = "explain_sql"
)

// CodeEmptySQL is the NodeError code of a generation step that produced no
// SQL text.
const CodeEmptySQL = "EMPTY_SQL"

var (
	ErrEmptyQuery = errors.New("sqlgen: user query is empty")
	ErrEmptySQL   = errors.New("sqlgen: model returned no SQL")
)

const generatePrompt = `You are a helpful data analyst who generates SQL queries for users based on their questions.`

const explainPrompt = `You are a helpful data analyst who explains SQL queries to users.`

// State is the run state of the SQL workflow.
type State struct {
	Messages       []model.Message `json:"messages"`
	UserQuery      string          `json:"user_query"`
	SQLQuery       string          `json:"sql_query"`
	SQLExplanation string          `json:"sql_explanation"`
}

type Input struct {
	UserQuery string `json:"user_query"`
}

type Output struct {
	SQLQuery       string `json:"sql_query"`
	SQLExplanation string `json:"sql_explanation"`
}

// Reduce appends messages and replaces every other field the delta sets.
func Reduce(prev, delta State) State {
	prev.Messages = model.AppendMessages(prev.Messages, delta.Messages...)
	if delta.UserQuery != "" {
		prev.UserQuery = delta.UserQuery
	}
	if delta.SQLQuery != "" {
		prev.SQLQuery = delta.SQLQuery
	}
	if delta.SQLExplanation != "" {
		prev.SQLExplanation = delta.SQLExplanation
	}
	return prev
}

// Deps are the workflow's collaborators. Store and Emitter are optional.
type Deps struct {
	Low     model.ChatModel
	High    model.ChatModel
	Store   store.Store[State]
	Emitter emit.Emitter
}

type Workflow struct {
	engine *graph.Engine[State]
}

func New(deps Deps, opts ...graph.Option) (*Workflow, error) {
	if deps.Low == nil || deps.High == nil {
		return nil, errors.New("sqlgen: low and high models are required")
	}
	if deps.Store == nil {
		deps.Store = store.NewMemStore[State]()
	}

	engine := graph.New(Reduce, deps.Store, deps.Emitter, opts...)
	if err := engine.Add(NodeGenerateSQL, generateNode(deps.Low)); err != nil {
		return nil, err
	}
	if err := engine.Add(NodeExplainSQL, explainNode(deps.High)); err != nil {
		return nil, err
	}
	if err := engine.StartAt(NodeGenerateSQL); err != nil {
		return nil, err
	}
	if err := engine.Connect(NodeGenerateSQL, NodeExplainSQL, nil); err != nil {
		return nil, err
	}
	return &Workflow{engine: engine}, nil
}

func (w *Workflow) Run(ctx context.Context, in Input) (Output, error) {
	return w.RunWithID(ctx, uuid.NewString(), in)
}

func (w *Workflow) RunWithID(ctx context.Context, runID string, in Input) (Output, error) {
	if strings.TrimSpace(in.UserQuery) == "" {
		return Output{}, ErrEmptyQuery
	}
	final, err := w.engine.Run(ctx, runID, State{UserQuery: in.UserQuery})
	if err != nil {
		return Output{}, err
	}
	return Output{SQLQuery: final.SQLQuery, SQLExplanation: final.SQLExplanation}, nil
}

// RunNode executes a single node against state without following edges.
func (w *Workflow) RunNode(ctx context.Context, nodeID string, state State) (State, error) {
	return w.engine.Invoke(ctx, nodeID, state)
}

func generateNode(m model.ChatModel) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		user := model.User(s.UserQuery)
		msgs := make([]model.Message, 0, len(s.Messages)+2)
		msgs = append(msgs, model.System(generatePrompt))
		msgs = append(msgs, s.Messages...)
		msgs = append(msgs, user)

		out, err := m.Chat(ctx, msgs, nil)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		graph.RecordUsage(ctx, NodeGenerateSQL, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

		sql := StripCodeFence(out.Text)
		if sql == "" {
			return graph.Fail[State](CodeEmptySQL, ErrEmptySQL)
		}
		return graph.NodeResult[State]{Delta: State{
			SQLQuery: sql,
			Messages: []model.Message{user, model.Assistant(out.Text)},
		}}
	}
}

// explainNode sends the log as is: it already holds the question and the
// generated SQL.
func explainNode(m model.ChatModel) graph.NodeFunc[State] {
	return func(ctx context.Context, s State) graph.NodeResult[State] {
		msgs := make([]model.Message, 0, len(s.Messages)+1)
		msgs = append(msgs, model.System(explainPrompt))
		msgs = append(msgs, s.Messages...)

		out, err := m.Chat(ctx, msgs, nil)
		if err != nil {
			return graph.NodeResult[State]{Err: err}
		}
		graph.RecordUsage(ctx, NodeExplainSQL, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

		return graph.NodeResult[State]{
			Delta: State{SQLExplanation: out.Text, Messages: []model.Message{model.Assistant(out.Text)}},
			Route: graph.Stop(),
		}
	}
}

// dialectTags are fence language tags recognized on a one-line fence, where
// the tag is followed by the query on the same line.
var dialectTags = map[string]bool{
	"sql": true, "postgresql": true, "postgres": true, "psql": true, "pgsql": true,
	"mysql": true, "sqlite": true, "sqlite3": true, "tsql": true, "plsql": true,
}

// StripCodeFence removes a surrounding Markdown code fence, with or without
// a language tag, and trims whitespace.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, " \t") {
			s = s[nl+1:]
		}
	} else if fields := strings.Fields(s); len(fields) > 1 && dialectTags[strings.ToLower(fields[0])] {
		s = strings.TrimPrefix(s, fields[0])
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
