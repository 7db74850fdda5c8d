// Package router implements the query router workflow:
//
//	classify -> retrieve_medical_records | retrieve_insurance_faqs -> generate_answer
//
// A low-variability model classifies the query into a Domain, the matching
// retriever fetches documents, and a high-variability model answers from
// them.
package router

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/store"
	"github.com/dshills/llm-workflows/rag"
)

// ErrEmptyQuery is returned by Run for a blank user query.
var ErrEmptyQuery = errors.New("router: user query is empty")

// Deps are the external collaborators of the workflow. Every field except
// Store and Emitter is required.
type Deps struct {
	// Low classifies; High writes the answer.
	Low  model.ChatModel
	High model.ChatModel

	Records   rag.Retriever
	Insurance rag.Retriever

	// Store persists step snapshots. Defaults to an in-memory store.
	Store store.Store[State]

	Emitter emit.Emitter
}

// Workflow is a compiled router graph. It is safe for concurrent runs.
type Workflow struct {
	engine *graph.Engine[State]
}

// New validates deps and builds the graph. opts configure the engine, e.g.
// graph.WithNodePolicy to add retries to the model calls.
func New(deps Deps, opts ...graph.Option) (*Workflow, error) {
	switch {
	case deps.Low == nil || deps.High == nil:
		return nil, errors.New("router: low and high models are required")
	case deps.Records == nil || deps.Insurance == nil:
		return nil, errors.New("router: records and insurance retrievers are required")
	}
	if deps.Store == nil {
		deps.Store = store.NewMemStore[State]()
	}

	engine := graph.New(Reduce, deps.Store, deps.Emitter, opts...)
	nodes := []struct {
		id   string
		node graph.Node[State]
	}{
		{NodeClassify, classifyNode(deps.Low)},
		{NodeRetrieveRecords, retrieveNode(deps.Records)},
		{NodeRetrieveInsurance, retrieveNode(deps.Insurance)},
		{NodeGenerateAnswer, generateAnswerNode(deps.High)},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.node); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(NodeClassify); err != nil {
		return nil, err
	}

	routeTo := func(target string) graph.Predicate[State] {
		return func(s State) bool {
			next, err := PickRetriever(s)
			return err == nil && next == target
		}
	}
	edges := []struct {
		from, to string
		when     graph.Predicate[State]
	}{
		{NodeClassify, NodeRetrieveRecords, routeTo(NodeRetrieveRecords)},
		{NodeClassify, NodeRetrieveInsurance, routeTo(NodeRetrieveInsurance)},
		{NodeRetrieveRecords, NodeGenerateAnswer, nil},
		{NodeRetrieveInsurance, NodeGenerateAnswer, nil},
	}
	for _, e := range edges {
		if err := engine.Connect(e.from, e.to, e.when); err != nil {
			return nil, err
		}
	}

	return &Workflow{engine: engine}, nil
}

// Run answers one query under a fresh run ID.
func (w *Workflow) Run(ctx context.Context, in Input) (Output, error) {
	return w.RunWithID(ctx, uuid.NewString(), in)
}

// RunWithID answers one query under the caller's run ID, so that events and
// stored steps can be correlated with the caller's own records.
func (w *Workflow) RunWithID(ctx context.Context, runID string, in Input) (Output, error) {
	if strings.TrimSpace(in.UserQuery) == "" {
		return Output{}, ErrEmptyQuery
	}

	final, err := w.engine.Run(ctx, runID, State{UserQuery: in.UserQuery})
	if err != nil {
		return Output{}, err
	}
	return Output{Documents: final.Documents, Answer: final.Answer}, nil
}

// RunNode executes a single node against state and returns the merged
// state. It does not follow edges or persist anything.
func (w *Workflow) RunNode(ctx context.Context, nodeID string, state State) (State, error) {
	return w.engine.Invoke(ctx, nodeID, state)
}
