package main

import (
	"context"
	"database/sql"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/tool"
	"github.com/dshills/llm-workflows/rag"
	"github.com/dshills/llm-workflows/workflows/dataframe"
	"github.com/dshills/llm-workflows/workflows/router"
	"github.com/dshills/llm-workflows/workflows/sqlgen"
)

// Vector collections backing the router's two retrievers.
const (
	recordsCollection   = "medical_records"
	insuranceCollection = "insurance_faqs"
)

// buildRouter wires the router workflow. The seed files, when given, are
// ingested into the corresponding collection first.
func buildRouter(ctx context.Context, a *app, recordsFile, insuranceFile string) (*router.Workflow, error) {
	low, high, err := a.lowAndHigh()
	if err != nil {
		return nil, err
	}
	records, err := a.vectorStore(ctx, recordsCollection)
	if err != nil {
		return nil, err
	}
	insurance, err := a.vectorStore(ctx, insuranceCollection)
	if err != nil {
		return nil, err
	}
	if err := a.seed(ctx, records, recordsFile); err != nil {
		return nil, err
	}
	if err := a.seed(ctx, insurance, insuranceFile); err != nil {
		return nil, err
	}
	st, err := openStore[router.State](a)
	if err != nil {
		return nil, err
	}

	opts := append(a.engineOptions(router.NodeClassify, router.NodeGenerateAnswer), graph.WithMaxSteps(a.cfg.Engine.MaxSteps))
	return router.New(router.Deps{
		Low:       low,
		High:      high,
		Records:   rag.StoreRetriever{Store: records, K: a.cfg.Vector.K},
		Insurance: rag.StoreRetriever{Store: insurance, K: a.cfg.Vector.K},
		Store:     st,
		Emitter:   a.emitter,
	}, opts...)
}

func buildSQL(a *app) (*sqlgen.Workflow, error) {
	low, high, err := a.lowAndHigh()
	if err != nil {
		return nil, err
	}
	st, err := openStore[sqlgen.State](a)
	if err != nil {
		return nil, err
	}
	opts := append(a.engineOptions(sqlgen.NodeGenerateSQL, sqlgen.NodeExplainSQL), graph.WithMaxSteps(a.cfg.Engine.MaxSteps))
	return sqlgen.New(sqlgen.Deps{Low: low, High: high, Store: st, Emitter: a.emitter}, opts...)
}

// agentFactory builds a dataframe agent over frames already loaded into db.
type agentFactory func(db *sql.DB, frames ...*dataframe.Frame) (*dataframe.Agent, error)

// dataframeAgents returns the factory used by the dataframe command and the
// HTTP handler. The agent's step limit follows its iteration limit, so the
// engine max_steps setting is not applied.
func dataframeAgents(a *app, m model.ChatModel) (agentFactory, error) {
	st, err := openStore[dataframe.State](a)
	if err != nil {
		return nil, err
	}
	df := a.cfg.Dataframe
	qcfg := dataframe.DefaultQueryConfig()
	qcfg.Timeout = df.QueryTimeout
	qcfg.MaxRows = df.MaxRows

	return func(db *sql.DB, frames ...*dataframe.Frame) (*dataframe.Agent, error) {
		return dataframe.New(dataframe.Deps{
			Model:         m,
			Tools:         []tool.Tool{dataframe.NewQueryTool(db, qcfg, frames...)},
			Frames:        frames,
			MaxIterations: df.MaxIterations,
			Store:         st,
			Emitter:       a.emitter,
		}, a.engineOptions(dataframe.NodeAgent)...)
	}, nil
}
