package dataframe

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/tool"
)

const salesCSV = `region,product,amount,units
North,Widget,100.5,3
South,Widget,200,4
North,Gadget,50.25,
East,Gizmo,75,1
`

func loadSales(t *testing.T) (*sql.DB, *Frame) {
	t.Helper()
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	frame, err := LoadCSV(context.Background(), db, "sales", strings.NewReader(salesCSV))
	require.NoError(t, err)
	return db, frame
}

func TestLoadCSV(t *testing.T) {
	db, frame := loadSales(t)

	assert.Equal(t, "sales", frame.Table)
	assert.Equal(t, 4, frame.Rows)
	assert.Equal(t, []Column{
		{Name: "region", Type: TypeText},
		{Name: "product", Type: TypeText},
		{Name: "amount", Type: TypeReal},
		{Name: "units", Type: TypeInteger},
	}, frame.Columns)
	assert.Contains(t, frame.Schema(), `"amount" REAL`)
	assert.Contains(t, frame.Schema(), "4 rows")

	var nulls int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sales WHERE units IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)
}

func TestLoadCSV_Errors(t *testing.T) {
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	_, err = LoadCSV(ctx, db, "bad name", strings.NewReader(salesCSV))
	assert.Error(t, err)

	_, err = LoadCSV(ctx, db, "empty", strings.NewReader(""))
	assert.Error(t, err)

	_, err = LoadCSV(ctx, db, "ragged", strings.NewReader("a,b\n1,2\n3\n"))
	assert.ErrorContains(t, err, "row 3")
}

func TestLoadCSV_HeaderCleanup(t *testing.T) {
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	defer db.Close()

	frame, err := LoadCSV(context.Background(), db, "t", strings.NewReader("\ufeffid,,id\n1,x,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "id", Type: TypeInteger},
		{Name: "column_2", Type: TypeText},
		{Name: "id_2", Type: TypeInteger},
	}, frame.Columns)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "sales_2024", TableName("data/Sales 2024.csv"))
	assert.Equal(t, "t_2024", TableName("2024.csv"))
	assert.Equal(t, "titanic", TableName("/tmp/titanic.csv"))
}

func TestValidateQuery(t *testing.T) {
	ok := map[string]string{
		"SELECT * FROM sales;":                        "SELECT * FROM sales",
		"  with t as (select 1) select * from t":      "with t as (select 1) select * from t",
		"PRAGMA table_info(sales)":                    "PRAGMA table_info(sales)",
		"select replace(region, 'N', 'n') from sales": "select replace(region, 'N', 'n') from sales",
	}
	for in, want := range ok {
		got, err := ValidateQuery(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	rejected := []string{
		"",
		";",
		"DELETE FROM sales",
		"DROP TABLE sales",
		"SELECT 1; DROP TABLE sales",
		"WITH t AS (SELECT 1) DELETE FROM sales",
		"PRAGMA writable_schema = 1",
		"ATTACH DATABASE 'x.db' AS x",
	}
	for _, in := range rejected {
		_, err := ValidateQuery(in)
		assert.Error(t, err, in)
	}
}

func TestQueryTool_Call(t *testing.T) {
	db, frame := loadSales(t)
	qt := NewQueryTool(db, QueryConfig{}, frame)

	assert.Equal(t, QueryToolName, qt.Name())
	spec := qt.Spec()
	assert.Contains(t, spec.Description, "CREATE TABLE sales")
	assert.Equal(t, []string{"sql"}, spec.Schema["required"])

	out, err := qt.Call(context.Background(), map[string]interface{}{
		"sql": "SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region",
	})
	require.NoError(t, err)
	assert.Equal(t, "region | total\nEast | 75\nNorth | 150.75\nSouth | 200", out["result"])

	out, err = qt.Call(context.Background(), map[string]interface{}{"sql": "SELECT units FROM sales WHERE product = 'Gadget'"})
	require.NoError(t, err)
	assert.Equal(t, "units\nNULL", out["result"])
}

func TestQueryTool_Cutoff(t *testing.T) {
	db, frame := loadSales(t)
	qt := NewQueryTool(db, QueryConfig{MaxOutputLines: 2}, frame)

	out, err := qt.Call(context.Background(), map[string]interface{}{"sql": "SELECT region FROM sales ORDER BY rowid"})
	require.NoError(t, err)
	assert.Equal(t, "region\nNorth\n... additional data cutoff (1 kB)", out["result"])

	qt = NewQueryTool(db, QueryConfig{MaxRows: 1}, frame)
	out, err = qt.Call(context.Background(), map[string]interface{}{"sql": "SELECT region FROM sales ORDER BY rowid"})
	require.NoError(t, err)
	assert.Equal(t, "region\nNorth", out["result"])
}

func TestQueryTool_ReadOnly(t *testing.T) {
	db, frame := loadSales(t)
	qt := NewQueryTool(db, QueryConfig{}, frame)
	ctx := context.Background()

	_, err := qt.Call(ctx, map[string]interface{}{"sql": "WITH t AS (SELECT * FROM sales) REPLACE INTO sales SELECT * FROM t"})
	require.Error(t, err)

	_, err = qt.Call(ctx, map[string]interface{}{})
	require.Error(t, err)

	// The connection is writable again for loads after a query.
	_, err = LoadCSV(ctx, db, "more", strings.NewReader("a\n1\n"))
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sales`).Scan(&n))
	assert.Equal(t, 4, n)
}

func sqlCall(id, query string) model.ToolCall {
	return model.ToolCall{ID: id, Name: QueryToolName, Input: map[string]interface{}{"sql": query}}
}

func TestAgent_Run(t *testing.T) {
	db, frame := loadSales(t)
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{sqlCall("call_1", "SELECT COUNT(*) AS n FROM sales")}},
		{Text: "There are 4 rows."},
	}}
	agent, err := New(Deps{
		Model:  m,
		Tools:  []tool.Tool{NewQueryTool(db, QueryConfig{}, frame)},
		Frames: []*Frame{frame},
	})
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Query: "How many rows are there?"})
	require.NoError(t, err)
	assert.Equal(t, "There are 4 rows.", out.Answer)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, QueryToolName, out.Steps[0].Tool)
	assert.Equal(t, "n\n4", out.Steps[0].Output)

	require.Equal(t, 2, m.CallCount())
	first := m.Calls[0]
	require.Len(t, first.Messages, 2)
	assert.Equal(t, model.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "CREATE TABLE sales")
	assert.Equal(t, model.User(FormatQuery("How many rows are there?")), first.Messages[1])
	require.Len(t, first.Tools, 1)
	assert.Equal(t, QueryToolName, first.Tools[0].Name)

	second := m.Calls[1]
	require.Len(t, second.Messages, 4)
	assert.Len(t, second.Messages[2].ToolCalls, 1)
	assert.Equal(t, model.Message{Role: model.RoleTool, ToolCallID: "call_1", Content: "n\n4"}, second.Messages[3])
}

func TestAgent_DirectAnswer(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "I don't know."}}}
	agent, err := New(Deps{Model: m, Tools: []tool.Tool{&tool.MockTool{ToolName: QueryToolName}}})
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Query: "What is the meaning of life?"})
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", out.Answer)
	assert.NotNil(t, out.Steps)
	assert.Empty(t, out.Steps)
}

func TestAgent_ToolErrorsReachModel(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "missing"}}},
		{Text: "done"},
	}}
	agent, err := New(Deps{Model: m, Tools: []tool.Tool{&tool.MockTool{ToolName: QueryToolName}}})
	require.NoError(t, err)

	out, err := agent.Run(context.Background(), Input{Query: "q"})
	require.NoError(t, err)
	require.Len(t, out.Steps, 1)
	assert.Contains(t, out.Steps[0].Output, `unknown tool "missing"`)
}

func TestAgent_MaxIterations(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{sqlCall("c", "SELECT 1")}},
	}}
	mt := &tool.MockTool{ToolName: QueryToolName, Responses: []map[string]interface{}{{"result": "1"}}}
	agent, err := New(Deps{Model: m, Tools: []tool.Tool{mt}, MaxIterations: 3})
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), Input{Query: "loop"})
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, CodeMaxIterations, graph.ErrorCode(err))
	assert.Equal(t, 3, m.CallCount())
	assert.Equal(t, 3, mt.CallCount())
}

func TestAgent_Errors(t *testing.T) {
	_, err := New(Deps{Tools: []tool.Tool{&tool.MockTool{ToolName: "x"}}})
	assert.Error(t, err)
	_, err = New(Deps{Model: &model.MockChatModel{}})
	assert.Error(t, err)

	boom := errors.New("rate limited")
	agent, err := New(Deps{Model: &model.MockChatModel{Err: boom}, Tools: []tool.Tool{&tool.MockTool{ToolName: "x"}}})
	require.NoError(t, err)
	_, err = agent.Run(context.Background(), Input{Query: "q"})
	assert.ErrorIs(t, err, boom)

	_, err = agent.Run(context.Background(), Input{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestReduce(t *testing.T) {
	prev := State{Pending: []model.ToolCall{{Name: "a"}}, Steps: []Step{{Tool: "a"}}}
	next := Reduce(prev, State{Pending: []model.ToolCall{}, Steps: []Step{{Tool: "b"}}})
	assert.Empty(t, next.Pending)
	assert.Len(t, next.Steps, 2)
	assert.Len(t, prev.Steps, 1)

	kept := Reduce(next, State{Answer: "x"})
	assert.Empty(t, kept.Pending)
	assert.Equal(t, "x", kept.Answer)
}

func TestFormatQuery(t *testing.T) {
	assert.Equal(t,
		"If you do not know the answer, say you don't know.\nThink step by step.\n\nBelow is the query.\nQuery: how many?\n",
		FormatQuery("how many?"))
}
