package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/store"
	"github.com/dshills/llm-workflows/rag"
)

type recordingRetriever struct {
	mu      sync.Mutex
	docs    []rag.Document
	err     error
	queries []string
}

func (r *recordingRetriever) Retrieve(ctx context.Context, query string) ([]rag.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return r.docs, r.err
}

type fixture struct {
	low, high          *model.MockChatModel
	records, insurance *recordingRetriever
	store              *store.MemStore[State]
	events             *emit.BufferedEmitter
	wf                 *Workflow
}

func newFixture(t *testing.T, label string, opts ...graph.Option) *fixture {
	t.Helper()
	f := &fixture{
		low:  &model.MockChatModel{Responses: []model.ChatOut{{Text: label, Model: "gpt-4o-mini", Usage: model.Usage{InputTokens: 80, OutputTokens: 1}}}},
		high: &model.MockChatModel{Responses: []model.ChatOut{{Text: "Yes, Covid-19 treatment is covered under your plan.", Model: "gpt-4o-mini"}}},
		records: &recordingRetriever{docs: []rag.Document{
			{ID: "r1", Content: "2024-03-02 diagnosis: seasonal allergies", Metadata: map[string]string{"source": "records.txt"}},
		}},
		insurance: &recordingRetriever{docs: []rag.Document{
			{ID: "i1", Content: "Covid-19 treatment is covered in full.", Metadata: map[string]string{"source": "faq.txt"}},
		}},
		store:  store.NewMemStore[State](),
		events: emit.NewBufferedEmitter(),
	}

	wf, err := New(Deps{
		Low: f.low, High: f.high,
		Records: f.records, Insurance: f.insurance,
		Store: f.store, Emitter: f.events,
	}, opts...)
	require.NoError(t, err)
	f.wf = wf
	return f
}

func TestRun_InsuranceQuery(t *testing.T) {
	f := newFixture(t, "insurance")
	ctx := context.Background()
	const query = "Am I covered for Covid-19 treatment"

	out, err := f.wf.RunWithID(ctx, "run-insurance", Input{UserQuery: query})
	require.NoError(t, err)

	assert.NotEmpty(t, out.Answer)
	assert.Equal(t, f.insurance.docs, out.Documents)
	assert.Equal(t, []string{query}, f.insurance.queries, "insurance retriever gets the raw query")
	assert.Empty(t, f.records.queries, "records retriever must not run")

	// The classifier sees the router prompt and the user turn.
	classifyCall, ok := f.low.LastCall()
	require.True(t, ok)
	require.Len(t, classifyCall.Messages, 2)
	assert.Equal(t, model.RoleSystem, classifyCall.Messages[0].Role)
	assert.Equal(t, model.User(query), classifyCall.Messages[1])

	// The answer model sees persona, logged turns and the documents turn.
	answerCall, ok := f.high.LastCall()
	require.True(t, ok)
	require.Len(t, answerCall.Messages, 4)
	assert.Equal(t, insuranceFAQsPrompt, answerCall.Messages[0].Content)
	assert.Equal(t, model.Assistant("insurance"), answerCall.Messages[2])
	assert.True(t, strings.HasPrefix(answerCall.Messages[3].Content, "Documents: "))
	assert.Contains(t, answerCall.Messages[3].Content, "Covid-19 treatment is covered in full.")
}

func TestRun_MessageLogGrowth(t *testing.T) {
	f := newFixture(t, "records")
	ctx := context.Background()

	_, err := f.wf.RunWithID(ctx, "run-log", Input{UserQuery: "What was my last diagnosis?"})
	require.NoError(t, err)

	steps, err := f.store.LoadSteps(ctx, "run-log")
	require.NoError(t, err)
	require.Len(t, steps, 3)

	want := []struct {
		node     string
		messages int
	}{
		{NodeClassify, 2},
		{NodeRetrieveRecords, 2},
		{NodeGenerateAnswer, 3},
	}
	for i, w := range want {
		assert.Equal(t, w.node, steps[i].NodeID)
		assert.Len(t, steps[i].State.Messages, w.messages, "after %s", w.node)
	}

	final := steps[2].State.Messages
	assert.Equal(t, model.RoleUser, final[0].Role)
	assert.Equal(t, model.RoleAssistant, final[1].Role)
	assert.Equal(t, model.RoleAssistant, final[2].Role)
	for _, m := range final {
		assert.False(t, strings.HasPrefix(m.Content, "Documents:"), "documents turn must not be logged")
	}

	answerCall, _ := f.high.LastCall()
	assert.Equal(t, medicalRecordsPrompt, answerCall.Messages[0].Content)

	assert.Equal(t, []string{"What was my last diagnosis?"}, f.records.queries)
	assert.Empty(t, f.insurance.queries, "insurance retriever must not run")
}

func TestRun_UnclassifiedLabelFailsClosed(t *testing.T) {
	f := newFixture(t, "billing")

	out, err := f.wf.Run(context.Background(), Input{UserQuery: "How do I update my address?"})
	require.Error(t, err)
	assert.Equal(t, Output{}, out)
	assert.Equal(t, CodeUnclassifiedDomain, graph.ErrorCode(err))

	var unclassified *UnclassifiedError
	require.True(t, errors.As(err, &unclassified))
	assert.Equal(t, "billing", unclassified.Label)

	assert.Empty(t, f.records.queries)
	assert.Empty(t, f.insurance.queries)
	assert.Equal(t, 0, f.high.CallCount())
}

func TestRun_EmptyCorpus(t *testing.T) {
	f := newFixture(t, "insurance")
	f.insurance.docs = []rag.Document{}

	out, err := f.wf.Run(context.Background(), Input{UserQuery: "Am I covered for Covid-19 treatment"})
	require.NoError(t, err)
	assert.NotNil(t, out.Documents)
	assert.Empty(t, out.Documents)
	assert.NotEmpty(t, out.Answer)

	answerCall, _ := f.high.LastCall()
	assert.Equal(t, "Documents: []", answerCall.Messages[len(answerCall.Messages)-1].Content)
}

func TestRun_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		f := newFixture(t, "insurance")
		_, err := f.wf.Run(context.Background(), Input{UserQuery: "  "})
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Equal(t, 0, f.low.CallCount())
	})

	t.Run("model failure aborts with node ID", func(t *testing.T) {
		f := newFixture(t, "insurance")
		boom := errors.New("model unavailable")
		f.high.Err = boom

		_, err := f.wf.Run(context.Background(), Input{UserQuery: "Am I covered?"})
		require.ErrorIs(t, err, boom)
		var nodeErr *graph.NodeError
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, NodeGenerateAnswer, nodeErr.NodeID)
	})

	t.Run("retriever failure aborts", func(t *testing.T) {
		f := newFixture(t, "insurance")
		f.insurance.err = errors.New("vector store down")

		_, err := f.wf.Run(context.Background(), Input{UserQuery: "Am I covered?"})
		var nodeErr *graph.NodeError
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, NodeRetrieveInsurance, nodeErr.NodeID)
		assert.Equal(t, 0, f.high.CallCount())
	})

	t.Run("missing deps", func(t *testing.T) {
		_, err := New(Deps{Low: &model.MockChatModel{}})
		assert.Error(t, err)
		_, err = New(Deps{Low: &model.MockChatModel{}, High: &model.MockChatModel{}, Records: &recordingRetriever{}})
		assert.Error(t, err)
	})
}

func TestRun_RetryPolicyOnClassify(t *testing.T) {
	f := newFixture(t, "insurance", graph.WithNodePolicy(NodeClassify, graph.NodePolicy{
		RetryPolicy: &graph.RetryPolicy{MaxAttempts: 2},
	}))
	f.low.Err = errors.New("rate limited")
	f.low.ErrAt = 1

	out, err := f.wf.Run(context.Background(), Input{UserQuery: "Am I covered?"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
	assert.Equal(t, 2, f.low.CallCount())
}

func TestRun_ReportsUsage(t *testing.T) {
	tracker := graph.NewCostTracker("USD")
	f := newFixture(t, "insurance", graph.WithCostTracker(tracker))

	_, err := f.wf.RunWithID(context.Background(), "run-cost", Input{UserQuery: "Am I covered?"})
	require.NoError(t, err)

	calls := tracker.Calls("run-cost")
	require.Len(t, calls, 2)
	assert.Equal(t, NodeClassify, calls[0].NodeID)
	assert.Equal(t, 80, calls[0].InputTokens)

	llm := f.events.HistoryWithFilter("run-cost", emit.HistoryFilter{Msg: "llm_call"})
	assert.Len(t, llm, 2)
}

func TestRunNode_RoundTrip(t *testing.T) {
	f := newFixture(t, "Insurance.")
	ctx := context.Background()

	prior := []model.Message{model.User("hi"), model.Assistant("hello")}
	got, err := f.wf.RunNode(ctx, NodeClassify, State{UserQuery: "Is dental covered?", Messages: prior})
	require.NoError(t, err)

	assert.Equal(t, DomainInsurance, got.Domain)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, model.User("Is dental covered?"), got.Messages[2])
	assert.Equal(t, model.Assistant("Insurance."), got.Messages[3])

	call, _ := f.low.LastCall()
	require.Len(t, call.Messages, 4, "prior log is part of the classifier context")
	assert.Equal(t, prior[0], call.Messages[1])

	answered, err := f.wf.RunNode(ctx, NodeGenerateAnswer, State{
		Domain:    DomainRecords,
		Messages:  got.Messages,
		Documents: []rag.Document{{Content: "x"}},
	})
	require.NoError(t, err)
	assert.Len(t, answered.Messages, 5)
	assert.NotEmpty(t, answered.Answer)

	_, err = f.wf.RunNode(ctx, NodeGenerateAnswer, State{})
	assert.Equal(t, CodeUnclassifiedDomain, graph.ErrorCode(err))
}

func TestParseDomain(t *testing.T) {
	tests := []struct {
		label string
		want  Domain
		ok    bool
	}{
		{"records", DomainRecords, true},
		{"insurance", DomainInsurance, true},
		{"  Insurance.\n", DomainInsurance, true},
		{`"records"`, DomainRecords, true},
		{"RECORDS", DomainRecords, true},
		{"billing", DomainUnclassified, false},
		{"", DomainUnclassified, false},
		{"records and insurance", DomainUnclassified, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseDomain(tt.label)
			assert.Equal(t, tt.want, got)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				var unclassified *UnclassifiedError
				assert.ErrorAs(t, err, &unclassified)
			}
		})
	}
}

func TestPickRetriever(t *testing.T) {
	next, err := PickRetriever(State{Domain: DomainRecords})
	require.NoError(t, err)
	assert.Equal(t, NodeRetrieveRecords, next)

	next, err = PickRetriever(State{Domain: DomainInsurance})
	require.NoError(t, err)
	assert.Equal(t, NodeRetrieveInsurance, next)

	_, err = PickRetriever(State{})
	assert.Error(t, err)
	_, err = PickRetriever(State{Domain: Domain(42)})
	assert.Error(t, err)
}

func TestReduce(t *testing.T) {
	prev := State{UserQuery: "q", Messages: []model.Message{model.User("q")}, Domain: DomainRecords}
	next := Reduce(prev, State{Messages: []model.Message{model.Assistant("a")}, Answer: "a"})

	assert.Len(t, prev.Messages, 1, "reducer must not modify prev")
	assert.Len(t, next.Messages, 2)
	assert.Equal(t, DomainRecords, next.Domain, "zero domain does not overwrite")
	assert.Equal(t, "q", next.UserQuery)
	assert.Equal(t, "a", next.Answer)

	cleared := Reduce(State{Documents: []rag.Document{{Content: "old"}}}, State{Documents: []rag.Document{}})
	assert.NotNil(t, cleared.Documents)
	assert.Empty(t, cleared.Documents)
}

func TestDomain_Text(t *testing.T) {
	b, err := DomainInsurance.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "insurance", string(b))

	var d Domain
	require.NoError(t, d.UnmarshalText([]byte("records")))
	assert.Equal(t, DomainRecords, d)
	require.NoError(t, d.UnmarshalText([]byte("unclassified")))
	assert.Equal(t, DomainUnclassified, d)
	assert.Error(t, d.UnmarshalText([]byte("billing")))
}

func TestRenderDocuments(t *testing.T) {
	assert.Equal(t, "Documents: []", RenderDocuments(nil))
	got := RenderDocuments([]rag.Document{
		{Content: "a", Metadata: map[string]string{"source": "faq.txt"}},
		{Content: "b"},
	})
	assert.Equal(t, "Documents: \n[1] a {source=faq.txt}\n[2] b", got)
}
