package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/llm-workflows/graph/model"
)

type mockMessageClient struct {
	resp   *anthropic.Message
	err    error
	params []anthropic.MessageNewParams
}

func (m *mockMessageClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func TestChatModel_Chat(t *testing.T) {
	client := &mockMessageClient{resp: &anthropic.Message{
		Model:   "claude-3-5-haiku-latest",
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "records"}},
		Usage:   anthropic.Usage{InputTokens: 50, OutputTokens: 1},
	}}
	temp := model.LowVariability
	m := &ChatModel{modelName: DefaultModel, client: client, temperature: &temp, maxTokens: defaultMaxTokens}

	out, err := m.Chat(context.Background(), []model.Message{
		model.System("route the query"),
		model.User("What was my last diagnosis?"),
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "records" {
		t.Errorf("text = %q", out.Text)
	}
	if out.Usage.InputTokens != 50 || out.Usage.OutputTokens != 1 {
		t.Errorf("usage = %+v", out.Usage)
	}

	params := client.params[0]
	if len(params.System) != 1 || params.System[0].Text != "route the query" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("system turn should not be sent as a message, got %d messages", len(params.Messages))
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.1 {
		t.Errorf("temperature = %+v", params.Temperature)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
}

func TestChatModel_ToolUse(t *testing.T) {
	input, _ := json.Marshal(map[string]interface{}{"query": "SELECT 1"})
	client := &mockMessageClient{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_1", Name: "sql_query", Input: input},
		},
	}}
	m := &ChatModel{modelName: DefaultModel, client: client, maxTokens: defaultMaxTokens}

	history := []model.Message{
		model.User("how many rows?"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "a", Name: "sql_query", Input: map[string]interface{}{"query": "x"}},
			{ID: "b", Name: "sql_query", Input: map[string]interface{}{"query": "y"}},
		}},
		{Role: model.RoleTool, ToolCallID: "a", Content: "1"},
		{Role: model.RoleTool, ToolCallID: "b", Content: "2"},
	}
	tools := []model.ToolSpec{{
		Name:   "sql_query",
		Schema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}, "required": []interface{}{"query"}},
	}}

	out, err := m.Chat(context.Background(), history, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "Let me check." {
		t.Errorf("text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "toolu_1" || out.ToolCalls[0].Input["query"] != "SELECT 1" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}

	params := client.params[0]
	if len(params.Messages) != 3 {
		t.Fatalf("tool results should fold into one user turn, got %d messages", len(params.Messages))
	}
	if len(params.Messages[2].Content) != 2 {
		t.Errorf("folded tool results = %d blocks, want 2", len(params.Messages[2].Content))
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool == nil || len(params.Tools[0].OfTool.InputSchema.Required) != 1 {
		t.Errorf("tools = %+v", params.Tools)
	}
}

func TestChatModel_Errors(t *testing.T) {
	boom := errors.New("overloaded")
	m := &ChatModel{modelName: DefaultModel, client: &mockMessageClient{err: boom}, maxTokens: defaultMaxTokens}

	if _, err := m.Chat(context.Background(), []model.Message{model.User("hi")}, nil); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if _, err := m.Chat(context.Background(), []model.Message{model.System("only system")}, nil); err == nil {
		t.Error("expected error for a conversation without user turns")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Chat(ctx, []model.Message{model.User("hi")}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewChatModel(t *testing.T) {
	m := NewChatModel("key", "", WithTemperature(0.7), WithMaxTokens(200))
	if m.Model() != DefaultModel || m.maxTokens != 200 || *m.temperature != 0.7 {
		t.Errorf("unexpected config: %+v", m)
	}
}
