package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/llm-workflows/graph/model"
)

type mockGoogleClient struct {
	resp *genai.GenerateContentResponse
	err  error
	reqs []contentRequest
}

func (m *mockGoogleClient) generateContent(ctx context.Context, req contentRequest) (*genai.GenerateContentResponse, error) {
	m.reqs = append(m.reqs, req)
	return m.resp, m.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 4},
	}
}

func TestChatModel_Chat(t *testing.T) {
	client := &mockGoogleClient{resp: textResponse("SELECT region, SUM(sales) FROM sales GROUP BY region")}
	temp := float32(0.1)
	m := &ChatModel{modelName: DefaultModel, client: client, temperature: &temp}

	out, err := m.Chat(context.Background(), []model.Message{
		model.System("generate sql"),
		model.User("Show me total sales by region"),
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text == "" || out.Usage.InputTokens != 12 || out.Model != DefaultModel {
		t.Errorf("out = %+v", out)
	}

	req := client.reqs[0]
	if req.system == nil || len(req.system.Parts) != 1 {
		t.Errorf("system instruction = %+v", req.system)
	}
	if len(req.history) != 0 || len(req.parts) != 1 {
		t.Errorf("history=%d parts=%d", len(req.history), len(req.parts))
	}
	if req.temperature == nil || *req.temperature != temp {
		t.Error("temperature not forwarded")
	}
}

func TestBuildRequest_History(t *testing.T) {
	req, err := buildRequest(DefaultModel, []model.Message{
		model.User("q"),
		model.Assistant("sql"),
		model.User("explain"),
	}, []model.ToolSpec{{Name: "sql_query", Schema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"query"},
	}}})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if len(req.history) != 2 || req.history[1].Role != "model" {
		t.Errorf("history = %+v", req.history)
	}
	decl := req.tools[0].FunctionDeclarations[0]
	if decl.Parameters.Properties["query"].Type != genai.TypeString || len(decl.Parameters.Required) != 1 {
		t.Errorf("schema = %+v", decl.Parameters)
	}

	if _, err := buildRequest(DefaultModel, []model.Message{model.System("x")}, nil); err == nil {
		t.Error("expected error without user turns")
	}
}

func TestChatModel_SafetyFilter(t *testing.T) {
	client := &mockGoogleClient{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonSafety,
			SafetyRatings: []*genai.SafetyRating{
				{Category: genai.HarmCategoryDangerousContent, Blocked: true},
			},
		}},
	}}
	m := &ChatModel{modelName: DefaultModel, client: client}

	_, err := m.Chat(context.Background(), []model.Message{model.User("hi")}, nil)
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Fatalf("expected SafetyFilterError, got %v", err)
	}
	if safetyErr.Category() == "unspecified" {
		t.Errorf("category = %q", safetyErr.Category())
	}
}

func TestChatModel_FunctionCall(t *testing.T) {
	client := &mockGoogleClient{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.FunctionCall{Name: "sql_query", Args: map[string]any{"query": "SELECT 1"}},
			}},
		}},
	}}
	m := &ChatModel{modelName: DefaultModel, client: client}

	out, err := m.Chat(context.Background(), []model.Message{model.User("rows?")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Input["query"] != "SELECT 1" {
		t.Errorf("tool calls = %+v", out.ToolCalls)
	}
}

func TestChatModel_ClientError(t *testing.T) {
	boom := errors.New("quota")
	m := &ChatModel{modelName: DefaultModel, client: &mockGoogleClient{err: boom}}
	if _, err := m.Chat(context.Background(), []model.Message{model.User("hi")}, nil); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}

	if _, err := NewChatModel("", "").Chat(context.Background(), []model.Message{model.User("hi")}, nil); err == nil {
		t.Error("expected error without API key")
	}
}
