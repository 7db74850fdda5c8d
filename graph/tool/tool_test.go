package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/llm-workflows/graph/model"
)

type plainTool struct{}

func (plainTool) Name() string { return "plain" }
func (plainTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"rows": 3, "table": "df"}, nil
}

func TestNewRegistry(t *testing.T) {
	if _, err := NewRegistry(&MockTool{ToolName: "a"}, &MockTool{ToolName: "a"}); err == nil {
		t.Error("expected duplicate name error")
	}
	if _, err := NewRegistry(&MockTool{}); err == nil {
		t.Error("expected error for unnamed tool")
	}
}

func TestRegistry_Specs(t *testing.T) {
	spec := model.ToolSpec{Name: "sql_query", Description: "run SQL"}
	r, err := NewRegistry(plainTool{}, &MockTool{ToolName: "sql_query", ToolSpec: &spec})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	specs := r.Specs()
	if len(specs) != 2 {
		t.Fatalf("specs = %+v", specs)
	}
	if specs[0].Name != "plain" || specs[1].Description != "run SQL" {
		t.Errorf("specs not sorted or not described: %+v", specs)
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	sqlTool := &MockTool{ToolName: "sql_query", Responses: []map[string]interface{}{{"result": "region | total\nwest | 10"}}}
	r, _ := NewRegistry(sqlTool, plainTool{})
	ctx := context.Background()

	t.Run("result string is used verbatim", func(t *testing.T) {
		reply, err := r.Dispatch(ctx, model.ToolCall{ID: "call_1", Name: "sql_query", Input: map[string]interface{}{"query": "SELECT 1"}})
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if reply.Role != model.RoleTool || reply.ToolCallID != "call_1" {
			t.Errorf("reply = %+v", reply)
		}
		if !strings.HasPrefix(reply.Content, "region | total") {
			t.Errorf("content = %q", reply.Content)
		}
		if sqlTool.Calls[0].Input["query"] != "SELECT 1" {
			t.Errorf("input not forwarded: %+v", sqlTool.Calls)
		}
	})

	t.Run("structured output is JSON encoded", func(t *testing.T) {
		reply, _ := r.Dispatch(ctx, model.ToolCall{Name: "plain"})
		if reply.Content != `{"rows":3,"table":"df"}` {
			t.Errorf("content = %q", reply.Content)
		}
		if reply.ToolCallID != "plain" {
			t.Errorf("call ID should fall back to the tool name, got %q", reply.ToolCallID)
		}
	})

	t.Run("unknown tool is reported to the model", func(t *testing.T) {
		reply, err := r.Dispatch(ctx, model.ToolCall{ID: "x", Name: "python"})
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if !strings.Contains(reply.Content, "unknown tool") {
			t.Errorf("content = %q", reply.Content)
		}
	})

	t.Run("tool error is reported to the model", func(t *testing.T) {
		failing := &MockTool{ToolName: "bad", Err: errors.New("no such column: revenue")}
		r, _ := NewRegistry(failing)
		reply, err := r.Dispatch(ctx, model.ToolCall{Name: "bad"})
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if reply.Content != "error: no such column: revenue" {
			t.Errorf("content = %q", reply.Content)
		}
	})

	t.Run("cancellation aborts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := r.Dispatch(cctx, model.ToolCall{Name: "sql_query"}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMockTool(t *testing.T) {
	m := &MockTool{ToolName: "t", Responses: []map[string]interface{}{{"n": 1}, {"n": 2}}}
	ctx := context.Background()

	var got []interface{}
	for i := 0; i < 3; i++ {
		out, err := m.Call(ctx, map[string]interface{}{"i": i})
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		got = append(got, out["n"])
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 2 {
		t.Errorf("responses = %v", got)
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount = %d", m.CallCount())
	}

	m.Reset()
	if m.CallCount() != 0 {
		t.Error("Reset should clear calls")
	}
	if out, _ := m.Call(ctx, nil); out["n"] != 1 {
		t.Error("Reset should rewind responses")
	}
}
