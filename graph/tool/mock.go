package tool

import (
	"context"
	"sync"

	"github.com/dshills/llm-workflows/graph/model"
)

// MockTool is a scripted Tool for tests. Responses are returned in order
// and the last one repeats; Err makes every call fail. Calls are recorded
// even when they fail.
type MockTool struct {
	ToolName  string
	Responses []map[string]interface{}
	Err       error

	// ToolSpec, when set, is advertised through Spec.
	ToolSpec *model.ToolSpec

	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single invocation of Call().
type MockToolCall struct {
	Input map[string]interface{}
}

func (m *MockTool) Name() string {
	return m.ToolName
}

// Spec returns the configured ToolSpec, or one carrying only the name.
func (m *MockTool) Spec() model.ToolSpec {
	if m.ToolSpec != nil {
		return *m.ToolSpec
	}
	return model.ToolSpec{Name: m.ToolName}
}

func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{
		Input: input,
	})

	if m.Err != nil {
		return nil, m.Err
	}

	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds the responses.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of calls made so far.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
