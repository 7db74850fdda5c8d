package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order; once exhausted the last one repeats. When
// Err is set every call fails with it. Every call is recorded, including
// failed ones, with a copy of the messages as sent.
//
// Example:
//
//	low := &model.MockChatModel{Responses: []model.ChatOut{{Text: "insurance"}}}
//	out, _ := low.Chat(ctx, msgs, nil)
//	// low.Calls[0].Messages holds msgs
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	// ErrAt makes only the call with this 1-based index fail with Err.
	// Zero means every call fails when Err is set.
	ErrAt int

	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one call made to a MockChatModel.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sent := make([]Message, len(messages))
	copy(sent, messages)
	m.Calls = append(m.Calls, MockChatCall{Messages: sent, Tools: tools})

	if m.Err != nil && (m.ErrAt == 0 || m.ErrAt == len(m.Calls)) {
		return ChatOut{}, m.Err
	}

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of calls made so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call, or false when none was made.
func (m *MockChatModel) LastCall() (MockChatCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockChatCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
