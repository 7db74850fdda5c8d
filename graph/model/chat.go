// Package model defines the chat model contract the workflows talk to and
// the message types that make up a conversation log.
package model

import "context"

// ChatModel is a text generation service: given the ordered conversation so
// far it produces one new assistant turn.
//
// Implementations live in the openai, anthropic and google subpackages and
// are constructed once at process start, then passed to the workflows that
// need them.
type ChatModel interface {
	// Chat sends messages (and optionally the tools the model may call) and
	// returns the model's reply.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation. Turns are values and are never
// modified after they are appended to a log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are the calls requested by a RoleAssistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Temperatures of the two model configurations the workflows use: low
// variability for classification and SQL, high for explanations.
const (
	LowVariability  = 0.1
	HighVariability = 0.7
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the tool's input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the model's reply.
type ChatOut struct {
	// Text is the generated assistant text.
	Text string

	// ToolCalls are the tool invocations the model requested, if any.
	ToolCalls []ToolCall

	// Model is the concrete model that served the request.
	Model string

	// Usage reports token consumption when the provider returns it.
	Usage Usage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// System, User and Assistant build turns of the corresponding role.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// AppendMessages returns a new log holding prev followed by turns. prev is
// never written to, so logs captured in earlier state snapshots stay intact.
func AppendMessages(prev []Message, turns ...Message) []Message {
	if len(turns) == 0 {
		return prev
	}
	out := make([]Message, 0, len(prev)+len(turns))
	out = append(out, prev...)
	return append(out, turns...)
}
