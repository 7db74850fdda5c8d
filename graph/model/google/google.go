// Package google provides a model.ChatModel adapter for the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/llm-workflows/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini models.
//
// System turns become the model's system instruction. The remaining turns
// are replayed as chat history and the last one is sent as the new message.
// Blocked prompts and responses surface as *SafetyFilterError.
type ChatModel struct {
	modelName   string
	client      googleClient
	temperature *float32
}

type googleClient interface {
	generateContent(ctx context.Context, req contentRequest) (*genai.GenerateContentResponse, error)
}

// contentRequest is everything one generateContent call needs, already in
// Gemini's shapes.
type contentRequest struct {
	model       string
	system      *genai.Content
	history     []*genai.Content
	parts       []genai.Part
	tools       []*genai.Tool
	temperature *float32
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(m *ChatModel) {
		f := float32(t)
		m.temperature = &f
	}
}

func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ChatModel) Model() string { return m.modelName }

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req, err := buildRequest(m.modelName, messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}
	req.temperature = m.temperature

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	out, err := convertResponse(resp)
	if err != nil {
		return model.ChatOut{}, err
	}
	out.Model = m.modelName
	return out, nil
}

func buildRequest(modelName string, messages []model.Message, tools []model.ToolSpec) (contentRequest, error) {
	req := contentRequest{model: modelName}

	var system []genai.Part
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, genai.Text(msg.Content))
		case model.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if msg.Content != "" {
				c.Parts = append(c.Parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				c.Parts = append(c.Parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
			}
			contents = append(contents, c)
		case model.RoleTool:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{
				genai.FunctionResponse{Name: msg.ToolCallID, Response: map[string]any{"result": msg.Content}},
			}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}

	if len(contents) == 0 {
		return req, errors.New("google: at least one non-system message is required")
	}
	if len(system) > 0 {
		req.system = &genai.Content{Parts: system}
	}
	req.history = contents[:len(contents)-1]
	req.parts = contents[len(contents)-1].Parts
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}
	return req, nil
}

// defaultClient wraps the official Gemini SDK client. A client is created
// per call and closed when the call returns.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, req contentRequest) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(req.model)
	genModel.SystemInstruction = req.system
	genModel.Tools = req.tools
	if req.temperature != nil {
		genModel.SetTemperature(*req.temperature)
	}

	session := genModel.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.parts...)
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema converts a JSON Schema object to genai.Schema, recursing
// into properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{}
	if resp == nil {
		return out, errors.New("google: empty response")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return out, &SafetyFilterError{reason: resp.PromptFeedback.BlockReason.String(), category: blockedCategory(resp.PromptFeedback.SafetyRatings)}
	}

	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return out, nil
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: candidate.FinishReason.String(), category: blockedCategory(candidate.SafetyRatings)}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: p.Name, Name: p.Name, Input: p.Args})
		}
	}
	return out, nil
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// SafetyFilterError reports a prompt or response blocked by Gemini's safety
// filters. Use errors.As to detect it.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked, e.g. "FinishReasonSafety".
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
