// Package openai adapts the OpenAI chat completion and embedding APIs to the
// model and rag interfaces.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/llm-workflows/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI's chat completion API.
//
// Transient failures (rate limits, 5xx, network errors) are retried with a
// linear backoff; everything else is returned immediately.
//
// Example:
//
//	low := openai.NewChatModel(apiKey, "gpt-4o-mini", openai.WithTemperature(model.LowVariability))
//	out, err := low.Chat(ctx, []model.Message{model.User("Am I covered for Covid-19 treatment")}, nil)
type ChatModel struct {
	modelName   string
	client      completionClient
	temperature *float64
	maxTokens   int64
	maxRetries  int
	retryDelay  time.Duration
}

// completionClient is the slice of the SDK the adapter uses.
type completionClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(m *ChatModel) { m.temperature = &t }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(m *ChatModel) { m.maxTokens = int64(n) }
}

// WithRetries sets how many times a transient failure is retried and the
// base delay between attempts. Models do not retry unless this is set.
func WithRetries(n int, delay time.Duration) Option {
	return func(m *ChatModel) {
		m.maxRetries = n
		m.retryDelay = delay
	}
}

// NewChatModel creates a ChatModel. An empty modelName selects DefaultModel.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	m := &ChatModel{
		modelName:  modelName,
		client:     newSDKClient(apiKey),
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the configured model name.
func (m *ChatModel) Model() string { return m.modelName }

func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params, err := m.buildParams(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		resp, err := m.client.createChatCompletion(ctx, params)
		if err == nil {
			return convertResponse(resp)
		}
		lastErr = err

		if !isTransientError(err) || attempt >= m.maxRetries {
			break
		}

		delay := m.retryDelay
		if isRateLimitError(err) {
			delay = m.retryDelay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}

	if m.maxRetries > 0 && isTransientError(lastErr) {
		return model.ChatOut{}, fmt.Errorf("openai: failed after %d retries: %w", m.maxRetries, lastErr)
	}
	return model.ChatOut{}, fmt.Errorf("openai: %w", lastErr)
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	if m.temperature != nil {
		params.Temperature = openai.Float(*m.temperature)
	}
	if m.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(m.maxTokens)
	}

	for _, msg := range messages {
		converted, err := convertMessage(msg)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, converted)
	}

	for _, t := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		})
	}
	return params, nil
}

func convertMessage(msg model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case model.RoleSystem:
		return openai.SystemMessage(msg.Content), nil
	case model.RoleUser:
		return openai.UserMessage(msg.Content), nil
	case model.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID), nil
	case model.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content), nil
		}
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if msg.Content != "" {
			assistant.Content.OfString = openai.String(msg.Content)
		}
		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Input)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: encode arguments of %s: %w", call.Name, err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported message role %q", msg.Role)
	}
}

func convertResponse(resp *openai.ChatCompletion) (model.ChatOut, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: response has no choices")
	}

	msg := resp.Choices[0].Message
	out := model.ChatOut{
		Text:  msg.Content,
		Model: resp.Model,
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for _, call := range msg.ToolCalls {
		input := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("openai: decode arguments of %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporary", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// sdkClient forwards to the official SDK. The SDK's own retries are disabled
// so that ChatModel's retry policy is the only one in effect.
type sdkClient struct {
	client openai.Client
}

func newSDKClient(apiKey string) *sdkClient {
	return &sdkClient{client: openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))}
}

func (c *sdkClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
