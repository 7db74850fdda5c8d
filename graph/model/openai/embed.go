package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultEmbeddingModel is the embedding model used by NewEmbedder.
const DefaultEmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)

// Embedder turns text into vectors with the OpenAI embeddings API. It
// satisfies rag.Embedder.
type Embedder struct {
	modelName string
	client    embeddingClient
}

type embeddingClient interface {
	createEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// NewEmbedder creates an Embedder. An empty modelName selects
// text-embedding-3-small.
func NewEmbedder(apiKey, modelName string) *Embedder {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	return &Embedder{
		modelName: modelName,
		client:    &sdkEmbeddingClient{client: openai.NewClient(option.WithAPIKey(apiKey))},
	}
}

// Model returns the embedding model name. Cached embeddings are keyed by it.
func (e *Embedder) Model() string { return e.modelName }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.createEmbeddings(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.modelName),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embeddings: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

type sdkEmbeddingClient struct {
	client openai.Client
}

func (c *sdkEmbeddingClient) createEmbeddings(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	return c.client.Embeddings.New(ctx, params)
}
