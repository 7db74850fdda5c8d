package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/llm-workflows/graph"
	"github.com/dshills/llm-workflows/graph/emit"
	"github.com/dshills/llm-workflows/graph/model"
	"github.com/dshills/llm-workflows/graph/model/anthropic"
	"github.com/dshills/llm-workflows/graph/model/google"
	"github.com/dshills/llm-workflows/graph/model/openai"
	"github.com/dshills/llm-workflows/graph/store"
	"github.com/dshills/llm-workflows/internal/config"
	"github.com/dshills/llm-workflows/rag"
)

// app holds the collaborators shared by every command: models, stores,
// observability and the resources that need closing on exit.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *graph.PrometheusMetrics
	cost     *graph.CostTracker
	events   *emit.BufferedEmitter
	emitter  emit.Emitter
	emb      rag.Embedder
	closers  []func() error

	// deleters drop finished runs from in-memory run stores.
	deleters []store.RunDeleter
}

func newApp(cfg *config.Config) *app {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		cost:     graph.NewCostTracker("USD"),
		events:   emit.NewBufferedEmitter(),
	}
	a.metrics = graph.NewPrometheusMetrics(a.registry)

	emitters := []emit.Emitter{emit.NewLoggerEmitter(log.Logger), a.events}
	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "llmflow"))),
		)
		otel.SetTracerProvider(tp)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("llmflow")))
		a.onClose(func() error { return tp.Shutdown(context.Background()) })
	}
	a.emitter = emit.NewMultiEmitter(emitters...)
	return a
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition and logs the
// accumulated model cost.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	in, out := a.cost.TokenUsage()
	if in > 0 || out > 0 {
		log.Info().
			Int64("tokens_in", in).
			Int64("tokens_out", out).
			Float64("cost_usd", a.cost.TotalCost()).
			Msg("model usage")
	}
}

// chatModel returns the configured provider's model at the given
// temperature.
func (a *app) chatModel(temperature float64) (model.ChatModel, error) {
	llm := a.cfg.LLM
	key := llm.APIKey()
	if key == "" {
		return nil, errors.Errorf("no API key configured for provider %s", llm.Provider)
	}
	switch llm.Provider {
	case "openai":
		return openai.NewChatModel(key, llm.Model, openai.WithTemperature(temperature), openai.WithMaxTokens(llm.MaxTokens)), nil
	case "anthropic":
		return anthropic.NewChatModel(key, llm.Model, anthropic.WithTemperature(temperature), anthropic.WithMaxTokens(llm.MaxTokens)), nil
	case "google":
		return google.NewChatModel(key, llm.Model, google.WithTemperature(temperature)), nil
	default:
		return nil, errors.Errorf("unknown provider %q", llm.Provider)
	}
}

// lowAndHigh returns the classification and explanation models.
func (a *app) lowAndHigh() (model.ChatModel, model.ChatModel, error) {
	low, err := a.chatModel(model.LowVariability)
	if err != nil {
		return nil, nil, err
	}
	high, err := a.chatModel(model.HighVariability)
	if err != nil {
		return nil, nil, err
	}
	return low, high, nil
}

// embedder returns the OpenAI embedder, fronted by the Redis cache when one
// is configured. An unreachable cache is logged and used anyway: lookups
// then fall through to the embedder. The embedder is built once and shared
// by every vector store.
func (a *app) embedder(ctx context.Context) (rag.Embedder, error) {
	if a.emb != nil {
		return a.emb, nil
	}
	emb, err := a.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	a.emb = emb
	return emb, nil
}

func (a *app) newEmbedder(ctx context.Context) (rag.Embedder, error) {
	if a.cfg.LLM.OpenAIAPIKey == "" {
		return nil, errors.New("embeddings need an OpenAI API key (OPENAI_API_KEY)")
	}
	var emb rag.Embedder = openai.NewEmbedder(a.cfg.LLM.OpenAIAPIKey, a.cfg.LLM.EmbeddingModel)

	cache := a.cfg.Cache
	if cache.RedisAddr == "" {
		return emb, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cache.RedisAddr,
		Password: cache.RedisPassword,
		DB:       cache.RedisDB,
	})
	a.onClose(client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cache.RedisAddr).Msg("embedding cache unreachable")
	}
	return rag.NewCachedEmbedder(emb, client, a.cfg.LLM.EmbeddingModel, cache.TTL), nil
}

// vectorStore opens the configured backend for collection.
func (a *app) vectorStore(ctx context.Context, collection string) (rag.VectorStore, error) {
	emb, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	vec := a.cfg.Vector
	switch vec.Backend {
	case "pgvector":
		st, err := rag.NewPGVectorStore(ctx, vec.URL, collection, vec.Dimensions, emb)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { st.Close(); return nil })
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return rag.NewMemoryVectorStore(emb), nil
	}
}

func (a *app) splitter() *rag.RecursiveSplitter {
	return rag.NewRecursiveSplitter(a.cfg.Vector.ChunkSize, a.cfg.Vector.ChunkOverlap)
}

// seed ingests text files into st.
func (a *app) seed(ctx context.Context, st rag.VectorStore, paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		doc, err := rag.LoadTextFile(path)
		if err != nil {
			return err
		}
		ids, err := rag.Ingest(ctx, st, a.splitter(), doc)
		if err != nil {
			return errors.Wrapf(err, "ingest %s", path)
		}
		log.Info().Str("file", path).Int("chunks", len(ids)).Msg("ingested")
	}
	return nil
}

// engineOptions applies the engine config. Retries are attached to the
// nodes that call a model.
func (a *app) engineOptions(modelNodes ...string) []graph.Option {
	eng := a.cfg.Engine
	opts := []graph.Option{
		graph.WithDefaultNodeTimeout(eng.NodeTimeout),
		graph.WithMetrics(a.metrics),
		graph.WithCostTracker(a.cost),
	}
	if eng.Retries > 0 {
		for _, id := range modelNodes {
			opts = append(opts, graph.WithNodePolicy(id, graph.NodePolicy{
				RetryPolicy: &graph.RetryPolicy{
					MaxAttempts: eng.Retries + 1,
					BaseDelay:   eng.RetryBaseDelay,
					MaxDelay:    eng.RetryMaxDelay,
					Retryable: func(err error) bool {
						code := graph.ErrorCode(err)
						return code == graph.CodeNodeFailed || code == graph.CodeNodeTimeout
					},
				},
			}))
		}
	}
	return opts
}

// openStore opens the configured run store for state type S.
func openStore[S any](a *app) (store.Store[S], error) {
	st, closeFn, err := store.Open[S](a.cfg.Store.Backend, a.cfg.Store.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", a.cfg.Store.Backend)
	}
	a.onClose(closeFn)
	if d, ok := st.(store.RunDeleter); ok {
		a.deleters = append(a.deleters, d)
	}
	return st, nil
}

// forgetRun drops runID from every in-memory run store. Persistent backends
// keep their history.
func (a *app) forgetRun(ctx context.Context, runID string) {
	for _, d := range a.deleters {
		if err := d.DeleteRun(ctx, runID); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("drop run state")
		}
	}
}
