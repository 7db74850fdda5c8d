package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Embedder turns texts into vectors, one per text and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CachedEmbedder memoizes another Embedder in Redis.
//
// Entries are keyed by the SHA-256 of the namespace (normally the embedding
// model name) and the text, and expire after TTL. Redis failures are logged
// and the call falls through to the wrapped embedder, so a cache outage
// never fails ingestion or retrieval.
type CachedEmbedder struct {
	inner     Embedder
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewCachedEmbedder(inner Embedder, client *redis.Client, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, client: client, namespace: namespace, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warn().Err(err).Int("texts", len(texts)).Msg("embedding cache unavailable, embedding directly")
		return c.inner.Embed(ctx, texts)
	}

	var missIdx []int
	var missTexts []string
	for i, v := range cached {
		if s, ok := v.(string); ok {
			if vec, ok := decodeVector([]byte(s)); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	log.Debug().Int("hits", len(texts)-len(missIdx)).Int("misses", len(missIdx)).Msg("embedding cache lookup")
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to store embeddings in cache")
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.namespace + "\x00" + text))
	return "llmflow:emb:" + hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, true
}
