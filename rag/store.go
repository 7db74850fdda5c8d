package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// VectorStore stores embedded documents and answers nearest-neighbour
// queries.
type VectorStore interface {
	// Add embeds and stores docs, assigning a UUID to documents without an
	// ID, and returns the IDs in input order.
	Add(ctx context.Context, docs []Document) ([]string, error)

	// SimilaritySearch returns up to k documents nearest to query, nearest
	// first. An empty store yields an empty, non-nil slice.
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

// MemoryVectorStore keeps vectors in process memory and ranks by cosine
// similarity. Ties keep insertion order.
type MemoryVectorStore struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []memoryEntry
	index   map[string]int
}

type memoryEntry struct {
	doc Document
	vec []float32
}

func NewMemoryVectorStore(embedder Embedder) *MemoryVectorStore {
	return &MemoryVectorStore{embedder: embedder, index: make(map[string]int)}
}

func (m *MemoryVectorStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("rag: embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
		entry := memoryEntry{doc: d, vec: vecs[i]}
		if pos, ok := m.index[d.ID]; ok {
			m.entries[pos] = entry
			continue
		}
		m.index[d.ID] = len(m.entries)
		m.entries = append(m.entries, entry)
	}
	return ids, nil
}

func (m *MemoryVectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, errors.New("rag: k must be positive")
	}

	m.mu.RLock()
	empty := len(m.entries) == 0
	m.mu.RUnlock()
	if empty {
		return []Document{}, nil
	}

	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for 1 query", len(vecs))
	}
	q := vecs[0]

	m.mu.RLock()
	type scored struct {
		doc   Document
		score float64
	}
	results := make([]scored, len(m.entries))
	for i, e := range m.entries {
		results[i] = scored{doc: e.doc, score: cosine(q, e.vec)}
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if k > len(results) {
		k = len(results)
	}
	out := make([]Document, k)
	for i := range out {
		out[i] = results[i].doc
	}
	return out, nil
}

// Len returns the number of stored documents.
func (m *MemoryVectorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
