package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// PGVectorStore stores documents in PostgreSQL with the pgvector extension.
// Each collection lives in its own table, llmflow_<collection>, ranked by
// cosine distance like MemoryVectorStore.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	embedder   Embedder
	table      string
	dimensions int
}

// NewPGVectorStore connects to url and returns a store for collection.
// dimensions must match the embedder's output, e.g. 1536 for
// text-embedding-3-small. Call EnsureSchema before first use.
func NewPGVectorStore(ctx context.Context, url, collection string, dimensions int, embedder Embedder) (*PGVectorStore, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("rag: invalid collection name %q", collection)
	}
	if dimensions <= 0 {
		return nil, errors.New("rag: dimensions must be positive")
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rag: connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rag: ping postgres: %w", err)
	}

	return &PGVectorStore{
		pool:       pool,
		embedder:   embedder,
		table:      pgx.Identifier{"llmflow_" + collection}.Sanitize(),
		dimensions: dimensions,
	}, nil
}

// EnsureSchema creates the vector extension and the collection table.
func (p *PGVectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, p.table, p.dimensions),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("rag: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PGVectorStore) Add(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("rag: embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, p.table)

	ids := make([]string, len(docs))
	batch := &pgx.Batch{}
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("rag: encode metadata: %w", err)
		}
		if d.Metadata == nil {
			meta = []byte("{}")
		}
		batch.Queue(query, d.ID, d.Content, string(meta), pgvector.NewVector(vecs[i]))
	}

	results := p.pool.SendBatch(ctx, batch)
	for range docs {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("rag: insert documents: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("rag: insert documents: %w", err)
	}

	log.Debug().Str("table", p.table).Int("documents", len(docs)).Msg("stored documents")
	return ids, nil
}

func (p *PGVectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, errors.New("rag: k must be positive")
	}

	vecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for 1 query", len(vecs))
	}

	rows, err := p.pool.Query(ctx,
		searchQuery(p.table),
		pgvector.NewVector(vecs[0]), k)
	if err != nil {
		return nil, fmt.Errorf("rag: similarity search: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var meta []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &meta); err != nil {
			return nil, fmt.Errorf("rag: scan document: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("rag: decode metadata of %s: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: similarity search: %w", err)
	}
	return docs, nil
}

// Drop removes the collection table.
func (p *PGVectorStore) Drop(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+p.table)
	return err
}

func (p *PGVectorStore) Close() {
	p.pool.Close()
}

// searchQuery orders by pgvector's cosine distance operator.
func searchQuery(table string) string {
	return fmt.Sprintf(`SELECT id, content, metadata FROM %s ORDER BY embedding <=> $1, id LIMIT $2`, table)
}
