// Package rag implements document ingestion and retrieval: loading text,
// recursive chunking, embedding and similarity search over a vector store.
package rag

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Document is a unit of retrievable text with optional metadata.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// String renders the content followed by the metadata in key order, e.g.
// "Claims are filed online. {chunk=0 source=faq.txt}".
func (d Document) String() string {
	if len(d.Metadata) == 0 {
		return d.Content
	}
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + d.Metadata[k]
	}
	return d.Content + " {" + strings.Join(pairs, " ") + "}"
}

// LoadTextFile reads a whole file as one Document with a "source" metadata
// entry holding path.
func LoadTextFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("rag: load %s: %w", path, err)
	}
	return Document{Content: string(data), Metadata: map[string]string{"source": path}}, nil
}

// Retriever returns the documents relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string) ([]Document, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string) ([]Document, error) {
	return f(ctx, query)
}

// DefaultK is the number of documents StoreRetriever returns when K is zero.
const DefaultK = 4

// StoreRetriever retrieves the K nearest documents from a VectorStore.
type StoreRetriever struct {
	Store VectorStore
	K     int
}

// Retrieve returns at most K documents, never nil.
func (r StoreRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	k := r.K
	if k <= 0 {
		k = DefaultK
	}
	docs, err := r.Store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Ingest splits docs into chunks and adds them to store. It returns the IDs
// of the stored chunks in order.
func Ingest(ctx context.Context, store VectorStore, splitter *RecursiveSplitter, docs ...Document) ([]string, error) {
	if err := splitter.Validate(); err != nil {
		return nil, err
	}
	chunks := splitter.SplitDocuments(docs)
	if len(chunks) == 0 {
		return []string{}, nil
	}
	ids, err := store.Add(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("rag: ingest %d chunks: %w", len(chunks), err)
	}
	return ids, nil
}
