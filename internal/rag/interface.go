// Package rag defines the interfaces for the assistant's hybrid retrieval
// layer: vector storage, keyword indexing, embedding, and the combined
// retriever that grounds every user query. Concrete implementations
// (Qdrant, bleve, etc.) satisfy these interfaces so the assistant layer
// never depends on a specific backend.
package rag

import (
	"context"
)

// Record is one indexed unit of clinic knowledge: a structured row
// rendered to text, or a chunk of an uploaded document.
type Record struct {
	// ID is the unique identifier for this record.
	ID string

	// Content is the text indexed and returned for grounding.
	Content string

	// Source is the origin of the record: a table name for structured
	// rows, a document URI for knowledge chunks.
	Source string

	// Table names the logical collection this record belongs to
	// (clients, appointments, financial, knowledge).
	Table string

	// TenantID scopes the record to one clinic. Searches never cross
	// tenant boundaries.
	TenantID string

	// AccessLevel is the minimum role allowed to retrieve this record
	// (public, staff, admin).
	AccessLevel string

	// Metadata holds arbitrary key-value pairs carried through retrieval.
	Metadata map[string]string
}

// SearchResult is one retrieved record with its relevance score.
type SearchResult struct {
	Record Record

	// Score is the combined relevance in [0,1] after hybrid merging, or
	// the raw backend score before it.
	Score float32

	// Origin names the path that produced the result: semantic, keyword,
	// or hybrid after merging.
	Origin string
}

// Filter restricts a search to one tenant and the caller's clearance.
type Filter struct {
	// TenantID is required; an empty tenant matches nothing.
	TenantID string

	// AccessLevels lists the levels the caller may see. Empty means
	// public only.
	AccessLevels []string

	// Tables optionally restricts results to the named collections.
	Tables []string
}

// VectorIndex persists and searches record embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Upsert stores or updates a batch of records with their pre-computed
	// embeddings. embeddings[i] is the vector for recs[i].
	Upsert(ctx context.Context, recs []Record, embeddings [][]float32) error

	// Search returns the top-k records nearest to the query embedding,
	// restricted by the filter.
	Search(ctx context.Context, queryEmbedding []float32, f Filter, topK int) ([]SearchResult, error)

	// Delete removes records by their IDs.
	Delete(ctx context.Context, ids []string) error

	// DeleteBySource removes every record ingested from the given source.
	DeleteBySource(ctx context.Context, tenantID, source string) error

	// Close releases any resources held by the index.
	Close() error
}

// KeywordIndex provides exact-term search over the same records.
// Implementations must be safe to call from multiple goroutines.
type KeywordIndex interface {
	// Index adds or replaces a batch of records.
	Index(ctx context.Context, recs []Record) error

	// Search returns the top-k best term matches for the query,
	// restricted by the filter. Scores are normalized to [0,1] relative
	// to the best hit.
	Search(ctx context.Context, query string, f Filter, topK int) ([]SearchResult, error)

	// DeleteBySource removes every record ingested from the given source.
	DeleteBySource(ctx context.Context, tenantID, source string) error

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface the assistant uses to ground a
// query. Implementations combine embedding, vector search and keyword
// search behind one call.
type Retriever interface {
	// Retrieve returns the top-k most relevant records for the query,
	// restricted by the filter.
	Retrieve(ctx context.Context, query string, f Filter, topK int) ([]SearchResult, error)
}
