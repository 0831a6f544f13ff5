package rag

import "context"

// Embedder turns text into fixed-dimension, L2-normalized vectors
// (spec §4.3). Implementations must be safe under concurrent calls and
// must batch internally to whatever size suits the backend; the
// Indexer additionally caps batch size via config.embed_batch_size.
type Embedder interface {
	Embed(ctx context.Context, batch []string) ([][]float32, error)
	Dim() int
}

// VectorStoreEntry is one row passed to VectorStore.Upsert.
type VectorStoreEntry struct {
	ID         string
	Vector     []float32
	Metadata   ChunkMetadata
	Text       string
	DocID      string
	ChunkIndex int
}

// Filter selects a subset of stored entries for Delete. Exactly one of
// DocID or IDs should be set.
type Filter struct {
	DocID string
	IDs   []string
}

// VectorStoreHit is one row returned by VectorStore.Search.
type VectorStoreHit struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	Metadata   ChunkMetadata
	Similarity float32
}

// VectorStore is the persistent ANN index of (id, vector, metadata,
// text) described in spec §4.4. It exclusively owns persisted chunk
// rows; every other component reaches chunk content only through this
// interface.
type VectorStore interface {
	Upsert(ctx context.Context, entries []VectorStoreEntry) (int, error)
	Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]VectorStoreHit, error)
	Delete(ctx context.Context, filter Filter) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Dim() int
	Close() error
}

// GenerateParams bounds a single Generate call (spec §4.7).
type GenerateParams struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// GenerateResult is a completed generation.
type GenerateResult struct {
	Text            string
	TokensGenerated int
}

// Generator is a prompted completion backend (spec §4.7). Callers must
// pass a context with a deadline; implementations must honor
// cancellation and must not fabricate output when the backend is
// unreachable.
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (GenerateResult, error)
	ModelID() string
	Healthy(ctx context.Context) bool
}
