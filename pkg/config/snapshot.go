package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

// Snapshot is the immutable set of runtime parameters described in
// spec §6.2. Mutation never happens in place; Manager.Update builds a
// new Snapshot and publishes it atomically.
type Snapshot struct {
	Enabled bool `json:"enabled"`

	ChunkSize      int `json:"chunk_size"`
	ChunkOverlap   int `json:"chunk_overlap"`
	MinChunkSize   int `json:"min_chunk_size"`
	EmbedBatchSize int `json:"embed_batch_size"`

	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	VectorDBPath       string `json:"vector_db_path"`
	CollectionName     string `json:"collection_name"`

	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`

	GeneratorEndpoint string  `json:"generator_endpoint"`
	GeneratorModel    string  `json:"generator_model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	ContextWindow     int     `json:"context_window"`
	ContextChunkChars int     `json:"context_chunk_chars"`

	// PromptVersion identifies the deterministic prompt template in use
	// (spec §4.8); bumped whenever BuildPrompt's layout changes.
	PromptVersion string `json:"prompt_version"`
}

// Default returns the baseline snapshot used when no config.json exists.
func Default() Snapshot {
	return Snapshot{
		Enabled:             true,
		ChunkSize:           512,
		ChunkOverlap:        64,
		MinChunkSize:        50,
		EmbedBatchSize:      32,
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimension:  0,
		VectorDBPath:        "./data/vectors",
		CollectionName:      "default",
		TopK:                5,
		SimilarityThreshold: 0.3,
		GeneratorEndpoint:   "http://localhost:11434",
		GeneratorModel:      "llama3",
		Temperature:         0.2,
		MaxTokens:           1024,
		ContextWindow:       4096,
		ContextChunkChars:   2000,
		PromptVersion:       "v1",
	}
}

// immutableFields cannot be changed through Update once the Manager
// holds a snapshot; changing them requires a full collection rebuild.
var immutableFields = map[string]struct{}{
	"embedding_model":     {},
	"embedding_dimension": {},
	"vector_db_path":      {},
	"collection_name":     {},
}

// Manager owns the single live Snapshot for the process. Reads are
// lock-free via an atomic pointer; writes go through updateMu so two
// concurrent Update calls cannot race each other's validate-then-swap.
type Manager struct {
	current  atomic.Pointer[Snapshot]
	updateMu sync.Mutex
	path     string
}

// NewManager constructs a Manager already holding snap.
func NewManager(snap Snapshot) *Manager {
	m := &Manager{}
	m.current.Store(&snap)
	return m
}

// Get returns the current snapshot by value; callers that capture it
// at the start of a long-running operation are isolated from
// concurrent reconfiguration, per spec §5.
func (m *Manager) Get() Snapshot {
	return *m.current.Load()
}

// Patch is a partial update; nil fields are left untouched. Using
// pointers lets Update distinguish "not supplied" from "zero value".
type Patch struct {
	Enabled *bool `json:"enabled,omitempty"`

	ChunkSize      *int `json:"chunk_size,omitempty"`
	ChunkOverlap   *int `json:"chunk_overlap,omitempty"`
	MinChunkSize   *int `json:"min_chunk_size,omitempty"`
	EmbedBatchSize *int `json:"embed_batch_size,omitempty"`

	EmbeddingModel *string `json:"embedding_model,omitempty"`
	VectorDBPath   *string `json:"vector_db_path,omitempty"`
	CollectionName *string `json:"collection_name,omitempty"`

	TopK                *int     `json:"top_k,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`

	GeneratorEndpoint *string  `json:"generator_endpoint,omitempty"`
	GeneratorModel    *string  `json:"generator_model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	ContextWindow     *int     `json:"context_window,omitempty"`
	ContextChunkChars *int     `json:"context_chunk_chars,omitempty"`
}

// Update validates patch against current, then atomically publishes a
// new snapshot. On any validation failure, Get() remains byte-identical
// to the snapshot held before the call (spec §8 "Config update is
// transactional").
func (m *Manager) Update(patch Patch) (Snapshot, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	if patch.EmbeddingModel != nil {
		return m.Get(), immutableErr("embedding_model")
	}
	if patch.VectorDBPath != nil {
		return m.Get(), immutableErr("vector_db_path")
	}
	if patch.CollectionName != nil {
		return m.Get(), immutableErr("collection_name")
	}

	next := m.Get()
	applyPatch(&next, patch)

	if err := Validate(next); err != nil {
		return m.Get(), err
	}

	m.current.Store(&next)
	return next, nil
}

func immutableErr(field string) error {
	return ragerrors.New(ragerrors.ErrorTypeImmutableField, fmt.Sprintf("field %q is immutable at runtime; changing it requires a full collection rebuild", field)).
		WithComponent("config").
		WithDetails(map[string]string{"field": field})
}

func applyPatch(s *Snapshot, p Patch) {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.ChunkSize != nil {
		s.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		s.ChunkOverlap = *p.ChunkOverlap
	}
	if p.MinChunkSize != nil {
		s.MinChunkSize = *p.MinChunkSize
	}
	if p.EmbedBatchSize != nil {
		s.EmbedBatchSize = *p.EmbedBatchSize
	}
	if p.TopK != nil {
		s.TopK = *p.TopK
	}
	if p.SimilarityThreshold != nil {
		s.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.GeneratorEndpoint != nil {
		s.GeneratorEndpoint = *p.GeneratorEndpoint
	}
	if p.GeneratorModel != nil {
		s.GeneratorModel = *p.GeneratorModel
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.ContextWindow != nil {
		s.ContextWindow = *p.ContextWindow
	}
	if p.ContextChunkChars != nil {
		s.ContextChunkChars = *p.ContextChunkChars
	}
}

// Validate enforces every numeric range and cross-field constraint of
// spec §4.1 / §6.2.
func Validate(s Snapshot) error {
	fail := func(field, msg string) error {
		return ragerrors.New(ragerrors.ErrorTypeValidation, msg).
			WithComponent("config").
			WithDetails(map[string]string{"field": field})
	}

	if s.ChunkSize < 200 || s.ChunkSize > 2000 {
		return fail("chunk_size", "chunk_size must be in [200, 2000]")
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap > 500 {
		return fail("chunk_overlap", "chunk_overlap must be in [0, 500]")
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return fail("chunk_overlap", "chunk_overlap must be strictly less than chunk_size")
	}
	if s.MinChunkSize < 50 {
		return fail("min_chunk_size", "min_chunk_size must be >= 50")
	}
	if s.MinChunkSize > s.ChunkSize {
		return fail("min_chunk_size", "min_chunk_size must be <= chunk_size")
	}
	if s.EmbedBatchSize < 1 || s.EmbedBatchSize > 256 {
		return fail("embed_batch_size", "embed_batch_size must be in [1, 256]")
	}
	if s.TopK < 1 || s.TopK > 20 {
		return fail("top_k", "top_k must be in [1, 20]")
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fail("similarity_threshold", "similarity_threshold must be in [0, 1]")
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		return fail("temperature", "temperature must be in [0, 1]")
	}
	if s.MaxTokens < 1 || s.MaxTokens > 8192 {
		return fail("max_tokens", "max_tokens must be in [1, 8192]")
	}
	if s.ContextWindow < 512 || s.ContextWindow > 32768 {
		return fail("context_window", "context_window must be in [512, 32768]")
	}
	if s.ContextChunkChars < 200 || s.ContextChunkChars > 8000 {
		return fail("context_chunk_chars", "context_chunk_chars must be in [200, 8000]")
	}

	return nil
}

// Load reads a Snapshot from path (JSON) and publishes it, failing
// validation the same way Update does. If path does not exist, the
// current in-memory snapshot is left untouched.
func (m *Manager) Load(path string) error {
	snap := m.Get()
	loader := NewFileLoader(path)
	if err := loader.Load(&snap); err != nil {
		return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "failed to load config file", err).WithComponent("config")
	}
	if err := Validate(snap); err != nil {
		return err
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	m.current.Store(&snap)
	m.path = path
	return nil
}

// Save persists the current snapshot to path as a single JSON object,
// per spec §6.3.
func (m *Manager) Save(path string) error {
	snap := m.Get()
	loader := NewFileLoader(path)
	if err := loader.Save(snap); err != nil {
		return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "failed to save config file", err).WithComponent("config")
	}
	return nil
}

// SetEmbeddingDimension is called once at startup by the owning
// Service after the Embedder reports its dimension; this field is
// read-only from the HTTP surface (spec §6.2) but must still be set
// somewhere before the first Upsert.
func (m *Manager) SetEmbeddingDimension(dim int) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	snap := m.Get()
	snap.EmbeddingDimension = dim
	m.current.Store(&snap)
}

// SetImmutable sets embedding_model/vector_db_path/collection_name at
// construction time, before the Manager is shared with handlers. It is
// not exposed through Update.
func (m *Manager) SetImmutable(embeddingModel, vectorDBPath, collectionName string) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	snap := m.Get()
	if embeddingModel != "" {
		snap.EmbeddingModel = embeddingModel
	}
	if vectorDBPath != "" {
		snap.VectorDBPath = vectorDBPath
	}
	if collectionName != "" {
		snap.CollectionName = collectionName
	}
	m.current.Store(&snap)
}
