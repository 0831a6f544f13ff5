// Package service wires the RAG components (spec.md §2 C1-C9) into the
// single Service value the control surface and the CLI both drive.
// There is exactly one Service per process; nothing here is a package
// global, per spec.md §9.
package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ragserve/ragserve/internal/rag"
	"github.com/ragserve/ragserve/pkg/config"
	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

// Service owns the live Config plus the backend clients, and wires the
// Indexer/Retriever/QueryOrchestrator that sit on top of them.
type Service struct {
	Config      *config.Manager
	Embedder    rag.Embedder
	VectorStore rag.VectorStore
	Generator   rag.Generator

	chunker      *rag.Chunker
	indexer      *rag.Indexer
	retriever    *rag.Retriever
	orchestrator *rag.QueryOrchestrator
}

// New wires a Service over already-constructed backends. Callers
// (cmd/ragserve) are responsible for opening the VectorStore and
// embedder/generator clients before calling New.
func New(cfg *config.Manager, embedder rag.Embedder, store rag.VectorStore, generator rag.Generator) *Service {
	chunker := rag.NewChunker()
	indexer := rag.NewIndexer(chunker, embedder, store)
	retriever := rag.NewRetriever(embedder, store)
	orchestrator := rag.NewQueryOrchestrator(retriever, generator)

	return &Service{
		Config:       cfg,
		Embedder:     embedder,
		VectorStore:  store,
		Generator:    generator,
		chunker:      chunker,
		indexer:      indexer,
		retriever:    retriever,
		orchestrator: orchestrator,
	}
}

// HealthReport mirrors the /api/rag/health response of spec.md §6.1.
type HealthReport struct {
	RAGEnabled              bool   `json:"rag_enabled"`
	EmbeddingsModelAvailable bool  `json:"embeddings_model_available"`
	VectorStoreReady        bool   `json:"vector_store_ready"`
	GeneratorAvailable      bool   `json:"generator_available"`
	Message                 string `json:"message"`
}

// Health implements the /health operation.
func (s *Service) Health(ctx context.Context) HealthReport {
	cfg := s.Config.Get()

	report := HealthReport{RAGEnabled: cfg.Enabled}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if healthy, ok := s.Embedder.(interface{ Healthy(context.Context) bool }); ok {
		report.EmbeddingsModelAvailable = healthy.Healthy(healthCtx)
	} else {
		report.EmbeddingsModelAvailable = true
	}

	if _, err := s.VectorStore.Count(healthCtx); err == nil {
		report.VectorStoreReady = true
	}

	report.GeneratorAvailable = s.Generator.Healthy(healthCtx)

	switch {
	case !report.RAGEnabled:
		report.Message = "rag is disabled"
	case !report.VectorStoreReady:
		report.Message = "vector store unavailable"
	case !report.EmbeddingsModelAvailable:
		report.Message = "embedding backend unavailable"
	case !report.GeneratorAvailable:
		report.Message = "generator backend unavailable"
	default:
		report.Message = "ok"
	}

	return report
}

// VectorStoreStats mirrors the vector_store block of /stats.
type VectorStoreStats struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	DBPath         string `json:"db_path"`
}

// EmbeddingModelStats mirrors the embedding_model block of /stats.
type EmbeddingModelStats struct {
	ModelName          string `json:"model_name"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Device             string `json:"device"`
}

// Stats mirrors the full /api/rag/stats response.
type Stats struct {
	VectorStore   VectorStoreStats    `json:"vector_store"`
	EmbeddingModel EmbeddingModelStats `json:"embedding_model"`
	Config        config.Snapshot     `json:"config"`
}

// Stats implements the /stats operation.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	cfg := s.Config.Get()

	count, err := s.VectorStore.Count(ctx)
	if err != nil {
		return Stats{}, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "read vector store count", err).
			WithComponent("service").WithOperation("stats")
	}

	return Stats{
		VectorStore: VectorStoreStats{
			CollectionName: cfg.CollectionName,
			DocumentCount:  count,
			DBPath:         cfg.VectorDBPath,
		},
		EmbeddingModel: EmbeddingModelStats{
			ModelName:          cfg.EmbeddingModel,
			EmbeddingDimension: cfg.EmbeddingDimension,
			Device:             "cpu",
		},
		Config: cfg,
	}, nil
}

// IndexReport mirrors the /api/rag/index response shape.
type IndexReport struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	Message       string `json:"message"`
}

// IndexFile implements the /index operation: read filePath from disk,
// dispatch on its extension (spec.md §4.2's markdown / json-blocks
// document kinds), and run it through the Indexer.
func (s *Service) IndexFile(ctx context.Context, filePath string, clearExisting bool) (IndexReport, error) {
	cfg := s.Config.Get()
	if !cfg.Enabled {
		return IndexReport{}, ragerrors.New(ragerrors.ErrorTypeValidation, "rag is disabled").
			WithComponent("service").WithOperation("index_file")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return IndexReport{}, ragerrors.New(ragerrors.ErrorTypeNotFound, "file_path does not exist").
				WithComponent("service").WithOperation("index_file").
				WithDetails(map[string]string{"file_path": filePath})
		}
		return IndexReport{}, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "read file", err).
			WithComponent("service").WithOperation("index_file")
	}

	kind, ok := rag.KindFromExtension(filepath.Ext(filePath))
	if !ok {
		return IndexReport{}, ragerrors.New(ragerrors.ErrorTypeValidation, "unsupported file kind").
			WithComponent("service").WithOperation("index_file").
			WithDetails(map[string]string{"file_path": filePath})
	}

	docID := filepath.Base(filePath)
	chunkCfg := rag.ChunkConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MinChunkSize: cfg.MinChunkSize,
	}

	report, err := s.indexer.IndexDocument(ctx, docID, string(data), kind, clearExisting, chunkCfg, cfg.EmbedBatchSize)
	if err != nil {
		return IndexReport{}, err
	}

	return IndexReport{
		Status:        "indexed",
		Filename:      docID,
		ChunksCreated: report.ChunksCreated,
		Message:       "document indexed successfully",
	}, nil
}

// Query implements the /query operation.
func (s *Service) Query(ctx context.Context, query string, topK int, includeChunks bool) (rag.QueryResult, error) {
	cfg := s.Config.Get()
	if !cfg.Enabled {
		return rag.QueryResult{}, ragerrors.New(ragerrors.ErrorTypeValidation, "rag is disabled").
			WithComponent("service").WithOperation("query")
	}
	if topK <= 0 {
		topK = cfg.TopK
	}

	retrieveOpts := rag.RetrieveOptions{
		TopK:                topK,
		SimilarityThreshold: float32(cfg.SimilarityThreshold),
	}
	promptCfg := rag.PromptConfig{
		ContextChunkChars: cfg.ContextChunkChars,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
	}

	return s.orchestrator.Answer(ctx, query, rag.AnswerOptions{TopK: topK, IncludeChunks: includeChunks}, retrieveOpts, promptCfg)
}

// Clear implements the /clear operation.
func (s *Service) Clear(ctx context.Context) error {
	return s.VectorStore.Clear(ctx)
}

// Close releases the backend resources the Service owns.
func (s *Service) Close() error {
	return s.VectorStore.Close()
}
