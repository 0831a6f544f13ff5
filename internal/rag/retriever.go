package rag

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Retriever embeds a query, searches the VectorStore, and applies
// threshold filtering and dedup (spec §4.6).
type Retriever struct {
	embedder Embedder
	store    VectorStore

	embedGroup singleflight.Group
}

// NewRetriever wires a Retriever over shared Embedder/VectorStore
// instances (spec §9: constructed once, shared across requests).
func NewRetriever(embedder Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// RetrieveOptions parametrizes Retrieve. A zero TopK is treated as 1 and
// a zero SimilarityThreshold disables filtering; callers fill both from
// the Config snapshot captured at request entry (spec §5).
type RetrieveOptions struct {
	TopK                int
	SimilarityThreshold float32
}

// Retrieve implements spec §4.6 steps 1-4.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]RetrievalHit, error) {
	if query == "" {
		return nil, newValidationError("retrieve", "query must not be empty")
	}

	// Concurrent requests for the same query text share one embedding
	// call instead of each paying the backend round trip.
	vecAny, err, _ := r.embedGroup.Do(query, func() (interface{}, error) {
		vecs, err := r.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, nil
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, newBackendUnavailableError("retrieve", "embedder", err)
	}
	vec, ok := vecAny.([]float32)
	if !ok {
		return nil, newInternalError("retrieve", nil)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 1
	}

	storeHits, err := r.store.Search(ctx, vec, topK, nil)
	if err != nil {
		return nil, newInternalError("retrieve", err)
	}

	hits := make([]RetrievalHit, 0, len(storeHits))
	seen := make(map[string]struct{}, len(storeHits))
	for _, h := range storeHits {
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		hits = append(hits, RetrievalHit{
			ChunkID:    h.ID,
			DocID:      h.DocID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Metadata:   h.Metadata,
			Similarity: h.Similarity,
		})
	}

	return filterByThreshold(hits, opts.SimilarityThreshold), nil
}

// filterByThreshold drops hits under the threshold. Retrieval
// returning no hits above threshold is the "insufficient context"
// condition of spec §7's concrete scenario: QueryOrchestrator.Answer
// must see an empty slice so it short-circuits to the deterministic
// refusal answer instead of grounding the generator call on
// below-threshold context.
func filterByThreshold(hits []RetrievalHit, threshold float32) []RetrievalHit {
	if threshold <= 0 {
		return hits
	}
	kept := make([]RetrievalHit, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}
