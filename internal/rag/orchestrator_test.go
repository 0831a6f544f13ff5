package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

type fakeGenerator struct {
	called bool
	result GenerateResult
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, params GenerateParams) (GenerateResult, error) {
	g.called = true
	if g.err != nil {
		return GenerateResult{}, g.err
	}
	return g.result, nil
}
func (g *fakeGenerator) ModelID() string            { return "test-model" }
func (g *fakeGenerator) Healthy(ctx context.Context) bool { return true }

func TestQueryOrchestrator_ShortCircuitsOnEmptyHits(t *testing.T) {
	// Given: a retriever whose store returns no hits
	store := &fakeStore{}
	retriever := NewRetriever(&fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	gen := &fakeGenerator{}
	orch := NewQueryOrchestrator(retriever, gen)

	// When: Answer is called
	result, err := orch.Answer(context.Background(), "what is Mars population", AnswerOptions{}, RetrieveOptions{TopK: 3}, PromptConfig{})

	// Then: the refusal answer is returned and Generate is NOT called (spec §8)
	require.NoError(t, err)
	assert.Equal(t, refusalAnswer, result.Answer)
	assert.Equal(t, float32(0), result.Confidence)
	assert.Empty(t, result.Sources)
	assert.False(t, gen.called)
}

func TestQueryOrchestrator_ShortCircuitsWhenAllHitsBelowThreshold(t *testing.T) {
	// Given: the store holds hits, but none clear the caller's
	// similarity_threshold (spec §7 / §8 scenario 2)
	store := &fakeStore{hits: []VectorStoreHit{
		{ID: "a", DocID: "doc", Similarity: 0.3},
		{ID: "b", DocID: "doc", Similarity: 0.2},
	}}
	retriever := NewRetriever(&fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	gen := &fakeGenerator{}
	orch := NewQueryOrchestrator(retriever, gen)

	result, err := orch.Answer(context.Background(), "what is the population of Mars in 2050?", AnswerOptions{}, RetrieveOptions{TopK: 3, SimilarityThreshold: 0.8}, PromptConfig{})

	// Then: the refusal answer is returned and Generate is NOT called
	require.NoError(t, err)
	assert.Equal(t, refusalAnswer, result.Answer)
	assert.Equal(t, float32(0), result.Confidence)
	assert.Empty(t, result.Sources)
	assert.False(t, gen.called)
}

func TestQueryOrchestrator_ConfidenceIsMaxSimilarity(t *testing.T) {
	store := &fakeStore{hits: []VectorStoreHit{
		{ID: "a", DocID: "doc", Similarity: 0.4},
		{ID: "b", DocID: "doc", Similarity: 0.8},
	}}
	retriever := NewRetriever(&fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	gen := &fakeGenerator{result: GenerateResult{Text: "an answer", TokensGenerated: 5}}
	orch := NewQueryOrchestrator(retriever, gen)

	result, err := orch.Answer(context.Background(), "q", AnswerOptions{}, RetrieveOptions{TopK: 2}, PromptConfig{})

	require.NoError(t, err)
	assert.True(t, gen.called)
	assert.Equal(t, float32(0.8), result.Confidence)
	assert.Len(t, result.Sources, 2)
}

func TestBuildPrompt_IsPureAndDeterministic(t *testing.T) {
	hits := []RetrievalHit{
		{ChunkID: "1", Text: "RAG combines retrieval with generation."},
		{ChunkID: "2", Text: "It reduces hallucinations."},
	}

	p1 := BuildPrompt("What does RAG reduce?", hits, PromptConfig{ContextChunkChars: 2000})
	p2 := BuildPrompt("What does RAG reduce?", hits, PromptConfig{ContextChunkChars: 2000})

	assert.Equal(t, p1, p2)
	assert.Contains(t, p1, "[Source 1]:")
	assert.Contains(t, p1, "[Source 2]:")
	assert.Contains(t, p1, "What does RAG reduce?")
}

func TestQueryOrchestrator_GeneratorFailureIsBackendUnavailable(t *testing.T) {
	store := &fakeStore{hits: []VectorStoreHit{{ID: "a", Similarity: 0.9}}}
	retriever := NewRetriever(&fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	gen := &fakeGenerator{err: assert.AnError}
	orch := NewQueryOrchestrator(retriever, gen)

	_, err := orch.Answer(context.Background(), "q", AnswerOptions{}, RetrieveOptions{TopK: 1}, PromptConfig{})
	require.Error(t, err)
	var baseErr *ragerrors.BaseError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, ragerrors.ErrorTypeBackendUnavailable, baseErr.Type)
}
