package rag

import (
	"context"
	"fmt"
	"strings"
)

const refusalAnswer = "The provided documents do not contain information about this topic."

// PromptConfig carries the prompt-shaping fields of the Config
// snapshot (spec §4.8 step 3, §6.2 context_window/context_chunk_chars).
type PromptConfig struct {
	ContextChunkChars int
	Temperature       float64
	MaxTokens         int
}

// QueryOrchestrator retrieves context, builds a grounded prompt, and
// calls the Generator (spec §4.8).
type QueryOrchestrator struct {
	retriever *Retriever
	generator Generator
}

// NewQueryOrchestrator wires the orchestrator over a shared Retriever
// and Generator.
func NewQueryOrchestrator(retriever *Retriever, generator Generator) *QueryOrchestrator {
	return &QueryOrchestrator{retriever: retriever, generator: generator}
}

// Answer implements spec §4.8.
func (o *QueryOrchestrator) Answer(ctx context.Context, query string, opts AnswerOptions, retrieveOpts RetrieveOptions, promptCfg PromptConfig) (QueryResult, error) {
	hits, err := o.retriever.Retrieve(ctx, query, retrieveOpts)
	if err != nil {
		return QueryResult{}, err
	}

	if len(hits) == 0 {
		return QueryResult{
			Query:      query,
			Answer:     refusalAnswer,
			Sources:    []Source{},
			ModelID:    o.generator.ModelID(),
			Confidence: 0,
		}, nil
	}

	prompt := BuildPrompt(query, hits, promptCfg)

	result, err := o.generator.Generate(ctx, prompt, GenerateParams{
		Temperature: promptCfg.Temperature,
		MaxTokens:   promptCfg.MaxTokens,
	})
	if err != nil {
		return QueryResult{}, newBackendUnavailableError("answer", "generator", err)
	}

	confidence := maxSimilarity(hits)
	sources := buildSources(hits)

	qr := QueryResult{
		Query:           query,
		Answer:          result.Text,
		Sources:         sources,
		ModelID:         o.generator.ModelID(),
		TokensGenerated: result.TokensGenerated,
		Confidence:      confidence,
	}

	if opts.IncludeChunks {
		for _, h := range hits {
			qr.RetrievedChunks = append(qr.RetrievedChunks, h.Text)
		}
	}

	return qr, nil
}

func maxSimilarity(hits []RetrievalHit) float32 {
	var max float32
	for _, h := range hits {
		if h.Similarity > max {
			max = h.Similarity
		}
	}
	if max < 0 {
		return 0
	}
	if max > 1 {
		return 1
	}
	return max
}

func buildSources(hits []RetrievalHit) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			DocID:      h.DocID,
			ChunkIndex: h.ChunkIndex,
			Heading:    h.Metadata.Heading,
			Similarity: h.Similarity,
			Excerpt:    excerpt(h.Text, 200),
		}
	}
	return sources
}

func excerpt(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// BuildPrompt is the pure, testable prompt template of spec §4.8 step
// 3: a system instruction, a numbered context block in descending
// similarity order, a user block with the raw query, and an answer
// cue.
func BuildPrompt(query string, hits []RetrievalHit, cfg PromptConfig) string {
	chars := cfg.ContextChunkChars
	if chars <= 0 {
		chars = 2000
	}

	var b strings.Builder
	b.WriteString("You are a careful assistant that answers only from the context below. ")
	b.WriteString("Do not use outside knowledge. If the context does not contain the answer, ")
	b.WriteString("say plainly that you do not know.\n\n")
	b.WriteString("Context:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[Source %d]: %s\n", i+1, excerpt(h.Text, chars))
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")

	return b.String()
}
