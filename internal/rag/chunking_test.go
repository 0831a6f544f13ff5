package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

func TestChunker_Determinism(t *testing.T) {
	// Given: the same document and config
	c := NewChunker()
	text := "# Intro\nRAG combines retrieval with generation.\n\n# Details\nIt reduces hallucinations."
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 50}

	// When: chunked twice
	first, err := c.ChunkDocument("doc.md", text, cfg)
	require.NoError(t, err)
	second, err := c.ChunkDocument("doc.md", text, cfg)
	require.NoError(t, err)

	// Then: the sequences (and chunk_ids) are bit-identical (spec §8)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunker_HappyPathScenario(t *testing.T) {
	// Given: the literal doc.md body from spec §8 scenario 1
	c := NewChunker()
	text := "# Intro\nRAG combines retrieval with generation.\n\n# Details\nIt reduces hallucinations."
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 50}

	// When: chunked
	chunks, err := c.ChunkDocument("doc.md", text, cfg)
	require.NoError(t, err)

	// Then: two chunks are produced, the second headed "Details"
	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].Metadata.Heading)
	assert.Equal(t, "Details", chunks[1].Metadata.Heading)
	assert.Contains(t, chunks[1].Text, "hallucinations")
}

func TestChunker_UndersizedChunksAreMergedWithinSection(t *testing.T) {
	// Given: a single section whose content is split by chunk_size into
	// several pieces well under min_chunk_size
	c := NewChunker()
	text := "# Notes\n" + strings.Repeat("word ", 10) + "\n\n" + strings.Repeat("word ", 10)
	cfg := ChunkConfig{ChunkSize: 8, ChunkOverlap: 0, MinChunkSize: 15}

	chunks, err := c.ChunkDocument("small.md", text, cfg)
	require.NoError(t, err)

	// Then: no non-final chunk is left under the floor
	for i, ch := range chunks {
		if i == len(chunks)-1 {
			continue
		}
		assert.GreaterOrEqual(t, ch.TokenEstimate, cfg.MinChunkSize)
	}
}

func TestChunker_HeadingBoundaryNeverMergedAcrossSections(t *testing.T) {
	// Given: the spec §8 scenario 1 document, where each section is far
	// under min_chunk_size
	c := NewChunker()
	text := "# Intro\nRAG combines retrieval with generation.\n\n# Details\nIt reduces hallucinations."
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 50}

	chunks, err := c.ChunkDocument("doc.md", text, cfg)
	require.NoError(t, err)

	// Then: the heading boundary is preserved rather than folded away
	// by the min_chunk_size merge
	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].Metadata.Heading)
	assert.Equal(t, "Details", chunks[1].Metadata.Heading)
}

func TestChunker_EmptyDocument(t *testing.T) {
	// Given: an empty document
	c := NewChunker()

	// When: chunked
	_, err := c.ChunkDocument("empty.md", "   \n\n  ", ChunkConfig{ChunkSize: 200, ChunkOverlap: 0, MinChunkSize: 50})

	// Then: ErrEmptyDocument is returned
	require.Error(t, err)
	var baseErr *ragerrors.BaseError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, ragerrors.ErrorTypeEmptyDocument, baseErr.Type)
}

func TestChunker_ContiguousGapFreeIndices(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("This is a sentence about retrieval augmented generation. ", 200)
	chunks, err := c.ChunkDocument("big.md", text, ChunkConfig{ChunkSize: 100, ChunkOverlap: 10, MinChunkSize: 50})
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, len(chunks), ch.Metadata.TotalChunks)
	}
}

func TestChunker_OverlapSharesTailTokens(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("Alpha beta gamma delta epsilon. ", 100)
	chunks, err := c.ChunkDocument("overlap.md", text, ChunkConfig{ChunkSize: 50, ChunkOverlap: 20, MinChunkSize: 10})
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	// Then: consecutive chunks share at least one token of overlap text
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		lastWord := prevWords[len(prevWords)-1]
		assert.Contains(t, chunks[i].Text, lastWord)
	}
}

func TestChunker_ZeroOverlapPartitionsWithoutSharedTokens(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("One two three four five six seven. ", 80)
	chunks, err := c.ChunkDocument("zero-overlap.md", text, ChunkConfig{ChunkSize: 50, ChunkOverlap: 0, MinChunkSize: 10})
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	// Then: the chunks' token estimates add up to the document's, so no
	// token appears in two chunks
	total := 0
	for _, ch := range chunks {
		total += ch.TokenEstimate
	}
	assert.Equal(t, countTokens(text), total)
}

func TestChunker_TableBlockIsAtomic(t *testing.T) {
	c := NewChunker()
	text := "# Data\n| a | b |\n|---|---|\n| 1 | 2 |\n| 3 | 4 |\n"
	chunks, err := c.ChunkDocument("table.md", text, ChunkConfig{ChunkSize: 200, ChunkOverlap: 0, MinChunkSize: 10})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "| 1 | 2 |")
}

func TestChunker_FencedCodeIsAtomic(t *testing.T) {
	c := NewChunker()
	text := "# Code\n```go\nfunc main() {\n  println(\"hi\")\n}\n```\n"
	chunks, err := c.ChunkDocument("code.md", text, ChunkConfig{ChunkSize: 200, ChunkOverlap: 0, MinChunkSize: 10})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "func main()")
}

func TestChunker_JSONBlocksPath(t *testing.T) {
	c := NewChunker()
	blocks := []JSONBlock{
		{Text: "First segment of content.", Heading: "Section A", PageNumber: 1},
		{Text: "Second segment of content.", Heading: "Section B", PageNumber: 2},
	}
	chunks, err := c.ChunkJSONBlocks("doc.json", blocks, ChunkConfig{ChunkSize: 200, ChunkOverlap: 0, MinChunkSize: 10})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}
