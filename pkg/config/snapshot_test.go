package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

func TestDefault_PassesValidation(t *testing.T) {
	// Given: the baseline snapshot
	snap := Default()

	// Then: it must validate cleanly, since Manager starts from it
	require.NoError(t, Validate(snap))
}

func TestManager_Update_RejectsImmutableFields(t *testing.T) {
	// Given: a manager holding the default snapshot
	m := NewManager(Default())
	before := m.Get()

	// When: a patch touches embedding_model
	model := "other-model"
	_, err := m.Update(Patch{EmbeddingModel: &model})

	// Then: it fails with ErrImmutableField and Get() is unchanged
	require.Error(t, err)
	var baseErr *ragerrors.BaseError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, ragerrors.ErrorTypeImmutableField, baseErr.Type)
	assert.Equal(t, before, m.Get())
}

func TestManager_Update_TransactionalOnRejectedPatch(t *testing.T) {
	// Given: a manager holding the default snapshot
	m := NewManager(Default())
	before := m.Get()

	// When: an invalid patch is submitted (overlap >= size)
	size, overlap := 1000, 1500
	_, err := m.Update(Patch{ChunkSize: &size, ChunkOverlap: &overlap})

	// Then: the update is rejected and Get() stays byte-identical (spec §8)
	require.Error(t, err)
	assert.Equal(t, before, m.Get())
}

func TestManager_Update_AppliesValidPatch(t *testing.T) {
	// Given: a manager holding the default snapshot
	m := NewManager(Default())

	// When: a valid patch raises top_k
	topK := 10
	next, err := m.Update(Patch{TopK: &topK})

	// Then: Get() reflects the new value
	require.NoError(t, err)
	assert.Equal(t, 10, next.TopK)
	assert.Equal(t, 10, m.Get().TopK)
}

func TestValidate_ChunkOverlapMustBeLessThanChunkSize(t *testing.T) {
	snap := Default()
	snap.ChunkSize = 300
	snap.ChunkOverlap = 299
	require.NoError(t, Validate(snap))

	snap.ChunkOverlap = 300
	require.Error(t, Validate(snap))
}

func TestValidate_RangeBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"chunk_size too low", func(s *Snapshot) { s.ChunkSize = 199 }},
		{"chunk_size too high", func(s *Snapshot) { s.ChunkSize = 2001 }},
		{"top_k zero", func(s *Snapshot) { s.TopK = 0 }},
		{"top_k too high", func(s *Snapshot) { s.TopK = 21 }},
		{"similarity_threshold negative", func(s *Snapshot) { s.SimilarityThreshold = -0.1 }},
		{"temperature too high", func(s *Snapshot) { s.Temperature = 1.1 }},
		{"max_tokens zero", func(s *Snapshot) { s.MaxTokens = 0 }},
		{"context_window too low", func(s *Snapshot) { s.ContextWindow = 511 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := Default()
			tc.mutate(&snap)
			assert.Error(t, Validate(snap))
		})
	}
}

func TestManager_SaveAndLoad_RoundTrip(t *testing.T) {
	// Given: a manager with a non-default top_k, saved to a temp file
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	m := NewManager(Default())
	topK := 7
	_, err := m.Update(Patch{TopK: &topK})
	require.NoError(t, err)
	require.NoError(t, m.Save(path))

	// When: a fresh manager loads that file
	m2 := NewManager(Default())
	require.NoError(t, m2.Load(path))

	// Then: the loaded snapshot matches what was saved
	assert.Equal(t, 7, m2.Get().TopK)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
