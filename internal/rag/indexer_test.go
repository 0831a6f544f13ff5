package rag

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu      sync.Mutex
	entries map[string]VectorStoreEntry
}

func newRecordingStore() *recordingStore {
	return &recordingStore{entries: make(map[string]VectorStoreEntry)}
}

func (s *recordingStore) Upsert(ctx context.Context, entries []VectorStoreEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return len(entries), nil
}

func (s *recordingStore) Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]VectorStoreHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hits := make([]VectorStoreHit, 0, len(s.entries))
	for _, e := range s.entries {
		hits = append(hits, VectorStoreHit{ID: e.ID, DocID: e.DocID, Text: e.Text, Metadata: e.Metadata, Similarity: 1})
	}
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *recordingStore) Delete(ctx context.Context, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if filter.DocID != "" && e.DocID == filter.DocID {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *recordingStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]VectorStoreEntry)
	return nil
}

func (s *recordingStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *recordingStore) Dim() int     { return 4 }
func (s *recordingStore) Close() error { return nil }

func TestIndexer_IndexDocument_IdempotentOnRepeat(t *testing.T) {
	store := newRecordingStore()
	ix := NewIndexer(NewChunker(), &fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 10}
	text := "# Intro\nRAG combines retrieval with generation.\n\n# Details\nIt reduces hallucinations."

	report1, err := ix.IndexDocument(context.Background(), "doc.md", text, KindMarkdown, false, cfg, 32)
	require.NoError(t, err)
	count1, _ := store.Count(context.Background())

	report2, err := ix.IndexDocument(context.Background(), "doc.md", text, KindMarkdown, false, cfg, 32)
	require.NoError(t, err)
	count2, _ := store.Count(context.Background())

	assert.Equal(t, report1.ChunksCreated, report2.ChunksCreated)
	assert.Equal(t, count1, count2)
}

func TestIndexer_ClearExisting_ResetsStore(t *testing.T) {
	store := newRecordingStore()
	ix := NewIndexer(NewChunker(), &fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 10}

	_, err := ix.IndexDocument(context.Background(), "a.md", "# A\nSome content about topic A.", KindMarkdown, false, cfg, 32)
	require.NoError(t, err)

	_, err = ix.IndexDocument(context.Background(), "b.md", "# B\nSome content about topic B.", KindMarkdown, true, cfg, 32)
	require.NoError(t, err)

	count, _ := store.Count(context.Background())
	assert.Equal(t, 1, count)
}

func TestIndexer_ConcurrentDistinctDocs(t *testing.T) {
	store := newRecordingStore()
	ix := NewIndexer(NewChunker(), &fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}}, store)
	cfg := ChunkConfig{ChunkSize: 64, ChunkOverlap: 0, MinChunkSize: 10}

	docA := "# A\n" + repeatSentence(20)
	docB := "# B\n" + repeatSentence(20)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		_, errA = ix.IndexDocument(context.Background(), "a.md", docA, KindMarkdown, false, cfg, 32)
	}()
	go func() {
		defer wg.Done()
		_, errB = ix.IndexDocument(context.Background(), "b.md", docB, KindMarkdown, false, cfg, 32)
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	docIDs := make(map[string]struct{})
	for _, e := range store.entries {
		docIDs[e.DocID] = struct{}{}
	}
	assert.Equal(t, map[string]struct{}{"a.md": {}, "b.md": {}}, docIDs)
}

func repeatSentence(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += "This is a sentence about retrieval augmented generation. "
	}
	return out
}
