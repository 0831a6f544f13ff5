package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragserve/ragserve/internal/rag"
	"github.com/ragserve/ragserve/pkg/config"
	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

type fakeEmbedder struct {
	dim     int
	vec     []float32
	healthy bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, len(batch))
	for i := range batch {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedder) Dim() int                        { return f.dim }
func (f *fakeEmbedder) Healthy(ctx context.Context) bool { return f.healthy }

type fakeStore struct {
	hits  []rag.VectorStoreHit
	count int
}

func (f *fakeStore) Upsert(ctx context.Context, entries []rag.VectorStoreEntry) (int, error) {
	f.count += len(entries)
	return len(entries), nil
}
func (f *fakeStore) Search(ctx context.Context, vector []float32, topK int, filter *rag.Filter) ([]rag.VectorStoreHit, error) {
	return f.hits, nil
}
func (f *fakeStore) Delete(ctx context.Context, filter rag.Filter) error { return nil }
func (f *fakeStore) Clear(ctx context.Context) error                    { f.count = 0; return nil }
func (f *fakeStore) Count(ctx context.Context) (int, error)             { return f.count, nil }
func (f *fakeStore) Dim() int                                           { return 4 }
func (f *fakeStore) Close() error                                       { return nil }

type fakeGenerator struct {
	healthy bool
	result  rag.GenerateResult
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, params rag.GenerateParams) (rag.GenerateResult, error) {
	return g.result, nil
}
func (g *fakeGenerator) ModelID() string             { return "fake-model" }
func (g *fakeGenerator) Healthy(ctx context.Context) bool { return g.healthy }

func newTestService() (*Service, *fakeStore) {
	store := &fakeStore{}
	mgr := config.NewManager(config.Default())
	svc := New(mgr, &fakeEmbedder{dim: 4, vec: []float32{1, 0, 0, 0}, healthy: true}, store, &fakeGenerator{healthy: true})
	return svc, store
}

func TestService_Health_ReportsDisabledWhenConfigDisabled(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Config.Update(config.Patch{Enabled: boolPtr(false)})
	require.NoError(t, err)

	report := svc.Health(context.Background())
	assert.False(t, report.RAGEnabled)
	assert.Equal(t, "rag is disabled", report.Message)
}

func TestService_Health_OkWhenEverythingUp(t *testing.T) {
	svc, _ := newTestService()
	report := svc.Health(context.Background())
	assert.True(t, report.RAGEnabled)
	assert.True(t, report.VectorStoreReady)
	assert.True(t, report.GeneratorAvailable)
	assert.Equal(t, "ok", report.Message)
}

func TestService_IndexFile_RejectsWhenDisabled(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Config.Update(config.Patch{Enabled: boolPtr(false)})
	require.NoError(t, err)

	_, err = svc.IndexFile(context.Background(), "nope.md", false)
	require.Error(t, err)
}

func TestService_IndexFile_NotFoundForMissingFile(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.IndexFile(context.Background(), filepath.Join(t.TempDir(), "missing.md"), false)
	require.Error(t, err)
	var baseErr *ragerrors.BaseError
	require.ErrorAs(t, err, &baseErr)
	assert.Equal(t, ragerrors.ErrorTypeNotFound, baseErr.Type)
}

func TestService_IndexFile_IndexesMarkdownFile(t *testing.T) {
	svc, store := newTestService()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nSome body text about topics."), 0o644))

	report, err := svc.IndexFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, "indexed", report.Status)
	assert.Greater(t, report.ChunksCreated, 0)
	assert.Greater(t, store.count, 0)
}

func TestService_Query_RejectsWhenDisabled(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Config.Update(config.Patch{Enabled: boolPtr(false)})
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), "what is this", 0, false)
	require.Error(t, err)
}

func TestService_Query_ReturnsRefusalOnEmptyStore(t *testing.T) {
	svc, _ := newTestService()
	result, err := svc.Query(context.Background(), "what is this about", 0, false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Answer)
}

func TestService_Clear_ResetsStore(t *testing.T) {
	svc, store := newTestService()
	store.count = 5
	require.NoError(t, svc.Clear(context.Background()))
	assert.Equal(t, 0, store.count)
}

func boolPtr(b bool) *bool { return &b }
