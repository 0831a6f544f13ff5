package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"

	"github.com/ragserve/ragserve/internal/rag"
	ragerrors "github.com/ragserve/ragserve/pkg/errors"
	"github.com/ragserve/ragserve/pkg/utils"
)

var chunksBucket = []byte("chunks")

// chunkRow is the persisted shape of a chunk row in the bbolt
// key/value store that this VectorStore "exclusively owns" per
// spec.md §3.
type chunkRow struct {
	DocID       string
	ChunkIndex  int
	Text        string
	Heading     string
	SectionPath []string
	PageNumber  int
	TotalChunks int
}

type graphMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dim     int
}

// Store implements rag.VectorStore with an in-process HNSW ANN graph
// (github.com/coder/hnsw) fronting a bbolt key/value store that owns
// the persisted chunk rows, guarded by an advisory directory lock so
// two processes never open the same vector_db_path concurrently.
type Store struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	db    *bolt.DB
	lock  *flock.Flock
	dim   int
	path  string

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// Open opens (or creates) a persistent vector store at dir, fixed to
// dimension dim for the collection's lifetime (spec.md §3 invariant:
// "fixed D per collection lifetime").
func Open(dir string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, ragerrors.New(ragerrors.ErrorTypeValidation, "embedding dimension must be positive").
			WithComponent("vector").WithOperation("open")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "create vector_db_path directory", err).
			WithComponent("vector").WithOperation("open")
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "acquire vector store lock", err).
			WithComponent("vector").WithOperation("open")
	}
	if !locked {
		return nil, ragerrors.New(ragerrors.ErrorTypeBackendUnavailable, "vector_db_path is already open by another process").
			WithComponent("vector").WithOperation("open")
	}

	db, err := bolt.Open(filepath.Join(dir, "chunks.bbolt"), 0o600, nil)
	if err != nil {
		_ = lock.Unlock()
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "open chunk store", err).
			WithComponent("vector").WithOperation("open")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chunksBucket)
		return err
	}); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "initialize chunk bucket", err).
			WithComponent("vector").WithOperation("open")
	}

	s := &Store{
		db:     db,
		lock:   lock,
		dim:    dim,
		path:   dir,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}

	if err := s.loadGraph(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "load vector index", err).
			WithComponent("vector").WithOperation("open")
	}

	return s, nil
}

func (s *Store) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

func (s *Store) indexPath() string { return filepath.Join(s.path, "index.hnsw") }
func (s *Store) metaPath() string  { return filepath.Join(s.path, "index.hnsw.meta") }

func (s *Store) loadGraph() error {
	s.graph = s.newGraph()

	metaFile, err := os.Open(s.metaPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer metaFile.Close()

	var meta graphMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode index metadata: %w", err)
	}
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}

	indexFile, err := os.Open(s.indexPath())
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer indexFile.Close()

	if err := s.graph.Import(bufio.NewReader(indexFile)); err != nil {
		return fmt.Errorf("import index graph: %w", err)
	}
	return nil
}

// persist writes the HNSW graph and its ID-mapping metadata atomically.
// Caller must hold s.mu for writing.
func (s *Store) persist() error {
	tmpIndex := s.indexPath() + ".tmp"
	f, err := os.Create(tmpIndex)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndex)
		return fmt.Errorf("export index graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndex)
		return err
	}
	if err := os.Rename(tmpIndex, s.indexPath()); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}

	tmpMeta := s.metaPath() + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	meta := graphMeta{IDMap: s.idMap, NextKey: s.nextKey, Dim: s.dim}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(tmpMeta)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(tmpMeta)
		return err
	}
	return os.Rename(tmpMeta, s.metaPath())
}

// Upsert implements rag.VectorStore.
func (s *Store) Upsert(ctx context.Context, entries []rag.VectorStoreEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != s.dim {
			return 0, ragerrors.New(ragerrors.ErrorTypeDimensionMismatch,
				fmt.Sprintf("vector dimension %d does not match collection dimension %d", len(e.Vector), s.dim)).
				WithComponent("vector").WithOperation("upsert")
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		for _, e := range entries {
			row := chunkRow{
				DocID:       e.DocID,
				ChunkIndex:  e.ChunkIndex,
				Text:        e.Text,
				Heading:     e.Metadata.Heading,
				SectionPath: e.Metadata.SectionPath,
				PageNumber:  e.Metadata.PageNumber,
				TotalChunks: e.Metadata.TotalChunks,
			}
			if err := encodeRow(b, e.ID, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "persist chunk rows", err).
			WithComponent("vector").WithOperation("upsert")
	}

	for _, e := range entries {
		// Lazy deletion on overwrite: orphan the old graph node rather
		// than remove it, matching coder/hnsw's documented limitation
		// around deleting the last node in a graph.
		if oldKey, exists := s.idMap[e.ID]; exists {
			delete(s.keyMap, oldKey)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[e.ID] = key
		s.keyMap[key] = e.ID
	}

	if err := s.persist(); err != nil {
		slog.Warn("vector_store_persist_failed", "error", err)
	}

	return len(entries), nil
}

// Search implements rag.VectorStore.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, filter *rag.Filter) ([]rag.VectorStoreHit, error) {
	if len(vector) != s.dim {
		return nil, ragerrors.New(ragerrors.ErrorTypeDimensionMismatch,
			fmt.Sprintf("query vector dimension %d does not match collection dimension %d", len(vector), s.dim)).
			WithComponent("vector").WithOperation("search")
	}
	if topK <= 0 {
		topK = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 {
		return []rag.VectorStoreHit{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	// Over-fetch to leave room for filter exclusions and orphaned keys.
	fetch := topK * 4
	if fetch < topK {
		fetch = topK
	}
	nodes := s.graph.Search(query, fetch)

	var allowedIDs map[string]struct{}
	if filter != nil && len(filter.IDs) > 0 {
		allowedIDs = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			allowedIDs[id] = struct{}{}
		}
	}

	hits := make([]rag.VectorStoreHit, 0, topK)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		for _, node := range nodes {
			if len(hits) >= topK {
				break
			}
			id, ok := s.keyMap[node.Key]
			if !ok {
				continue
			}
			if allowedIDs != nil {
				if _, ok := allowedIDs[id]; !ok {
					continue
				}
			}

			row, ok, err := decodeRow(b, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if filter != nil && filter.DocID != "" && row.DocID != filter.DocID {
				continue
			}

			distance := s.graph.Distance(query, node.Value)
			hits = append(hits, rag.VectorStoreHit{
				ID:         id,
				DocID:      row.DocID,
				ChunkIndex: row.ChunkIndex,
				Text:       row.Text,
				Metadata: rag.ChunkMetadata{
					Heading:     row.Heading,
					SectionPath: row.SectionPath,
					PageNumber:  row.PageNumber,
					TotalChunks: row.TotalChunks,
				},
				Similarity: cosineScore(distance),
			})
		}
		return nil
	})
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.ErrorTypeInternal, "read chunk rows", err).
			WithComponent("vector").WithOperation("search")
	}

	return hits, nil
}

// Delete implements rag.VectorStore. An empty filter matches nothing;
// Clear is the explicit full-reset operation.
func (s *Store) Delete(ctx context.Context, filter rag.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string

	if len(filter.IDs) > 0 {
		toRemove = append(toRemove, filter.IDs...)
	} else if filter.DocID != "" {
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(chunksBucket)
			return b.ForEach(func(k, v []byte) error {
				row, err := unmarshalRow(v)
				if err != nil {
					return err
				}
				if row.DocID == filter.DocID {
					toRemove = append(toRemove, string(k))
				}
				return nil
			})
		})
		if err != nil {
			return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "scan chunk rows", err).
				WithComponent("vector").WithOperation("delete")
		}
	}

	if len(toRemove) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		for _, id := range toRemove {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "delete chunk rows", err).
			WithComponent("vector").WithOperation("delete")
	}

	for _, id := range toRemove {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}

	if err := s.persist(); err != nil {
		slog.Warn("vector_store_persist_failed", "error", err)
	}

	return nil
}

// Clear implements rag.VectorStore: drops every chunk row and rebuilds
// an empty graph.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(chunksBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(chunksBucket)
		return err
	})
	if err != nil {
		return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "clear chunk rows", err).
			WithComponent("vector").WithOperation("clear")
	}

	s.graph = s.newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0

	if err := s.persist(); err != nil {
		slog.Warn("vector_store_persist_failed", "error", err)
	}

	return nil
}

// Count implements rag.VectorStore.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap), nil
}

// Dim implements rag.VectorStore.
func (s *Store) Dim() int { return s.dim }

// Close implements rag.VectorStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(); err != nil {
		slog.Warn("vector_store_persist_failed", "error", err)
	}

	var firstErr error
	if err := s.db.Close(); err != nil {
		firstErr = err
	}
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func marshalRow(row chunkRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(row); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalRow(data []byte) (chunkRow, error) {
	var row chunkRow
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&row); err != nil {
		return chunkRow{}, err
	}
	return row, nil
}

func encodeRow(b *bolt.Bucket, id string, row chunkRow) error {
	data, err := marshalRow(row)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func decodeRow(b *bolt.Bucket, id string) (chunkRow, bool, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return chunkRow{}, false, nil
	}
	row, err := unmarshalRow(data)
	if err != nil {
		return chunkRow{}, false, err
	}
	return row, true, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// cosineScore converts coder/hnsw's cosine distance (0 identical, 2
// opposite) into a similarity score in [0, 1].
func cosineScore(distance float32) float32 {
	score := 1.0 - distance/2.0
	return utils.Clamp(score, 0, 1)
}
