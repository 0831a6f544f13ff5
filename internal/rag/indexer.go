package rag

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// defaultEmbedMaxInflight bounds how many embed batches run concurrently
// across distinct documents (spec §7 "embed_max_inflight, default 2");
// within one document, batches are still submitted in order.
const defaultEmbedMaxInflight = 2

// Indexer runs the parse -> chunk -> embed -> upsert pipeline of spec
// §4.5, serializing concurrent calls on the same doc_id with a keyed
// lock while letting distinct documents proceed in parallel, bounded by
// an overall embed concurrency cap.
type Indexer struct {
	chunker  *Chunker
	embedder Embedder
	store    VectorStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	embedSem *semaphore.Weighted
}

// NewIndexer wires an Indexer over shared components.
func NewIndexer(chunker *Chunker, embedder Embedder, store VectorStore) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		locks:    make(map[string]*sync.Mutex),
		embedSem: semaphore.NewWeighted(defaultEmbedMaxInflight),
	}
}

func (ix *Indexer) lockFor(docID string) *sync.Mutex {
	ix.locksMu.Lock()
	defer ix.locksMu.Unlock()
	l, ok := ix.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[docID] = l
	}
	return l
}

// IndexDocument implements spec §4.5.
func (ix *Indexer) IndexDocument(ctx context.Context, docID, text string, kind DocumentKind, clearExisting bool, cfg ChunkConfig, embedBatchSize int) (IndexReport, error) {
	began := time.Now()

	lock := ix.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	if clearExisting {
		if err := ix.store.Clear(ctx); err != nil {
			return IndexReport{}, newInternalError("index_document", err)
		}
	} else {
		// Open question resolved per spec.md §9: re-indexing the same
		// doc_id replaces its prior chunks rather than coexisting with
		// them.
		existing, err := ix.store.Count(ctx)
		if err == nil && existing > 0 {
			if err := ix.store.Delete(ctx, Filter{DocID: docID}); err != nil {
				return IndexReport{}, newInternalError("index_document", err)
			}
		}
	}

	chunks, err := ix.chunkInput(docID, text, kind, cfg)
	if err != nil {
		return IndexReport{}, err
	}

	if embedBatchSize <= 0 {
		embedBatchSize = 32
	}

	upserted := 0
	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		batchEnd := batchStart + embedBatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		if err := ix.embedSem.Acquire(ctx, 1); err != nil {
			return IndexReport{}, newInternalError("index_document", err)
		}
		vecs, embedErr := ix.embedder.Embed(ctx, texts)
		ix.embedSem.Release(1)
		if embedErr != nil {
			return IndexReport{}, newBackendUnavailableError("index_document", "embedder", embedErr)
		}
		if len(vecs) != len(batch) {
			return IndexReport{}, newInternalError("index_document", nil)
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}

		entries := make([]VectorStoreEntry, len(batch))
		for i, c := range batch {
			entries[i] = VectorStoreEntry{
				ID:         c.ChunkID,
				Vector:     c.Embedding,
				Metadata:   c.Metadata,
				Text:       c.Text,
				DocID:      c.DocID,
				ChunkIndex: c.ChunkIndex,
			}
		}

		n, upsertErr := ix.store.Upsert(ctx, entries)
		upserted += n
		if upsertErr != nil {
			return IndexReport{DocID: docID, ChunksCreated: upserted, BytesIn: len(text), ElapsedMS: time.Since(began).Milliseconds()}, newInternalError("index_document", upsertErr)
		}
	}

	return IndexReport{
		DocID:         docID,
		ChunksCreated: upserted,
		BytesIn:       len(text),
		ElapsedMS:     time.Since(began).Milliseconds(),
	}, nil
}

func (ix *Indexer) chunkInput(docID, text string, kind DocumentKind, cfg ChunkConfig) ([]Chunk, error) {
	if kind == KindJSONBlocks {
		blocks, err := parseJSONBlocks(text)
		if err != nil {
			return nil, newValidationError("index_document", "invalid json-blocks document")
		}
		return ix.chunker.ChunkJSONBlocks(docID, blocks, cfg)
	}
	return ix.chunker.ChunkDocument(docID, text, cfg)
}

// parseJSONBlocks decodes a json-blocks document: a JSON array of
// {text, heading?, page_number?} objects (spec §4.2).
func parseJSONBlocks(text string) ([]JSONBlock, error) {
	var blocks []JSONBlock
	if err := json.Unmarshal([]byte(text), &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
