// Package indexer orchestrates C5: parse a file, embed its chunks, and
// dual-write them into the vector and BM25 indexes, with idempotent
// upserts, force-replace semantics, and the partial-failure compensation
// protocol between the two indexes.
package indexer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamaly87/codebase-rag-core/internal/cache"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/embeddings"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/parsing"
	"github.com/jamaly87/codebase-rag-core/internal/tokenize"
)

// VectorStore is the subset of vectorindex.Adapter the indexer depends
// on, narrowed to an interface so tests can substitute an in-memory fake
// for the gRPC-backed adapter.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, points []models.VectorPoint) (int, error)
	DeleteByFilter(ctx context.Context, collection, field, value string) (int, error)
	ExistsByID(ctx context.Context, collection, id string) (bool, error)
	ScrollAll(ctx context.Context, collection string) ([]models.Chunk, error)
}

// BM25Writer is the subset of bm25index.Index the indexer depends on,
// narrowed to an interface for the same reason VectorStore is: so tests
// can substitute a fake that fails on demand, which is what makes the
// compensating-delete path below reachable in a test.
type BM25Writer interface {
	RemoveByFilePath(collection, path string) int
	AddBatch(collection string, docs []struct {
		DocID   string
		Tokens  []string
		Payload models.Chunk
	}) error
	Rebuild(collection string, docs []struct {
		DocID   string
		Tokens  []string
		Payload models.Chunk
	})
	DocCount(collection string) int
	Exists(collection string) bool
}

// Indexer wires the parser, embedder, and the two index backends into the
// per-file and per-batch indexing contract.
type Indexer struct {
	vectors VectorStore
	bm25    BM25Writer
	parser  parsing.Parser
	batcher *embeddings.Batcher
	hashes  *cache.FileHashManager

	parallelism int
	fileLocks   sync.Map // (collection, path) -> *sync.Mutex
}

// New builds an Indexer from its already-constructed dependencies.
func New(vectors VectorStore, bm25Index BM25Writer, parser parsing.Parser, batcher *embeddings.Batcher, hashes *cache.FileHashManager, parallelism int) *Indexer {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Indexer{
		vectors:     vectors,
		bm25:        bm25Index,
		parser:      parser,
		batcher:     batcher,
		hashes:      hashes,
		parallelism: parallelism,
	}
}

func (idx *Indexer) lockFor(collection, path string) *sync.Mutex {
	key := collection + "\x00" + path
	v, _ := idx.fileLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// IndexFile parses, embeds, and dual-writes a single file. Two concurrent
// calls for the same (collection, path) are serialized so the second
// observes the first's writes.
func (idx *Indexer) IndexFile(ctx context.Context, collection, path string, forceUpdate bool) (models.FileIndexResult, error) {
	lock := idx.lockFor(collection, path)
	lock.Lock()
	defer lock.Unlock()

	result := models.FileIndexResult{FilePath: path}

	if !forceUpdate && idx.hashes != nil {
		needsReindex, err := idx.hashes.NeedsReindex(path)
		if err == nil && !needsReindex {
			result.Status = models.IndexStatusSkippedUnchanged
			return result, nil
		}
		// On error (e.g. the file vanished), fall through to the read
		// below, which surfaces the right error kind.
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, coreerrors.New(coreerrors.NotFound, "indexer.IndexFile", "file not found: "+path)
		}
		return result, coreerrors.Wrap(coreerrors.NotFound, "indexer.IndexFile", err)
	}

	language := parsing.DetectLanguage(path)
	parsed, err := idx.parser.Parse(collection, path, content, language)
	if err != nil {
		result.Status = models.IndexStatusFailed
		result.Error = err
		return result, err
	}

	if len(parsed.Chunks) == 0 {
		result.Status = models.IndexStatusIndexed
		result.IndexedAt = time.Now()
		return result, nil
	}

	if forceUpdate {
		if _, err := idx.vectors.DeleteByFilter(ctx, collection, "file_path", path); err != nil {
			result.Status = models.IndexStatusFailed
			result.Error = err
			return result, err
		}
		idx.bm25.RemoveByFilePath(collection, path)
	} else {
		for _, c := range parsed.Chunks {
			exists, err := idx.vectors.ExistsByID(ctx, collection, c.ID)
			if err != nil {
				result.Status = models.IndexStatusFailed
				result.Error = err
				return result, err
			}
			if exists {
				result.Status = models.IndexStatusSkippedUnchanged
				return result, nil
			}
		}
	}

	texts := make([]string, len(parsed.Chunks))
	for i, c := range parsed.Chunks {
		texts[i] = c.Content
	}
	vectors, err := idx.batcher.EmbedTexts(texts)
	if err != nil {
		result.Status = models.IndexStatusFailed
		result.Error = coreerrors.Wrap(coreerrors.EmbedderUnavailable, "indexer.IndexFile", err)
		return result, result.Error
	}

	now := time.Now()
	points := make([]models.VectorPoint, len(parsed.Chunks))
	for i, c := range parsed.Chunks {
		c.IndexedAt = now
		parsed.Chunks[i] = c
		points[i] = models.VectorPoint{ID: c.ID, Vector: vectors[i], Payload: c}
	}

	if _, err := idx.vectors.Upsert(ctx, collection, points); err != nil {
		result.Status = models.IndexStatusFailed
		result.Error = coreerrors.Wrap(coreerrors.VectorStoreUnavailable, "indexer.IndexFile", err)
		return result, result.Error
	}

	if err := idx.writeBM25(collection, parsed.Chunks); err != nil {
		// Compensate: the vector write already landed, so remove it to
		// avoid leaving the two indexes out of sync for this file.
		if _, delErr := idx.vectors.DeleteByFilter(ctx, collection, "file_path", path); delErr != nil {
			result.Status = models.IndexStatusPartiallyIndexed
			result.Error = coreerrors.Wrap(coreerrors.PartiallyIndexed, "indexer.IndexFile",
				fmt.Errorf("bm25 write failed (%v) and compensating delete failed (%v)", err, delErr))
			return result, result.Error
		}
		result.Status = models.IndexStatusFailed
		result.Error = err
		return result, err
	}

	if idx.hashes != nil {
		_ = idx.hashes.Update(path, len(parsed.Chunks))
	}

	result.Status = models.IndexStatusIndexed
	result.ChunkCount = len(parsed.Chunks)
	result.IndexedAt = now
	return result, nil
}

func (idx *Indexer) writeBM25(collection string, chunks []models.Chunk) error {
	docs := make([]struct {
		DocID   string
		Tokens  []string
		Payload models.Chunk
	}, len(chunks))
	for i, c := range chunks {
		docs[i].DocID = c.ID
		docs[i].Tokens = tokenize.Tokenize(c.Content, tokenize.Options{})
		docs[i].Payload = c
	}
	return idx.bm25.AddBatch(collection, docs)
}

// IndexBatch processes many files with bounded concurrency. Per-file
// failures are collected; the batch never aborts on the first error.
func (idx *Indexer) IndexBatch(ctx context.Context, collection string, paths []string, forceUpdate bool) models.BatchIndexResult {
	start := time.Now()
	results := make([]models.FileIndexResult, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(idx.parallelism)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			r, _ := idx.IndexFile(ctx, collection, path, forceUpdate)
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	agg := models.BatchIndexResult{Results: results, TotalFiles: len(paths), Duration: time.Since(start)}
	for _, r := range results {
		agg.TotalChunks += r.ChunkCount
		switch r.Status {
		case models.IndexStatusIndexed:
			agg.IndexedFiles++
		case models.IndexStatusSkippedUnchanged:
			agg.SkippedFiles++
		default:
			agg.FailedFiles++
		}
	}
	return agg
}

// UnindexFile removes every chunk belonging to a file from both indexes.
func (idx *Indexer) UnindexFile(ctx context.Context, collection, path string) (int, error) {
	lock := idx.lockFor(collection, path)
	lock.Lock()
	defer lock.Unlock()

	removed, err := idx.vectors.DeleteByFilter(ctx, collection, "file_path", path)
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.VectorStoreUnavailable, "indexer.UnindexFile", err)
	}
	idx.bm25.RemoveByFilePath(collection, path)
	if idx.hashes != nil {
		idx.hashes.Remove(path)
	}
	return removed, nil
}

// RebuildBM25 replays a collection's BM25 state by re-tokenizing every
// chunk currently held in the vector store payload, the cold-start
// recovery path when the in-memory BM25 index is lost (process restart).
func (idx *Indexer) RebuildBM25(ctx context.Context, collection string) (int, error) {
	chunks, err := idx.vectors.ScrollAll(ctx, collection)
	if err != nil {
		return 0, err
	}

	docs := make([]struct {
		DocID   string
		Tokens  []string
		Payload models.Chunk
	}, len(chunks))
	for i, c := range chunks {
		docs[i].DocID = c.ID
		docs[i].Tokens = tokenize.Tokenize(c.Content, tokenize.Options{})
		docs[i].Payload = c
	}
	idx.bm25.Rebuild(collection, docs)
	return len(docs), nil
}
