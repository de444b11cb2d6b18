package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jamaly87/codebase-rag-core/internal/bm25index"
	"github.com/jamaly87/codebase-rag-core/internal/cache"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/embeddings"
	"github.com/jamaly87/codebase-rag-core/internal/indexer"
	"github.com/jamaly87/codebase-rag-core/internal/parsing"
	"github.com/jamaly87/codebase-rag-core/internal/vectorindex"
	"github.com/jamaly87/codebase-rag-core/pkg/config"
)

func main() {
	repoPath, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get current directory: %v", err)
	}
	if len(os.Args) > 1 {
		repoPath = os.Args[1]
	}

	slog.Info("starting repository indexing", "repository", repoPath)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	slog.Info("configuration loaded",
		"model", cfg.Embeddings.Model,
		"collection", cfg.VectorDB.CollectionName,
		"parallel_workers", cfg.Indexing.ParallelWorkers)

	ctx := context.Background()

	retryCfg := coreerrors.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       true,
	}

	vectors, err := vectorindex.NewAdapter(cfg.VectorDB.Host, cfg.VectorDB.Port, cfg.VectorDB.UseTLS, retryCfg)
	if err != nil {
		log.Fatalf("failed to connect to vector store: %v", err)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx, cfg.VectorDB.CollectionName, cfg.Embeddings.Dimensions, vectorindex.Distance(cfg.VectorDB.DistanceMetric)); err != nil {
		log.Fatalf("failed to ensure collection: %v", err)
	}

	bm25Index := bm25index.New(bm25index.Config{K1: cfg.BM25.K1, B: cfg.BM25.B})
	bm25Index.EnsureCollection(cfg.VectorDB.CollectionName)

	embedClient := embeddings.NewClient(&cfg.Embeddings, cfg.Retry)
	batcher := embeddings.NewBatcher(embedClient, cfg.Embeddings.BatchSize, cfg.Indexing.ParallelWorkers)

	hashes, err := cache.NewFileHashManager(cfg.Cache.Directory)
	if err != nil {
		log.Fatalf("failed to init file hash cache: %v", err)
	}
	if err := hashes.Load(repoPath); err != nil {
		log.Fatalf("failed to load file hash cache: %v", err)
	}

	parser := parsing.NewDispatch()
	idx := indexer.New(vectors, bm25Index, parser, batcher, hashes, cfg.Indexing.ParallelWorkers)

	scanner := indexer.NewScanner(&cfg.Indexing, cfg.Ignore.Patterns)
	scanResult, err := scanner.Scan(repoPath)
	if err != nil {
		log.Fatalf("failed to scan repository: %v", err)
	}
	slog.Info("scan complete",
		"total_files", scanResult.TotalFiles,
		"indexable_files", len(scanResult.Files),
		"skipped_files", scanResult.SkippedFiles)

	absPaths := make([]string, len(scanResult.Files))
	for i, f := range scanResult.Files {
		absPaths[i], _ = filepath.Abs(f)
	}

	start := time.Now()
	result := idx.IndexBatch(ctx, cfg.VectorDB.CollectionName, absPaths, !cfg.Indexing.Incremental)
	duration := time.Since(start)

	if err := hashes.Save(); err != nil {
		slog.Warn("failed to persist file hash cache", "error", err)
	}

	slog.Info("indexing completed",
		"total_files", result.TotalFiles,
		"indexed_files", result.IndexedFiles,
		"skipped_files", result.SkippedFiles,
		"failed_files", result.FailedFiles,
		"total_chunks", result.TotalChunks,
		"duration", duration)

	if result.FailedFiles > 0 {
		for _, r := range result.Results {
			if r.Error != nil {
				slog.Error("file indexing failed", "file", r.FilePath, "error", r.Error)
			}
		}
		os.Exit(1)
	}
}
