package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"time"

	"github.com/jamaly87/codebase-rag-core/internal/bm25index"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/embeddings"
	"github.com/jamaly87/codebase-rag-core/internal/evaluator"
	"github.com/jamaly87/codebase-rag-core/internal/indexer"
	"github.com/jamaly87/codebase-rag-core/internal/retriever"
	"github.com/jamaly87/codebase-rag-core/internal/vectorindex"
	"github.com/jamaly87/codebase-rag-core/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: evaluate <dataset-dir>")
	}
	datasetDir := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

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

	bm25Index := bm25index.New(bm25index.Config{K1: cfg.BM25.K1, B: cfg.BM25.B})
	embedClient := embeddings.NewClient(&cfg.Embeddings, cfg.Retry)

	// evaluate runs in its own process, so the in-memory BM25 index starts
	// empty; replay it from the vector store's payloads before any query.
	rebuilder := indexer.New(vectors, bm25Index, nil, nil, nil, 1)
	loaded, err := rebuilder.RebuildBM25(ctx, cfg.VectorDB.CollectionName)
	if err != nil {
		log.Fatalf("failed to rebuild bm25 index: %v", err)
	}
	slog.Info("bm25 index rebuilt", "documents", loaded)

	retr := retriever.New(vectors, bm25Index, embedClient)
	eval := evaluator.New(retr)

	dataset, normalizer, err := evaluator.LoadDataset(datasetDir, cfg.VectorDB.CollectionName)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	slog.Info("dataset loaded", "name", dataset.Name, "queries", len(dataset.Queries))

	opts := evaluator.DefaultOptions()
	opts.KValues = cfg.Evaluator.KValues
	opts.Concurrency = cfg.Evaluator.Concurrency
	opts.Normalizer = normalizer
	opts.RetrievalOptions = retriever.Options{
		Mode:      retriever.Mode(cfg.Retrieval.Mode),
		Fusion:    retriever.Fusion(cfg.Retrieval.Fusion),
		Weights:   retriever.Weights{Vector: cfg.Retrieval.Weights.Vector, BM25: cfg.Retrieval.Weights.BM25},
		RRFK:      cfg.Retrieval.RRFK,
		OverFetch: cfg.Retrieval.OverFetch,
		TimeoutMS: cfg.Retrieval.TimeoutMS,
	}

	report, failures, err := eval.Run(ctx, dataset, opts)
	if err != nil {
		log.Fatalf("evaluation run failed: %v", err)
	}

	if len(failures) > 0 {
		slog.Warn("some queries failed during evaluation", "count", len(failures))
		for _, f := range failures {
			slog.Warn("query failed", "query_id", f.QueryID, "error", f.Error)
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Fatalf("failed to encode report: %v", err)
	}
}
