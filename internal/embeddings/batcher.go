package embeddings

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jamaly87/codebase-rag-core/internal/models"
)

// Batcher handles batch processing of embeddings, preserving input order
// across parallel worker batches.
type Batcher struct {
	client    Embedder
	batchSize int
	workers   int
}

// NewBatcher creates a new embedding batcher.
func NewBatcher(client Embedder, batchSize, workers int) *Batcher {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Batcher{
		client:    client,
		batchSize: batchSize,
		workers:   workers,
	}
}

// EmbedChunks generates one embedding per chunk, in the same order as
// chunks, using batched concurrent requests. The indexer pairs result[i]
// with chunks[i] when building vector points.
func (b *Batcher) EmbedChunks(chunks []models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	return b.EmbedTexts(texts)
}

// EmbedTexts generates one embedding per text, in input order, splitting
// the work into batches processed concurrently by up to b.workers
// goroutines.
func (b *Batcher) EmbedTexts(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	batches := b.createBatches(texts)
	log.Printf("embeddings: split %d texts into %d batches of ~%d", len(texts), len(batches), b.batchSize)

	results := make([][][]float32, len(batches))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, b.workers)

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, batch []string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			embeddings, err := b.client.GenerateEmbeddings(batch)
			if err != nil {
				errs[idx] = fmt.Errorf("batch %d failed: %w", idx, err)
				return
			}
			results[idx] = embeddings
		}(i, batch)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d: %w", i, err)
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range results {
		out = append(out, batch...)
	}

	duration := time.Since(startTime)
	log.Printf("embeddings: generated %d embeddings in %v", len(texts), duration)
	return out, nil
}

func (b *Batcher) createBatches(texts []string) [][]string {
	var batches [][]string
	for i := 0; i < len(texts); i += b.batchSize {
		end := i + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
