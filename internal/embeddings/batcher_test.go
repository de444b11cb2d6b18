package embeddings

import (
	"fmt"
	"testing"
)

// mockClient is a fake Embedder for testing.
type mockClient struct {
	callCount int
}

func (m *mockClient) GenerateEmbedding(text string) ([]float32, error) {
	m.callCount++
	return []float32{float32(len(text)), 0.5, 0.3}, nil
}

func (m *mockClient) GenerateEmbeddings(texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := m.GenerateEmbedding(text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

type erroringClient struct{}

func (e *erroringClient) GenerateEmbedding(text string) ([]float32, error) {
	return nil, fmt.Errorf("boom")
}

func (e *erroringClient) GenerateEmbeddings(texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("boom")
}

func TestBatchCreation(t *testing.T) {
	tests := []struct {
		name          string
		texts         []string
		batchSize     int
		expectedBatch int
	}{
		{
			name:          "exact batch size",
			texts:         []string{"a", "b", "c", "d"},
			batchSize:     2,
			expectedBatch: 2,
		},
		{
			name:          "partial last batch",
			texts:         []string{"a", "b", "c"},
			batchSize:     2,
			expectedBatch: 2,
		},
		{
			name:          "single text",
			texts:         []string{"a"},
			batchSize:     10,
			expectedBatch: 1,
		},
		{
			name:          "empty texts",
			texts:         nil,
			batchSize:     10,
			expectedBatch: 0,
		},
	}

	b := &Batcher{batchSize: 10}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.batchSize = tt.batchSize
			batches := b.createBatches(tt.texts)

			if len(batches) != tt.expectedBatch {
				t.Errorf("expected %d batches, got %d", tt.expectedBatch, len(batches))
			}

			total := 0
			for _, batch := range batches {
				total += len(batch)
				if len(batch) > tt.batchSize {
					t.Errorf("batch size %d exceeds max %d", len(batch), tt.batchSize)
				}
			}
			if total != len(tt.texts) {
				t.Errorf("expected %d total texts, got %d", len(tt.texts), total)
			}
		})
	}
}

func TestEmbedTextsPreservesOrderAndCallsClient(t *testing.T) {
	mc := &mockClient{}
	batcher := &Batcher{client: mc, batchSize: 2, workers: 2}

	texts := []string{"test1", "test22", "test333"}
	result, err := batcher.EmbedTexts(texts)
	if err != nil {
		t.Fatalf("EmbedTexts failed: %v", err)
	}
	if len(result) != len(texts) {
		t.Errorf("expected %d results, got %d", len(texts), len(result))
	}
	for i, embedding := range result {
		if len(embedding) != 3 {
			t.Errorf("expected embedding dimension 3, got %d", len(embedding))
		}
		if int(embedding[0]) != len(texts[i]) {
			t.Errorf("embedding %d not aligned with text %q", i, texts[i])
		}
	}
	if mc.callCount != len(texts) {
		t.Errorf("expected %d calls, got %d", len(texts), mc.callCount)
	}
}

func TestEmbedTextsPropagatesError(t *testing.T) {
	batcher := NewBatcher(&erroringClient{}, 2, 1)
	if _, err := batcher.EmbedTexts([]string{"a", "b"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWorkerPoolSize(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{name: "default workers", workers: 4, expectedWorkers: 4},
		{name: "single worker", workers: 1, expectedWorkers: 1},
		{name: "many workers", workers: 16, expectedWorkers: 16},
		{name: "zero falls back to one", workers: 0, expectedWorkers: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batcher := NewBatcher(&mockClient{}, 10, tt.workers)
			if batcher.workers != tt.expectedWorkers {
				t.Errorf("expected %d workers, got %d", tt.expectedWorkers, batcher.workers)
			}
		})
	}
}
