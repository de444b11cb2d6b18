package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/jamaly87/codebase-rag-core/internal/bm25index"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/vectorindex"
)

type fakeVectorSearcher struct {
	hits    []vectorindex.Hit
	err     error
	block   bool
	missing bool
}

func (f *fakeVectorSearcher) Search(ctx context.Context, collection string, queryVector []float32, k int, filter map[string]string) ([]vectorindex.Hit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeVectorSearcher) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return !f.missing, nil
}

type fakeBM25Searcher struct {
	hits    []bm25index.Hit
	block   bool
	missing bool
}

func (f *fakeBM25Searcher) Search(collection string, queryTokens []string, k int) []bm25index.Hit {
	if f.block {
		<-make(chan struct{}) // never returns within the test's timeout
	}
	hits := f.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (f *fakeBM25Searcher) Exists(collection string) bool {
	return !f.missing
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) GenerateEmbedding(text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

func (e *fakeEmbedder) GenerateEmbeddings(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.GenerateEmbedding(texts[i])
	}
	return out, nil
}

func chunk(id string) models.Chunk {
	return models.Chunk{ID: id, FilePath: "Foo.java"}
}

func TestSearchRRFFusionRanksOverlapFirst(t *testing.T) {
	vec := &fakeVectorSearcher{hits: []vectorindex.Hit{
		{ID: "a", Score: 0.9, Payload: chunk("a")},
		{ID: "b", Score: 0.8, Payload: chunk("b")},
	}}
	bm := &fakeBM25Searcher{hits: []bm25index.Hit{
		{DocID: "b", Score: 5.0, Payload: chunk("b")},
		{DocID: "c", Score: 4.0, Payload: chunk("c")},
	}}
	r := New(vec, bm, &fakeEmbedder{})

	resp, err := r.Search(context.Background(), "repo", "find me", 3, DefaultOptions())
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(resp.Hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(resp.Hits))
	}
	if resp.Hits[0].ChunkID != "b" {
		t.Fatalf("expected chunk b (appears in both lists) ranked first, got %s", resp.Hits[0].ChunkID)
	}
	if resp.Hits[0].Rank != 1 {
		t.Fatalf("expected rank 1, got %d", resp.Hits[0].Rank)
	}
}

func TestSearchVectorOnlyMode(t *testing.T) {
	vec := &fakeVectorSearcher{hits: []vectorindex.Hit{
		{ID: "a", Score: 0.9, Payload: chunk("a")},
	}}
	bm := &fakeBM25Searcher{}
	r := New(vec, bm, &fakeEmbedder{})

	opts := DefaultOptions()
	opts.Mode = ModeVector
	resp, err := r.Search(context.Background(), "repo", "q", 5, opts)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].ChunkID != "a" {
		t.Fatalf("unexpected hits: %+v", resp.Hits)
	}
	if resp.Hits[0].ScoreBM25 != nil {
		t.Fatalf("expected no bm25 score in vector-only mode")
	}
}

func TestSearchDegradesWhenVectorBranchFails(t *testing.T) {
	vec := &fakeVectorSearcher{err: errors.New("connection refused")}
	bm := &fakeBM25Searcher{hits: []bm25index.Hit{
		{DocID: "c", Score: 4.0, Payload: chunk("c")},
	}}
	r := New(vec, bm, &fakeEmbedder{})

	resp, err := r.Search(context.Background(), "repo", "q", 5, DefaultOptions())
	if err != nil {
		t.Fatalf("expected degraded success, got error: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response")
	}
	if len(resp.Hits) != 1 || resp.Hits[0].ChunkID != "c" {
		t.Fatalf("unexpected hits: %+v", resp.Hits)
	}
}

func TestSearchReturnsRetrievalErrorWhenBothBranchesFail(t *testing.T) {
	vec := &fakeVectorSearcher{block: true}
	bm := &fakeBM25Searcher{block: true}
	r := New(vec, bm, &fakeEmbedder{})

	opts := DefaultOptions()
	opts.TimeoutMS = 1
	_, err := r.Search(context.Background(), "repo", "q", 5, opts)
	if !coreerrors.Is(err, coreerrors.RetrievalError) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
}

func TestSearchDegradesWhenBM25BranchFails(t *testing.T) {
	vec := &fakeVectorSearcher{hits: []vectorindex.Hit{
		{ID: "a", Score: 0.9, Payload: chunk("a")},
	}}
	bm := &fakeBM25Searcher{block: true}
	r := New(vec, bm, &fakeEmbedder{})

	opts := DefaultOptions()
	opts.TimeoutMS = 1
	resp, err := r.Search(context.Background(), "repo", "q", 5, opts)
	if err != nil {
		t.Fatalf("expected degraded success, got error: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response")
	}
}

func TestSearchReturnsNotFoundForUnknownCollection(t *testing.T) {
	vec := &fakeVectorSearcher{missing: true}
	bm := &fakeBM25Searcher{missing: true}
	r := New(vec, bm, &fakeEmbedder{})

	_, err := r.Search(context.Background(), "ghost-repo", "q", 5, DefaultOptions())
	if !coreerrors.Is(err, coreerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchReturnsNotFoundWhenOnlyRequiredBranchMissing(t *testing.T) {
	vec := &fakeVectorSearcher{hits: []vectorindex.Hit{{ID: "a", Score: 0.9, Payload: chunk("a")}}}
	bm := &fakeBM25Searcher{missing: true}
	r := New(vec, bm, &fakeEmbedder{})

	opts := DefaultOptions()
	opts.Mode = ModeBM25
	_, err := r.Search(context.Background(), "repo", "q", 5, opts)
	if !coreerrors.Is(err, coreerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchRejectsInvalidK(t *testing.T) {
	r := New(&fakeVectorSearcher{}, &fakeBM25Searcher{}, &fakeEmbedder{})
	_, err := r.Search(context.Background(), "repo", "q", 0, DefaultOptions())
	if !coreerrors.Is(err, coreerrors.InvalidOptions) {
		t.Fatalf("expected InvalidOptions, got %v", err)
	}
}

func TestSearchRejectsWeightsNotSummingToOne(t *testing.T) {
	r := New(&fakeVectorSearcher{}, &fakeBM25Searcher{}, &fakeEmbedder{})
	opts := DefaultOptions()
	opts.Fusion = FusionWeighted
	opts.Weights = Weights{Vector: 0.8, BM25: 0.8}
	_, err := r.Search(context.Background(), "repo", "q", 5, opts)
	if !coreerrors.Is(err, coreerrors.InvalidOptions) {
		t.Fatalf("expected InvalidOptions, got %v", err)
	}
}

func TestSearchWeightedFusionNormalizesScores(t *testing.T) {
	vec := &fakeVectorSearcher{hits: []vectorindex.Hit{
		{ID: "a", Score: 1.0, Payload: chunk("a")},
		{ID: "b", Score: 0.0, Payload: chunk("b")},
	}}
	bm := &fakeBM25Searcher{hits: []bm25index.Hit{
		{DocID: "b", Score: 10.0, Payload: chunk("b")},
		{DocID: "a", Score: 0.0, Payload: chunk("a")},
	}}
	r := New(vec, bm, &fakeEmbedder{})

	opts := DefaultOptions()
	opts.Fusion = FusionWeighted
	opts.Weights = Weights{Vector: 0.5, BM25: 0.5}
	resp, err := r.Search(context.Background(), "repo", "q", 2, opts)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	// a: 0.5*1.0 + 0.5*0.0 = 0.5; b: 0.5*0.0 + 0.5*1.0 = 0.5 -> tie, both
	// appear in both lists, tie-break falls to higher raw vector score (a).
	if resp.Hits[0].ChunkID != "a" {
		t.Fatalf("expected tie-break to favor higher vector score, got %s", resp.Hits[0].ChunkID)
	}
}
