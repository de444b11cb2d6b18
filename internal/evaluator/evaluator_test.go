package evaluator

import (
	"context"
	"testing"

	"github.com/jamaly87/codebase-rag-core/internal/classpath"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/retriever"
)

type fakeSearcher struct {
	hitsByQuery map[string][]models.SearchHit
}

func (f *fakeSearcher) Search(ctx context.Context, collection, queryText string, k int, opts retriever.Options) (retriever.Response, error) {
	hits := f.hitsByQuery[queryText]
	if len(hits) > k {
		hits = hits[:k]
	}
	return retriever.Response{Hits: hits}, nil
}

func hitWithClass(qualifiedName string) models.SearchHit {
	return models.SearchHit{
		Payload: models.Chunk{Language: models.LanguageJava, QualifiedName: qualifiedName},
	}
}

func TestRunQueryMultiAnswerRanks1And4And9(t *testing.T) {
	hits := make([]models.SearchHit, 9)
	for i := range hits {
		hits[i] = hitWithClass("com.x.Other")
	}
	hits[0] = hitWithClass("com.x.A")
	hits[3] = hitWithClass("com.x.B")
	hits[8] = hitWithClass("com.x.C")

	search := &fakeSearcher{hitsByQuery: map[string][]models.SearchHit{
		"q": hits,
	}}
	e := New(search)

	dataset := models.EvaluationDataset{
		Name:       "test",
		Collection: "repo",
		Queries: []models.EvaluationQuery{
			{ID: "q1", Query: "q", RelevantIDs: []string{"com.x.A", "com.x.B", "com.x.C"}},
		},
	}

	opts := DefaultOptions()
	opts.KValues = []int{1, 3, 5, 10}
	report, failures, err := e.Run(context.Background(), dataset, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %v", failures)
	}

	want := map[int]float64{1: 1.0 / 3, 3: 1.0 / 3, 5: 2.0 / 3, 10: 1.0}
	for k, expected := range want {
		got := report.MeanByK[k].Recall
		if abs(got-expected) > 1e-9 {
			t.Fatalf("Recall@%d: expected %v, got %v", k, expected, got)
		}
	}
	if abs(report.MeanByK[1].MRR-1.0) > 1e-9 {
		t.Fatalf("expected MRR 1.0, got %v", report.MeanByK[1].MRR)
	}
}

func TestRunQueryWithClasspathNormalization(t *testing.T) {
	hit := models.SearchHit{
		Payload: models.Chunk{
			Language:      models.LanguageJava,
			FilePath:      "src/main/java/com/skax/library/controller/BookController.java",
			QualifiedName: "com.skax.library.controller.BookController.createBook",
		},
	}
	search := &fakeSearcher{hitsByQuery: map[string][]models.SearchHit{
		"find book controller": {hit},
	}}
	e := New(search)

	dataset := models.EvaluationDataset{
		Name:       "test",
		Collection: "repo",
		Queries: []models.EvaluationQuery{
			{ID: "q1", Query: "find book controller", RelevantIDs: []string{"com.skax.library.controller.BookController"}},
		},
	}

	opts := DefaultOptions()
	opts.KValues = []int{1}
	opts.Normalizer = classpath.Options{
		JavaSourceRoots:   []string{"src/main/java"},
		IgnoreMethodNames: true,
	}

	report, _, err := e.Run(context.Background(), dataset, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.MeanByK[1].Hit != 1 {
		t.Fatalf("expected Hit@1 = 1, got %v", report.MeanByK[1].Hit)
	}
	if report.MeanByK[1].Recall != 1 {
		t.Fatalf("expected Recall@1 = 1, got %v", report.MeanByK[1].Recall)
	}
}

func TestMetricsBoundedBetweenZeroAndOne(t *testing.T) {
	hits := []models.SearchHit{hitWithClass("com.x.Unrelated")}
	search := &fakeSearcher{hitsByQuery: map[string][]models.SearchHit{
		"q": hits,
	}}
	e := New(search)

	dataset := models.EvaluationDataset{
		Name:       "test",
		Collection: "repo",
		Queries: []models.EvaluationQuery{
			{ID: "q1", Query: "q", RelevantIDs: []string{"com.x.A"}},
		},
	}

	opts := DefaultOptions()
	report, _, err := e.Run(context.Background(), dataset, opts)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, m := range report.PerQuery {
		for _, v := range []float64{m.Recall, m.Precision, m.Hit, m.NDCG, m.MRR} {
			if v < 0 || v > 1 {
				t.Fatalf("metric out of [0,1] bound: %v", v)
			}
		}
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
