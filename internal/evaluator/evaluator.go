// Package evaluator implements C8: running a labelled query set through
// the hybrid retriever and aggregating standard top-K retrieval metrics.
package evaluator

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamaly87/codebase-rag-core/internal/classpath"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/retriever"
)

// Searcher is the C6 surface the evaluator depends on.
type Searcher interface {
	Search(ctx context.Context, collection, queryText string, k int, opts retriever.Options) (retriever.Response, error)
}

// Options configures an evaluation run.
type Options struct {
	KValues     []int
	Concurrency int
	Normalizer  classpath.Options
	RetrievalOptions retriever.Options
	PerQueryTimeout  time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		KValues:          []int{1, 3, 5, 10},
		Concurrency:      4,
		RetrievalOptions: retriever.DefaultOptions(),
		PerQueryTimeout:  10 * time.Second,
	}
}

func (o Options) maxK() int {
	max := 1
	for _, k := range o.KValues {
		if k > max {
			max = k
		}
	}
	return max
}

// Failure records a query that errored during evaluation.
type Failure struct {
	QueryID string
	Error   string
}

// Evaluator runs a dataset's queries against a Searcher and aggregates
// Recall@K, Precision@K, Hit@K, NDCG@K, and MRR.
type Evaluator struct {
	search Searcher
}

// New builds an Evaluator from its retriever dependency.
func New(search Searcher) *Evaluator {
	return &Evaluator{search: search}
}

// Run evaluates every query in the dataset and returns an aggregated
// report plus any failures. Per-query latencies and total wall time are
// not measured.
func (e *Evaluator) Run(ctx context.Context, dataset models.EvaluationDataset, opts Options) (models.EvaluationReport, []Failure, error) {
	if len(opts.KValues) == 0 {
		opts = mergeDefaults(opts)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]models.QueryMetrics, 0)
	var mu sync.Mutex
	var failures []Failure

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	perQuery := make([][]models.QueryMetrics, len(dataset.Queries))

	for i, q := range dataset.Queries {
		i, q := i, q
		g.Go(func() error {
			qctx := ctx
			var cancel context.CancelFunc
			if opts.PerQueryTimeout > 0 {
				qctx, cancel = context.WithTimeout(ctx, opts.PerQueryTimeout)
				defer cancel()
			}

			metrics, err := e.runQuery(qctx, dataset.Collection, q, opts)
			if err != nil {
				mu.Lock()
				failures = append(failures, Failure{QueryID: q.ID, Error: err.Error()})
				mu.Unlock()
				perQuery[i] = zeroMetrics(q.ID, opts.KValues)
				return nil
			}
			perQuery[i] = metrics
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range perQuery {
		results = append(results, m...)
	}

	report := aggregate(dataset, results, opts.KValues)
	return report, failures, nil
}

func mergeDefaults(opts Options) Options {
	d := DefaultOptions()
	if len(opts.KValues) == 0 {
		opts.KValues = d.KValues
	}
	return opts
}

func zeroMetrics(queryID string, kValues []int) []models.QueryMetrics {
	out := make([]models.QueryMetrics, len(kValues))
	for i, k := range kValues {
		out[i] = models.QueryMetrics{QueryID: queryID, K: k}
	}
	return out
}

// runQuery submits one query to the retriever, normalizes identifiers
// through C7, and computes every K-value's metrics plus MRR.
func (e *Evaluator) runQuery(ctx context.Context, collection string, q models.EvaluationQuery, opts Options) ([]models.QueryMetrics, error) {
	k := opts.maxK()
	resp, err := e.search.Search(ctx, collection, q.Query, k, opts.RetrievalOptions)
	if err != nil {
		return nil, err
	}

	relevantSet := make(map[string]struct{}, len(q.RelevantIDs))
	for _, id := range q.RelevantIDs {
		relevantSet[normalizeGroundTruth(id, opts.Normalizer)] = struct{}{}
	}

	relevance := make([]bool, len(resp.Hits))
	firstRelevantRank := 0
	for i, hit := range resp.Hits {
		normalized := normalizeHit(hit, opts.Normalizer)
		_, isRelevant := relevantSet[normalized]
		relevance[i] = isRelevant
		if isRelevant && firstRelevantRank == 0 {
			firstRelevantRank = i + 1
		}
	}

	mrr := 0.0
	if firstRelevantRank > 0 {
		mrr = 1.0 / float64(firstRelevantRank)
	}

	totalRelevant := len(relevantSet)
	out := make([]models.QueryMetrics, len(opts.KValues))
	for i, k := range opts.KValues {
		out[i] = models.QueryMetrics{
			QueryID:   q.ID,
			K:         k,
			Recall:    recallAtK(relevance, totalRelevant, k),
			Precision: precisionAtK(relevance, k),
			Hit:       hitAtK(relevance, k),
			NDCG:      ndcgAtK(relevance, totalRelevant, k),
			MRR:       mrr,
		}
	}
	return out, nil
}

func normalizeHit(hit models.SearchHit, opts classpath.Options) string {
	if hit.Payload.Language == models.LanguageJava && hit.Payload.QualifiedName != "" {
		return classpath.NormalizeIdentifier(hit.Payload.QualifiedName, opts)
	}
	return classpath.NormalizeFilePath(hit.Payload.FilePath, opts)
}

func normalizeGroundTruth(id string, opts classpath.Options) string {
	if strings.Contains(id, "/") {
		return classpath.NormalizeFilePath(id, opts)
	}
	return classpath.NormalizeIdentifier(id, opts)
}

func recallAtK(relevance []bool, totalRelevant, k int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	hits := countRelevant(relevance, k)
	return float64(hits) / float64(totalRelevant)
}

func precisionAtK(relevance []bool, k int) float64 {
	if k == 0 {
		return 0
	}
	hits := countRelevant(relevance, k)
	return float64(hits) / float64(k)
}

func hitAtK(relevance []bool, k int) float64 {
	if countRelevant(relevance, k) > 0 {
		return 1
	}
	return 0
}

func countRelevant(relevance []bool, k int) int {
	n := k
	if n > len(relevance) {
		n = len(relevance)
	}
	count := 0
	for i := 0; i < n; i++ {
		if relevance[i] {
			count++
		}
	}
	return count
}

func ndcgAtK(relevance []bool, totalRelevant, k int) float64 {
	n := k
	if n > len(relevance) {
		n = len(relevance)
	}
	dcg := 0.0
	for i := 0; i < n; i++ {
		if relevance[i] {
			dcg += 1.0 / math.Log2(float64(i+2))
		}
	}

	idealOnes := totalRelevant
	if idealOnes > k {
		idealOnes = k
	}
	idcg := 0.0
	for i := 0; i < idealOnes; i++ {
		idcg += 1.0 / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func aggregate(dataset models.EvaluationDataset, perQuery []models.QueryMetrics, kValues []int) models.EvaluationReport {
	meanByK := make(map[int]models.QueryMetrics, len(kValues))
	difficultyOf := make(map[string]string, len(dataset.Queries))
	for _, q := range dataset.Queries {
		difficultyOf[q.ID] = q.Difficulty
	}

	byK := make(map[int][]models.QueryMetrics)
	for _, m := range perQuery {
		byK[m.K] = append(byK[m.K], m)
	}
	for _, k := range kValues {
		meanByK[k] = meanOf(byK[k], k)
	}

	meanByDifficulty := make(map[string]map[int]models.QueryMetrics)
	byDifficultyAndK := make(map[string]map[int][]models.QueryMetrics)
	for _, m := range perQuery {
		diff := difficultyOf[m.QueryID]
		if diff == "" {
			continue
		}
		if byDifficultyAndK[diff] == nil {
			byDifficultyAndK[diff] = make(map[int][]models.QueryMetrics)
		}
		byDifficultyAndK[diff][m.K] = append(byDifficultyAndK[diff][m.K], m)
	}
	for diff, byK := range byDifficultyAndK {
		meanByDifficulty[diff] = make(map[int]models.QueryMetrics)
		for _, k := range kValues {
			meanByDifficulty[diff][k] = meanOf(byK[k], k)
		}
	}

	sort.Slice(perQuery, func(i, j int) bool {
		if perQuery[i].QueryID != perQuery[j].QueryID {
			return perQuery[i].QueryID < perQuery[j].QueryID
		}
		return perQuery[i].K < perQuery[j].K
	})

	return models.EvaluationReport{
		Dataset:          dataset.Name,
		Collection:       dataset.Collection,
		PerQuery:         perQuery,
		MeanByK:          meanByK,
		MeanByDifficulty: meanByDifficulty,
	}
}

func meanOf(metrics []models.QueryMetrics, k int) models.QueryMetrics {
	if len(metrics) == 0 {
		return models.QueryMetrics{K: k}
	}
	var sum models.QueryMetrics
	sum.K = k
	for _, m := range metrics {
		sum.Recall += m.Recall
		sum.Precision += m.Precision
		sum.Hit += m.Hit
		sum.NDCG += m.NDCG
		sum.MRR += m.MRR
	}
	n := float64(len(metrics))
	sum.Recall /= n
	sum.Precision /= n
	sum.Hit /= n
	sum.NDCG /= n
	sum.MRR /= n
	return sum
}
