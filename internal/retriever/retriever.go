// Package retriever implements C6: the hybrid retriever that fans a query
// out to the vector and BM25 indexes concurrently and fuses their result
// lists into one ranked list, by Reciprocal Rank Fusion or weighted sum.
package retriever

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamaly87/codebase-rag-core/internal/bm25index"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/embeddings"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/tokenize"
	"github.com/jamaly87/codebase-rag-core/internal/vectorindex"
)

// Mode selects which branches Search queries.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeBM25   Mode = "bm25"
	ModeHybrid Mode = "hybrid"
)

// Fusion selects how hybrid mode combines the two branches' scores.
type Fusion string

const (
	FusionRRF      Fusion = "rrf"
	FusionWeighted Fusion = "weighted"
)

// Weights is the weighted-fusion mix; Vector + BM25 must sum to 1.0.
type Weights struct {
	Vector float64
	BM25   float64
}

// Options configures a single Search call.
type Options struct {
	Mode       Mode
	Fusion     Fusion
	Weights    Weights
	RRFK       int
	OverFetch  int
	Filters    map[string]string
	TimeoutMS  int
}

// DefaultOptions returns the documented defaults for Search, valid for any
// mode.
func DefaultOptions() Options {
	return Options{
		Mode:      ModeHybrid,
		Fusion:    FusionRRF,
		Weights:   Weights{Vector: 0.5, BM25: 0.5},
		RRFK:      60,
		TimeoutMS: 5000,
	}
}

func (o Options) validate(k int) error {
	if k <= 0 {
		return coreerrors.New(coreerrors.InvalidOptions, "retriever.Search", "k must be > 0")
	}
	if o.Fusion == FusionWeighted {
		sum := o.Weights.Vector + o.Weights.BM25
		if sum < 0.999 || sum > 1.001 {
			return coreerrors.New(coreerrors.InvalidOptions, "retriever.Search", "weighted fusion weights must sum to 1.0")
		}
	}
	return nil
}

func (o Options) overFetch(k int) int {
	if o.OverFetch >= k {
		return o.OverFetch
	}
	of := 2 * k
	if of < 20 {
		of = 20
	}
	return of
}

func (o Options) rrfK() int {
	if o.RRFK > 0 {
		return o.RRFK
	}
	return 60
}

func (o Options) timeout() time.Duration {
	ms := o.TimeoutMS
	if ms <= 0 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// VectorSearcher is the C3 surface the retriever depends on.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, queryVector []float32, k int, filter map[string]string) ([]vectorindex.Hit, error)
	CollectionExists(ctx context.Context, collection string) (bool, error)
}

// VectorHit is an alias kept for readability at call sites in this package.
type VectorHit = vectorindex.Hit

// BM25Searcher is the C4 surface the retriever depends on.
type BM25Searcher interface {
	Search(collection string, queryTokens []string, k int) []bm25index.Hit
	Exists(collection string) bool
}

// BM25Hit is an alias kept for readability at call sites in this package.
type BM25Hit = bm25index.Hit

// Response wraps Search's ranked list with metadata about whether fusion
// degraded to a single branch.
type Response struct {
	Hits     []models.SearchHit
	Degraded bool
}

// Retriever fuses the vector and BM25 branches into the hybrid search
// contract.
type Retriever struct {
	vectors  VectorSearcher
	bm25     BM25Searcher
	embedder embeddings.Embedder
}

// New builds a Retriever from its two index backends and the embedder
// used to vectorize query text.
func New(vectors VectorSearcher, bm25 BM25Searcher, embedder embeddings.Embedder) *Retriever {
	return &Retriever{vectors: vectors, bm25: bm25, embedder: embedder}
}

// Search runs the hybrid retrieval contract: embed/tokenize the query,
// fan out to the requested branches concurrently, fuse, and truncate to k.
func (r *Retriever) Search(ctx context.Context, collection, queryText string, k int, opts Options) (Response, error) {
	if err := opts.validate(k); err != nil {
		return Response{}, err
	}
	of := opts.overFetch(k)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	needVector := opts.Mode == ModeVector || opts.Mode == ModeHybrid
	needBM25 := opts.Mode == ModeBM25 || opts.Mode == ModeHybrid

	if needVector {
		exists, err := r.vectors.CollectionExists(ctx, collection)
		if err != nil {
			return Response{}, err
		}
		if !exists {
			return Response{}, coreerrors.New(coreerrors.NotFound, "retriever.Search", "collection not found: "+collection)
		}
	}
	if needBM25 && !r.bm25.Exists(collection) {
		return Response{}, coreerrors.New(coreerrors.NotFound, "retriever.Search", "collection not found: "+collection)
	}

	type vecResult struct {
		hits []VectorHit
		err  error
	}
	type bm25Result struct {
		hits []BM25Hit
	}

	var vecCh chan vecResult
	var bm25Ch chan bm25Result

	// Both branches run as independent goroutines under one errgroup; the
	// group is only used for fan-out, not cancel-on-first-error, since a
	// vector failure must not cut the bm25 branch short (and vice versa).
	var g errgroup.Group

	if needVector {
		vecCh = make(chan vecResult, 1)
		g.Go(func() error {
			queryVec, err := r.embedder.GenerateEmbedding(queryText)
			if err != nil {
				vecCh <- vecResult{err: coreerrors.Wrap(coreerrors.EmbedderUnavailable, "retriever.Search", err)}
				return nil
			}
			hits, err := r.vectors.Search(ctx, collection, queryVec, of, opts.Filters)
			vecCh <- vecResult{hits: hits, err: err}
			return nil
		})
	}
	if needBM25 {
		bm25Ch = make(chan bm25Result, 1)
		g.Go(func() error {
			tokens := tokenize.Tokenize(queryText, tokenize.Options{})
			hits := r.bm25.Search(collection, tokens, of)
			hits = applyBM25Filters(hits, opts.Filters)
			bm25Ch <- bm25Result{hits: hits}
			return nil
		})
	}

	var vecRes vecResult
	var bmRes bm25Result
	var vecTimedOut, bm25TimedOut bool

	if needVector {
		select {
		case vecRes = <-vecCh:
		case <-ctx.Done():
			vecTimedOut = true
		}
	}
	if needBM25 {
		select {
		case bmRes = <-bm25Ch:
		case <-ctx.Done():
			bm25TimedOut = true
		}
	}

	vecOK := needVector && !vecTimedOut && vecRes.err == nil
	bmOK := needBM25 && !bm25TimedOut

	if opts.Mode == ModeHybrid && (!vecOK || !bmOK) {
		switch {
		case vecOK && !bmOK:
			return Response{Hits: toSearchHitsVector(vecRes.hits, k), Degraded: true}, nil
		case bmOK && !vecOK:
			return Response{Hits: toSearchHitsBM25(bmRes.hits, k), Degraded: true}, nil
		default:
			return Response{}, coreerrors.New(coreerrors.RetrievalError, "retriever.Search", "both branches failed")
		}
	}

	switch opts.Mode {
	case ModeVector:
		if !vecOK {
			return Response{}, coreerrors.New(coreerrors.RetrievalError, "retriever.Search", "vector branch failed")
		}
		return Response{Hits: toSearchHitsVector(vecRes.hits, k)}, nil
	case ModeBM25:
		return Response{Hits: toSearchHitsBM25(bmRes.hits, k)}, nil
	default:
		fused := fuse(vecRes.hits, bmRes.hits, opts)
		if len(fused) > k {
			fused = fused[:k]
		}
		for i := range fused {
			fused[i].Rank = i + 1
		}
		return Response{Hits: fused}, nil
	}
}

func applyBM25Filters(hits []BM25Hit, filters map[string]string) []BM25Hit {
	if len(filters) == 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if matchesFilters(h.Payload, filters) {
			out = append(out, h)
		}
	}
	return out
}

func matchesFilters(c models.Chunk, filters map[string]string) bool {
	for field, value := range filters {
		switch field {
		case "file_path":
			if c.FilePath != value {
				return false
			}
		case "language":
			if string(c.Language) != value {
				return false
			}
		case "kind":
			if string(c.Kind) != value {
				return false
			}
		case "qualified_name":
			if c.QualifiedName != value {
				return false
			}
		}
	}
	return true
}

func toSearchHitsVector(hits []VectorHit, k int) []models.SearchHit {
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]models.SearchHit, len(hits))
	for i, h := range hits {
		score := h.Score
		out[i] = models.SearchHit{ChunkID: h.ID, ScoreVec: &score, ScoreFused: score, Rank: i + 1, Payload: h.Payload}
	}
	return out
}

func toSearchHitsBM25(hits []BM25Hit, k int) []models.SearchHit {
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]models.SearchHit, len(hits))
	for i, h := range hits {
		score := h.Score
		out[i] = models.SearchHit{ChunkID: h.DocID, ScoreBM25: &score, ScoreFused: score, Rank: i + 1, Payload: h.Payload}
	}
	return out
}

type fusedEntry struct {
	chunkID    string
	payload    models.Chunk
	vecScore   *float64
	bm25Score  *float64
	inVector   bool
	inBM25     bool
	fusedScore float64
}

func fuse(vecHits []VectorHit, bm25Hits []BM25Hit, opts Options) []models.SearchHit {
	entries := make(map[string]*fusedEntry)

	for rank, h := range vecHits {
		score := h.Score
		e := entries[h.ID]
		if e == nil {
			e = &fusedEntry{chunkID: h.ID, payload: h.Payload}
			entries[h.ID] = e
		}
		e.inVector = true
		e.vecScore = &score
		if opts.Fusion == FusionRRF {
			e.fusedScore += 1.0 / float64(opts.rrfK()+rank+1)
		}
	}
	for rank, h := range bm25Hits {
		score := h.Score
		e := entries[h.DocID]
		if e == nil {
			e = &fusedEntry{chunkID: h.DocID, payload: h.Payload}
			entries[h.DocID] = e
		}
		e.inBM25 = true
		e.bm25Score = &score
		if opts.Fusion == FusionRRF {
			e.fusedScore += 1.0 / float64(opts.rrfK()+rank+1)
		}
	}

	if opts.Fusion == FusionWeighted {
		vecMin, vecMax := minMaxVector(vecHits)
		bmMin, bmMax := minMaxBM25(bm25Hits)
		for _, e := range entries {
			var sVec, sBM25 float64
			if e.vecScore != nil {
				sVec = normalize(*e.vecScore, vecMin, vecMax)
			}
			if e.bm25Score != nil {
				sBM25 = normalize(*e.bm25Score, bmMin, bmMax)
			}
			e.fusedScore = opts.Weights.Vector*sVec + opts.Weights.BM25*sBM25
		}
	}

	list := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.fusedScore != b.fusedScore {
			return a.fusedScore > b.fusedScore
		}
		aBoth, bBoth := a.inVector && a.inBM25, b.inVector && b.inBM25
		if aBoth != bBoth {
			return aBoth
		}
		aVec, bVec := vecScoreOf(a), vecScoreOf(b)
		if aVec != bVec {
			return aVec > bVec
		}
		return a.chunkID < b.chunkID
	})

	out := make([]models.SearchHit, len(list))
	for i, e := range list {
		out[i] = models.SearchHit{
			ChunkID:    e.chunkID,
			ScoreVec:   e.vecScore,
			ScoreBM25:  e.bm25Score,
			ScoreFused: e.fusedScore,
			Payload:    e.payload,
		}
	}
	return out
}

func vecScoreOf(e *fusedEntry) float64 {
	if e.vecScore == nil {
		return -1
	}
	return *e.vecScore
}

func minMaxVector(hits []VectorHit) (float64, float64) {
	if len(hits) == 0 {
		return 0, 1
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	return min, max
}

func minMaxBM25(hits []BM25Hit) (float64, float64) {
	if len(hits) == 0 {
		return 0, 1
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}
