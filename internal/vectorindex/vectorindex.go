// Package vectorindex adapts a Qdrant collection to the vector index
// contract the retriever and indexer depend on: ensure_collection,
// upsert, delete_by_filter, search. It enforces the two invariants the
// raw Qdrant client does not: dimension checking on every upsert, and
// cosine-to-[0,1] score renormalization.
package vectorindex

import (
	"context"
	"fmt"
	"log"

	"github.com/qdrant/go-client/qdrant"

	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/models"
)

// Distance selects the Qdrant distance metric a collection is created
// with.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceDot       Distance = "dot"
	DistanceEuclidean Distance = "euclidean"
)

// Adapter wraps a Qdrant client and enforces the C3 invariants.
type Adapter struct {
	client *qdrant.Client
	dims   map[string]int
	retry  coreerrors.RetryConfig
}

// NewAdapter connects to Qdrant at host:port over gRPC. Calls that fail
// with a transient VectorStoreUnavailable error are retried against
// retry's backoff schedule; a zero RetryConfig disables retries.
func NewAdapter(host string, port int, useTLS bool, retry coreerrors.RetryConfig) (*Adapter, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.VectorStoreUnavailable, "vectorindex.NewAdapter", err)
	}
	return &Adapter{client: client, dims: make(map[string]int), retry: retry}, nil
}

// withRetry runs fn, retrying per a.retry's backoff schedule whenever fn's
// error wraps into a VectorStoreUnavailable Kind.
func (a *Adapter) withRetry(ctx context.Context, op string, fn func() error) error {
	return coreerrors.Retry(ctx, a.retry, func() error {
		if err := fn(); err != nil {
			return coreerrors.Wrap(coreerrors.VectorStoreUnavailable, op, err)
		}
		return nil
	})
}

// EnsureCollection creates the named collection with the given vector
// dimension and distance metric if it does not already exist.
func (a *Adapter) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	exists, err := a.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		a.dims[name] = dim
		return nil
	}

	err = a.withRetry(ctx, "vectorindex.EnsureCollection", func() error {
		return a.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     uint64(dim),
						Distance: qdrantDistance(distance),
					},
				},
			},
		})
	})
	if err != nil {
		return err
	}

	log.Printf("vectorindex: created collection %s (dim=%d, distance=%s)", name, dim, distance)
	a.dims[name] = dim
	return nil
}

// CollectionExists reports whether a collection has been created,
// letting callers distinguish a missing collection from one that exists
// but has no points in it before issuing a query against it.
func (a *Adapter) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := a.withRetry(ctx, "vectorindex.CollectionExists", func() error {
		var err error
		exists, err = a.client.CollectionExists(ctx, collection)
		return err
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Upsert writes points into a collection. It fails fast if any point's
// vector dimension does not match the collection's declared dimension.
func (a *Adapter) Upsert(ctx context.Context, collection string, points []models.VectorPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	dim, known := a.dims[collection]
	qPoints := make([]*qdrant.PointStruct, len(points))
	for i, pt := range points {
		if known && len(pt.Vector) != dim {
			return 0, coreerrors.New(coreerrors.InvalidOptions, "vectorindex.Upsert",
				fmt.Sprintf("vector dimension %d does not match collection dimension %d", len(pt.Vector), dim))
		}

		qPoints[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: pt.ID},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: pt.Vector},
				},
			},
			Payload: payloadOf(pt.Payload),
		}
	}

	err := a.withRetry(ctx, "vectorindex.Upsert", func() error {
		_, err := a.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qPoints,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(points), nil
}

// DeleteByFilter removes every point whose payload matches field=value.
func (a *Adapter) DeleteByFilter(ctx context.Context, collection, field, value string) (int, error) {
	before, err := a.count(ctx, collection, field, value)
	if err != nil {
		return 0, err
	}

	err = a.withRetry(ctx, "vectorindex.DeleteByFilter", func() error {
		_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: matchFilter(field, value),
				},
			},
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return before, nil
}

// ExistsByID reports whether a chunk id is already present in a
// collection, the idempotency check index_file uses to skip unchanged
// files when force_update is false.
func (a *Adapter) ExistsByID(ctx context.Context, collection, id string) (bool, error) {
	count, err := a.count(ctx, collection, "id", id)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *Adapter) count(ctx context.Context, collection, field, value string) (int, error) {
	var result int
	err := a.withRetry(ctx, "vectorindex.count", func() error {
		count, err := a.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         matchFilter(field, value),
		})
		if err != nil {
			return err
		}
		result = int(count)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// Hit is a single scored point returned from Search, already renormalized
// to a [0,1] score.
type Hit struct {
	ID      string
	Score   float64
	Payload models.Chunk
}

// Search runs a vector similarity query and renormalizes the returned
// cosine similarities ([-1,1]) to [0,1] so they are comparable with BM25
// scores under weighted fusion.
func (a *Adapter) Search(ctx context.Context, collection string, queryVector []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		return nil, coreerrors.New(coreerrors.InvalidOptions, "vectorindex.Search", "k must be > 0")
	}

	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		req.Filter = andFilter(filter)
	}

	var hits []Hit
	err := a.withRetry(ctx, "vectorindex.Search", func() error {
		results, err := a.client.Query(ctx, req)
		if err != nil {
			return err
		}
		hits = make([]Hit, len(results))
		for i, r := range results {
			hits[i] = Hit{
				ID:      r.Id.GetUuid(),
				Score:   (float64(r.Score) + 1) / 2,
				Payload: chunkOf(r.Payload),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// ScrollAll pages through every point in a collection and returns their
// chunk payloads, the source rebuild_bm25 replays from after a process
// restart drops the in-memory BM25 state.
func (a *Adapter) ScrollAll(ctx context.Context, collection string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	var offset *qdrant.PointId
	const pageSize = 256

	for {
		limit := uint32(pageSize)
		var pageLen int
		err := a.withRetry(ctx, "vectorindex.ScrollAll", func() error {
			points, err := a.client.Scroll(ctx, &qdrant.ScrollPoints{
				CollectionName: collection,
				Limit:          &limit,
				Offset:         offset,
				WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
			})
			if err != nil {
				return err
			}
			for _, p := range points {
				chunks = append(chunks, chunkOf(p.Payload))
			}
			pageLen = len(points)
			if pageLen > 0 {
				offset = points[len(points)-1].Id
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if pageLen < pageSize {
			break
		}
	}
	return chunks, nil
}

// Close releases the underlying gRPC connection.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceEuclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func matchFilter(field, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   field,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
					},
				},
			},
		},
	}
}

func andFilter(filter map[string]string) *qdrant.Filter {
	conds := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   field,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conds}
}

func payloadOf(c models.Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"id":             qdrant.NewValueString(c.ID),
		"collection":     qdrant.NewValueString(c.Collection),
		"file_path":      qdrant.NewValueString(c.FilePath),
		"language":       qdrant.NewValueString(string(c.Language)),
		"kind":           qdrant.NewValueString(string(c.Kind)),
		"qualified_name": qdrant.NewValueString(c.QualifiedName),
		"content":        qdrant.NewValueString(c.Content),
		"line_start":     qdrant.NewValueInt(int64(c.LineStart)),
		"line_end":       qdrant.NewValueInt(int64(c.LineEnd)),
		"content_hash":   qdrant.NewValueString(c.ContentHash),
	}
}

func chunkOf(payload map[string]*qdrant.Value) models.Chunk {
	return models.Chunk{
		ID:            payload["id"].GetStringValue(),
		Collection:    payload["collection"].GetStringValue(),
		FilePath:      payload["file_path"].GetStringValue(),
		Language:      models.Language(payload["language"].GetStringValue()),
		Kind:          models.ChunkKind(payload["kind"].GetStringValue()),
		QualifiedName: payload["qualified_name"].GetStringValue(),
		Content:       payload["content"].GetStringValue(),
		LineStart:     int(payload["line_start"].GetIntegerValue()),
		LineEnd:       int(payload["line_end"].GetIntegerValue()),
		ContentHash:   payload["content_hash"].GetStringValue(),
	}
}
