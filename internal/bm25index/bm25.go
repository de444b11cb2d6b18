// Package bm25index implements an in-memory, per-collection Okapi BM25
// index with transactional add/remove semantics. Library implementations
// in the wild (crawlab-team/bm25 and similar) expose a corpus-rebuild API
// rather than per-document df/avgdl bookkeeping, so this is hand-rolled
// to support the remove-then-add mutation model the indexer needs.
package bm25index

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/jamaly87/codebase-rag-core/internal/models"
)

// ErrInvalidDocument is returned by AddBatch when a document cannot be
// accepted; no document in the batch is applied when this is returned.
var ErrInvalidDocument = errors.New("bm25index: document has empty doc_id")

const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Config tunes the Okapi BM25 formula constants.
type Config struct {
	K1 float64
	B  float64
}

// DefaultConfig returns the design constants from the component spec.
func DefaultConfig() Config {
	return Config{K1: defaultK1, B: defaultB}
}

type posting struct {
	docID string
	tf    int
}

type collectionState struct {
	mu         sync.RWMutex
	df         map[string]int
	postings   map[string][]posting
	docLen     map[string]int
	docPayload map[string]models.Chunk
	totalLen   int
}

func newCollectionState() *collectionState {
	return &collectionState{
		df:         make(map[string]int),
		postings:   make(map[string][]posting),
		docLen:     make(map[string]int),
		docPayload: make(map[string]models.Chunk),
	}
}

// Index is the BM25 index for a set of independent collections.
type Index struct {
	cfg Config

	mu          sync.RWMutex
	collections map[string]*collectionState
	known       map[string]bool
}

// New builds an empty Index using the given scoring configuration.
func New(cfg Config) *Index {
	if cfg.K1 == 0 {
		cfg.K1 = defaultK1
	}
	if cfg.B == 0 {
		cfg.B = defaultB
	}
	return &Index{cfg: cfg, collections: make(map[string]*collectionState), known: make(map[string]bool)}
}

// EnsureCollection marks a collection as created, mirroring the vector
// index's explicit collection creation, so Exists reports true even
// before any document has been written.
func (idx *Index) EnsureCollection(name string) {
	idx.collection(name)
	idx.markKnown(name)
}

// Exists reports whether a collection has been created via
// EnsureCollection or by a prior write, distinguishing a collection that
// was never created from one that exists but is empty.
func (idx *Index) Exists(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.known[name]
}

func (idx *Index) markKnown(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.known[name] = true
}

func (idx *Index) collection(name string) *collectionState {
	idx.mu.RLock()
	c, ok := idx.collections[name]
	idx.mu.RUnlock()
	if ok {
		return c
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c, ok = idx.collections[name]; ok {
		return c
	}
	c = newCollectionState()
	idx.collections[name] = c
	return c
}

// Add indexes a single document's tokens and payload. A doc_id that
// already exists is treated as remove-then-add.
func (idx *Index) Add(collection, docID string, tokens []string, payload models.Chunk) {
	c := idx.collection(collection)
	c.mu.Lock()
	c.removeLocked(docID)
	c.addLocked(docID, tokens, payload)
	c.mu.Unlock()
	idx.markKnown(collection)
}

// Remove deletes a document from a collection's index, adjusting df and
// avgdl. Removing a doc_id that does not exist is a no-op.
func (idx *Index) Remove(collection, docID string) {
	c := idx.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(docID)
}

// AddBatch applies a set of additions to a collection atomically: either
// every document is added, or, if any document is invalid, none are and
// an error is returned.
func (idx *Index) AddBatch(collection string, docs []struct {
	DocID   string
	Tokens  []string
	Payload models.Chunk
}) error {
	for _, d := range docs {
		if d.DocID == "" {
			return ErrInvalidDocument
		}
	}

	c := idx.collection(collection)
	c.mu.Lock()
	for _, d := range docs {
		c.removeLocked(d.DocID)
		c.addLocked(d.DocID, d.Tokens, d.Payload)
	}
	c.mu.Unlock()
	idx.markKnown(collection)
	return nil
}

// RemoveBatch removes a set of documents from a collection atomically.
func (idx *Index) RemoveBatch(collection string, docIDs []string) {
	c := idx.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range docIDs {
		c.removeLocked(id)
	}
}

// RemoveByFilePath removes every document in a collection whose payload
// FilePath matches path, mirroring the vector index's delete_by_filter.
func (idx *Index) RemoveByFilePath(collection, path string) int {
	c := idx.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for docID, payload := range c.docPayload {
		if payload.FilePath == path {
			toRemove = append(toRemove, docID)
		}
	}
	for _, id := range toRemove {
		c.removeLocked(id)
	}
	return len(toRemove)
}

func (c *collectionState) addLocked(docID string, tokens []string, payload models.Chunk) {
	if len(tokens) == 0 {
		c.docLen[docID] = 0
		c.docPayload[docID] = payload
		return
	}

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	for term, freq := range tf {
		c.postings[term] = insertSorted(c.postings[term], posting{docID: docID, tf: freq})
		c.df[term]++
	}

	c.docLen[docID] = len(tokens)
	c.docPayload[docID] = payload
	c.totalLen += len(tokens)
}

func (c *collectionState) removeLocked(docID string) {
	length, ok := c.docLen[docID]
	if !ok {
		return
	}

	for term, posts := range c.postings {
		filtered := posts[:0]
		removed := false
		for _, p := range posts {
			if p.docID == docID {
				removed = true
				continue
			}
			filtered = append(filtered, p)
		}
		if removed {
			if len(filtered) == 0 {
				delete(c.postings, term)
				delete(c.df, term)
			} else {
				c.postings[term] = filtered
				c.df[term] = len(filtered)
			}
		}
	}

	c.totalLen -= length
	delete(c.docLen, docID)
	delete(c.docPayload, docID)
}

func insertSorted(posts []posting, p posting) []posting {
	i := sort.Search(len(posts), func(i int) bool { return posts[i].docID >= p.docID })
	posts = append(posts, posting{})
	copy(posts[i+1:], posts[i:])
	posts[i] = p
	return posts
}

// Hit is a single scored document from Search.
type Hit struct {
	DocID   string
	Score   float64
	Payload models.Chunk
}

// Search scores every document in a collection's index against
// queryTokens using Okapi BM25 and returns the top k by descending score.
// Scores are not normalized; callers performing fusion normalize them.
func (idx *Index) Search(collection string, queryTokens []string, k int) []Hit {
	c := idx.collection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.docLen)
	if n == 0 || k <= 0 {
		return nil
	}
	avgdl := c.avgdlLocked()

	scores := make(map[string]float64)
	for _, term := range queryTokens {
		df := c.df[term]
		if df == 0 {
			continue
		}
		idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for _, p := range c.postings[term] {
			dl := float64(c.docLen[p.docID])
			tf := float64(p.tf)
			denom := tf + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*dl/avgdl)
			scores[p.docID] += idf * tf * (idx.cfg.K1 + 1) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for docID, score := range scores {
		hits = append(hits, Hit{DocID: docID, Score: score, Payload: c.docPayload[docID]})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (c *collectionState) avgdlLocked() float64 {
	n := len(c.docLen)
	if n == 0 {
		return 0
	}
	return float64(c.totalLen) / float64(n)
}

// DocCount returns the number of documents currently indexed for a
// collection.
func (idx *Index) DocCount(collection string) int {
	c := idx.collection(collection)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docLen)
}

// Rebuild discards a collection's state and replays it from a fresh set
// of documents, used for cold-start recovery from vector-store payloads.
func (idx *Index) Rebuild(collection string, docs []struct {
	DocID   string
	Tokens  []string
	Payload models.Chunk
}) {
	idx.mu.Lock()
	idx.collections[collection] = newCollectionState()
	idx.known[collection] = true
	idx.mu.Unlock()

	c := idx.collection(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range docs {
		c.addLocked(d.DocID, d.Tokens, d.Payload)
	}
}
