package retrieval

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// DefaultTopK is the number of context documents handed to the composer
const DefaultTopK = 3

// Match is a document with its similarity to the query
type Match struct {
	Document   domain.RetrievalDocument
	Similarity float64
}

type snapshot struct {
	docs       []domain.RetrievalDocument
	norms      []float64
	dimensions int
}

// Index is an in-memory nearest-neighbor index over reference material.
// Queries read an immutable snapshot; Reload swaps in a new one atomically, so
// readers never need a lock.
type Index struct {
	current atomic.Pointer[snapshot]
}

// NewIndex creates an empty index
func NewIndex() *Index {
	ix := &Index{}
	ix.current.Store(&snapshot{})
	return ix
}

// Reload replaces the indexed documents. Insertion order is preserved and used
// to break similarity ties. All embeddings must share one dimension.
func (ix *Index) Reload(docs []domain.RetrievalDocument) error {
	next := &snapshot{
		docs:  make([]domain.RetrievalDocument, 0, len(docs)),
		norms: make([]float64, 0, len(docs)),
	}
	seen := make(map[string]bool, len(docs))
	for i := range docs {
		d := docs[i]
		if next.dimensions == 0 {
			next.dimensions = len(d.Embedding)
		}
		if err := domain.ValidateRetrievalDocument(&d, next.dimensions); err != nil {
			return fmt.Errorf("document %d (%s): %w", i, d.ID, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("document %d: duplicate id %s", i, d.ID)
		}
		seen[d.ID] = true

		d.Embedding = append([]float32(nil), d.Embedding...)
		next.docs = append(next.docs, d)
		next.norms = append(next.norms, norm(d.Embedding))
	}
	ix.current.Store(next)
	return nil
}

// Len returns the number of indexed documents
func (ix *Index) Len() int {
	return len(ix.current.Load().docs)
}

// Dimensions returns the embedding length of the indexed documents, 0 when empty
func (ix *Index) Dimensions() int {
	return ix.current.Load().dimensions
}

// Query returns up to k documents ranked by descending cosine similarity
func (ix *Index) Query(vector []float32, k int) []domain.RetrievalDocument {
	matches := ix.Search(vector, k)
	docs := make([]domain.RetrievalDocument, len(matches))
	for i, m := range matches {
		docs[i] = m.Document
	}
	return docs
}

// Search is Query with similarity scores. A vector of the wrong dimension
// matches nothing.
func (ix *Index) Search(vector []float32, k int) []Match {
	snap := ix.current.Load()
	if k <= 0 || len(snap.docs) == 0 || len(vector) != snap.dimensions {
		return []Match{}
	}

	qNorm := norm(vector)
	matches := make([]Match, len(snap.docs))
	for i, d := range snap.docs {
		matches[i] = Match{Document: d, Similarity: cosine(vector, d.Embedding, qNorm, snap.norms[i])}
	}
	// stable sort keeps insertion order for equal scores
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// CosineSimilarity returns the cosine of the angle between a and b, 0 when
// either is a zero vector or the lengths differ
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
