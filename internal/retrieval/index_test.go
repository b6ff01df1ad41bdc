package retrieval

import (
	"sync"
	"testing"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id string, vec ...float32) domain.RetrievalDocument {
	return domain.RetrievalDocument{ID: id, Embedding: vec, Text: "text for " + id}
}

func ids(docs []domain.RetrievalDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestIndex_QueryRanksByCosineSimilarity(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Reload([]domain.RetrievalDocument{
		doc("orthogonal", 0, 1, 0),
		doc("close", 0.9, 0.1, 0),
		doc("exact", 2, 0, 0),
		doc("opposite", -1, 0, 0),
	}))

	got := ix.Query([]float32{1, 0, 0}, 3)
	assert.Equal(t, []string{"exact", "close", "orthogonal"}, ids(got))
}

func TestIndex_TiesBrokenByInsertionOrder(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Reload([]domain.RetrievalDocument{
		doc("first", 1, 0),
		doc("second", 2, 0),
		doc("third", 0.5, 0),
		doc("other", 0, 1),
	}))

	got := ix.Query([]float32{1, 0}, 3)
	assert.Equal(t, []string{"first", "second", "third"}, ids(got))
}

func TestIndex_EmptyAndDegenerateQueries(t *testing.T) {
	ix := NewIndex()
	assert.Empty(t, ix.Query([]float32{1, 0}, 3))
	assert.Equal(t, 0, ix.Len())

	require.NoError(t, ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0)}))
	assert.Empty(t, ix.Query([]float32{1, 0, 0}, 3), "dimension mismatch")
	assert.Empty(t, ix.Query([]float32{1, 0}, 0))
	assert.Len(t, ix.Query([]float32{1, 0}, 10), 1)
}

func TestIndex_ReloadValidates(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0)}))

	err := ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0), doc("b", 1, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0), doc("a", 0, 1)})
	assert.Error(t, err)

	// a failed reload keeps the previous snapshot
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 2, ix.Dimensions())
}

func TestIndex_ReloadCopiesEmbeddings(t *testing.T) {
	vec := []float32{1, 0}
	ix := NewIndex()
	require.NoError(t, ix.Reload([]domain.RetrievalDocument{{ID: "a", Embedding: vec, Text: "x"}}))
	vec[0] = -1

	got := ix.Search([]float32{1, 0}, 1)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
}

func TestIndex_ConcurrentQueriesDuringReload(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0)}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := ix.Query([]float32{1, 0}, 1)
				assert.Len(t, got, 1)
			}
		}()
	}
	for j := 0; j < 20; j++ {
		require.NoError(t, ix.Reload([]domain.RetrievalDocument{doc("a", 1, 0), doc("b", 0, 1)}))
	}
	wg.Wait()
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}
