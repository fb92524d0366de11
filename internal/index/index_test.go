package index

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"om-smart-go/internal/chunker"
	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/database"
)

// keywordEmbedder 按关键词出现与否生成向量，结果可预测。
type keywordEmbedder struct {
	mu      sync.Mutex
	calls   [][]string
	failOn  int
	failErr error
}

var keywords = []string{"revenue", "employees", "warehouse"}

func (e *keywordEmbedder) Model() string { return "keyword-test" }

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, texts)
	if e.failOn > 0 && len(e.calls) == e.failOn {
		return nil, e.failErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(keywords)+1)
		lower := strings.ToLower(t)
		for j, kw := range keywords {
			if strings.Contains(lower, kw) {
				v[j] = 1
			}
		}
		v[len(keywords)] = 0.1
		out[i] = v
	}
	return out, nil
}

func setupIndex(t *testing.T, c *chunker.Chunker, embedder *keywordEmbedder, opts ...Option) (*Index, repository.ChunkRepository) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	chunks := repository.NewChunkRepository(db)
	return New(c, embedder, chunks, NewDatabaseStore(chunks), opts...), chunks
}

func TestEmbedAndStore_Batches(t *testing.T) {
	ctx := context.Background()
	c := chunker.New(chunker.WithChunkTokens(25))
	embedder := &keywordEmbedder{}
	var stats []BatchStats
	ix, chunks := setupIndex(t, c, embedder, WithBatchObserver(func(s BatchStats) { stats = append(stats, s) }))

	text := strings.Repeat("x", 1000)
	want := len(c.Split(text))
	require.Greater(t, want, DefaultBatchSize)

	n, err := ix.EmbedAndStore(ctx, "doc-1", "listing-1", text)
	require.NoError(t, err)
	assert.Equal(t, want, n)

	wantBatches := (want + DefaultBatchSize - 1) / DefaultBatchSize
	assert.Len(t, embedder.calls, wantBatches)
	require.Len(t, stats, wantBatches)
	total := 0
	for i, s := range stats {
		assert.LessOrEqual(t, s.BatchSize, DefaultBatchSize)
		assert.Equal(t, i, s.Batch)
		total += s.BatchSize
		assert.Equal(t, total, s.Stored)
	}
	assert.Equal(t, want, total)

	rows, err := chunks.FindByDocumentID(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rows, want)
	for i, r := range rows {
		assert.Equal(t, i, r.Seq)
		assert.Equal(t, "keyword-test", r.EmbeddingModel)
		assert.Len(t, r.Embedding, len(keywords)+1)
	}

	t.Run("re-run replaces chunks", func(t *testing.T) {
		n, err := ix.EmbedAndStore(ctx, "doc-1", "listing-1", text)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		count, err := chunks.CountByDocumentID(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(want), count)
	})
}

func TestEmbedAndStore_EmptyText(t *testing.T) {
	embedder := &keywordEmbedder{}
	ix, _ := setupIndex(t, chunker.New(), embedder)

	n, err := ix.EmbedAndStore(context.Background(), "doc-1", "listing-1", "  \n\n ")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, embedder.calls)
}

func TestEmbedAndStore_EmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	c := chunker.New(chunker.WithChunkTokens(25))
	embedder := &keywordEmbedder{failOn: 2, failErr: errors.New("provider unavailable")}
	ix, chunks := setupIndex(t, c, embedder)

	n, err := ix.EmbedAndStore(ctx, "doc-1", "listing-1", strings.Repeat("y", 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEmbeddingFailed)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, DefaultBatchSize, n)

	count, err := chunks.CountByDocumentID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultBatchSize), count)
}

func TestQuery_ListingScope(t *testing.T) {
	ctx := context.Background()
	ix, _ := setupIndex(t, chunker.New(), &keywordEmbedder{})

	_, err := ix.EmbedAndStore(ctx, "doc-a", "listing-a", "Annual revenue grew to 12 million.")
	require.NoError(t, err)
	_, err = ix.EmbedAndStore(ctx, "doc-a2", "listing-a", "The warehouse is leased.")
	require.NoError(t, err)
	_, err = ix.EmbedAndStore(ctx, "doc-b", "listing-b", "Revenue for listing b is confidential.")
	require.NoError(t, err)

	hits, err := ix.Query(ctx, "What is the revenue?", "listing-a", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-a", hits[0].DocumentID)
	for _, h := range hits {
		assert.NotEqual(t, "doc-b", h.DocumentID)
	}

	t.Run("k limits results", func(t *testing.T) {
		hits, err := ix.Query(ctx, "revenue", "listing-a", 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("unknown listing returns empty", func(t *testing.T) {
		hits, err := ix.Query(ctx, "revenue", "listing-z", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("delete removes document from results", func(t *testing.T) {
		require.NoError(t, ix.DeleteDocument(ctx, "doc-a"))
		hits, err := ix.Query(ctx, "revenue", "listing-a", 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc-a2", hits[0].DocumentID)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}
