// Package index 负责分块向量化、持久化，以及按 listing 隔离的相似度检索。
package index

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"om-smart-go/internal/chunker"
	"om-smart-go/internal/model"
	"om-smart-go/pkg/embedding"
	"om-smart-go/pkg/log"
)

const (
	DefaultBatchSize = 5
	DefaultTopK      = 8
)

// ChunkWriter 是分块行的持久化接口，由 repository.ChunkRepository 实现。
type ChunkWriter interface {
	Create(ctx context.Context, chunk *model.Chunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// VectorStore 是近似最近邻检索后端。所有检索都必须带 listing 过滤。
type VectorStore interface {
	Upsert(ctx context.Context, chunk *model.Chunk) error
	Search(ctx context.Context, listingID string, vector []float32, k int) ([]model.ChunkHit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// BatchStats 在每个向量化批次结束时上报。
type BatchStats struct {
	DocumentID string
	Batch      int
	BatchSize  int
	Stored     int
	Total      int
	Elapsed    time.Duration
	HeapAlloc  uint64
}

// BatchObserver 接收批次统计，可用于指标上报。
type BatchObserver func(BatchStats)

// Index 组合分块器、embedding 模型、分块表和向量检索后端。
type Index struct {
	chunker   *chunker.Chunker
	embedder  embedding.Client
	chunks    ChunkWriter
	store     VectorStore
	batchSize int
	timeout   time.Duration
	observer  BatchObserver
}

// Option 配置 Index。
type Option func(*Index)

func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithTimeout 设置单次 embedding 调用的超时。
func WithTimeout(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.timeout = d
		}
	}
}

func WithBatchObserver(o BatchObserver) Option {
	return func(ix *Index) { ix.observer = o }
}

// New 创建 Index。
func New(c *chunker.Chunker, embedder embedding.Client, chunks ChunkWriter, store VectorStore, opts ...Option) *Index {
	ix := &Index{
		chunker:   c,
		embedder:  embedder,
		chunks:    chunks,
		store:     store,
		batchSize: DefaultBatchSize,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// EmbedAndStore 对文本分块、按批向量化并逐块写入，返回分块数。
// 重复调用会先清理该文档已有的分块。embedding 失败返回 ErrEmbeddingFailed，
// 已写入的批次保持有效。
func (ix *Index) EmbedAndStore(ctx context.Context, documentID, listingID, text string) (int, error) {
	if err := ix.DeleteDocument(ctx, documentID); err != nil {
		return 0, fmt.Errorf("清理旧分块失败: %w", err)
	}
	spans := ix.chunker.Split(text)
	if len(spans) == 0 {
		log.Infof("[Index] 文档无可索引文本, documentID: %s", documentID)
		return 0, nil
	}
	log.Infof("[Index] 开始向量化, documentID: %s, chunks: %d, batchSize: %d", documentID, len(spans), ix.batchSize)

	stored := 0
	for batchNo, from := 0, 0; from < len(spans); batchNo, from = batchNo+1, from+ix.batchSize {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		start := time.Now()
		batch := spans[from:min(from+ix.batchSize, len(spans))]

		vectors, err := ix.embed(ctx, batchTexts(batch))
		if err != nil {
			return stored, fmt.Errorf("batch %d: %w", batchNo, err)
		}

		for i, span := range batch {
			chunk := &model.Chunk{
				DocumentID:     documentID,
				ListingID:      listingID,
				Seq:            span.Index,
				Content:        span.Content,
				StartOffset:    span.Start,
				EndOffset:      span.End,
				Embedding:      vectors[i],
				EmbeddingModel: ix.embedder.Model(),
			}
			if err := ix.chunks.Create(ctx, chunk); err != nil {
				return stored, fmt.Errorf("保存分块 %d 失败: %w", span.Index, err)
			}
			if err := ix.store.Upsert(ctx, chunk); err != nil {
				return stored, fmt.Errorf("索引分块 %d 失败: %w", span.Index, err)
			}
			stored++
		}
		ix.reportBatch(documentID, batchNo, len(batch), stored, len(spans), time.Since(start))
	}
	return stored, nil
}

// Query 对查询文本向量化，在 listing 范围内返回相似度最高的 k 个分块。没有结果时返回空列表。
func (ix *Index) Query(ctx context.Context, text, listingID string, k int) ([]model.ChunkHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if strings.TrimSpace(text) == "" || listingID == "" {
		return nil, nil
	}
	vectors, err := ix.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	hits, err := ix.store.Search(ctx, listingID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}
	return hits, nil
}

// DeleteDocument 删除文档的所有分块及其向量。
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ix.store.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return ix.chunks.DeleteByDocumentID(ctx, documentID)
}

func (ix *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	vectors, err := ix.embedder.EmbedBatch(ectx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", model.ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

func (ix *Index) reportBatch(documentID string, batchNo, size, stored, total int, elapsed time.Duration) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := BatchStats{
		DocumentID: documentID,
		Batch:      batchNo,
		BatchSize:  size,
		Stored:     stored,
		Total:      total,
		Elapsed:    elapsed,
		HeapAlloc:  ms.HeapAlloc,
	}
	log.Infow("[Index] 批次完成",
		"document_id", documentID,
		"batch", batchNo,
		"batch_size", size,
		"stored", stored,
		"total", total,
		"elapsed_ms", elapsed.Milliseconds(),
		"heap_alloc_bytes", ms.HeapAlloc,
	)
	if ix.observer != nil {
		ix.observer(stats)
	}
}

func batchTexts(spans []chunker.Span) []string {
	texts := make([]string, len(spans))
	for i, s := range spans {
		texts[i] = s.Content
	}
	return texts
}
