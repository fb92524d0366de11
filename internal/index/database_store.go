package index

import (
	"context"
	"math"
	"sort"

	"om-smart-go/internal/model"
)

// ChunkLister 按 listing 读取带向量的分块行。
type ChunkLister interface {
	FindByListingID(ctx context.Context, listingID string) ([]model.Chunk, error)
}

// DatabaseStore 直接在 chunks 表上做 listing 范围内的全量余弦扫描。
// 单个 listing 只有几百到几千个分块，全量扫描足够。
type DatabaseStore struct {
	chunks ChunkLister
}

func NewDatabaseStore(chunks ChunkLister) *DatabaseStore {
	return &DatabaseStore{chunks: chunks}
}

// Upsert 无需额外写入，分块行本身就是索引。
func (s *DatabaseStore) Upsert(context.Context, *model.Chunk) error { return nil }

func (s *DatabaseStore) DeleteByDocument(context.Context, string) error { return nil }

func (s *DatabaseStore) Search(ctx context.Context, listingID string, vector []float32, k int) ([]model.ChunkHit, error) {
	rows, err := s.chunks.FindByListingID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	hits := make([]model.ChunkHit, 0, len(rows))
	for _, c := range rows {
		if c.ListingID != listingID || len(c.Embedding) != len(vector) {
			continue
		}
		hits = append(hits, model.ChunkHit{
			DocumentID: c.DocumentID,
			Seq:        c.Seq,
			Content:    c.Content,
			Similarity: CosineSimilarity(vector, c.Embedding),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// CosineSimilarity 计算两个向量的余弦相似度，维度不同或零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
