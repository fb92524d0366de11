package service

import (
	"context"
	"fmt"
	"strings"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

const maxSearchK = 50

// Searcher 是按 listing 范围做向量检索的索引。
type Searcher interface {
	Query(ctx context.Context, text, listingID string, k int) ([]model.ChunkHit, error)
}

// SearchService 接口定义了检索相关的业务操作。
type SearchService interface {
	Query(ctx context.Context, listingID, query string, k int) ([]model.ChunkHit, error)
}

type searchService struct {
	index    Searcher
	defaultK int
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(index Searcher, defaultK int) SearchService {
	if defaultK <= 0 {
		defaultK = 8
	}
	return &searchService{index: index, defaultK: defaultK}
}

// Query 只返回 listingID 范围内的分块，k 超出范围时取默认值或上限。
func (s *searchService) Query(ctx context.Context, listingID, query string, k int) ([]model.ChunkHit, error) {
	query = strings.TrimSpace(query)
	if listingID == "" || query == "" {
		return nil, fmt.Errorf("%w: listing id and query are required", ErrInvalidInput)
	}
	if k <= 0 {
		k = s.defaultK
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	hits, err := s.index.Query(ctx, query, listingID, k)
	if err != nil {
		return nil, err
	}
	log.Infof("[SearchService] 检索完成, listing: %s, k: %d, 命中: %d", listingID, k, len(hits))
	return hits, nil
}
