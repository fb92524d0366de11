package repository

import (
	"context"

	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// ChunkRepository 定义了对 chunks 表的数据操作接口。
type ChunkRepository interface {
	// Create 单条插入，保证向量和内容原子写入。
	Create(ctx context.Context, chunk *model.Chunk) error
	FindByDocumentID(ctx context.Context, documentID string) ([]model.Chunk, error)
	FindByListingID(ctx context.Context, listingID string) ([]model.Chunk, error)
	CountByDocumentID(ctx context.Context, documentID string) (int64, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) Create(ctx context.Context, chunk *model.Chunk) error {
	return r.db.WithContext(ctx).Create(chunk).Error
}

// FindByDocumentID 按 seq 升序返回文档的全部分块。
func (r *chunkRepository) FindByDocumentID(ctx context.Context, documentID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("seq ASC").Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) FindByListingID(ctx context.Context, listingID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := r.db.WithContext(ctx).Where("listing_id = ?", listingID).Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) CountByDocumentID(ctx context.Context, documentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

// DeleteByDocumentID 删除文档的全部分块（幂等）。
func (r *chunkRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}
