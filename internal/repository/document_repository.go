// Package repository 封装了对数据库的读写。
package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	ListByListing(ctx context.Context, listingID string) ([]model.Document, error)
	ListCompletedByListing(ctx context.Context, listingID string) ([]model.Document, error)
	CountCompletedByListing(ctx context.Context, listingID string) (int64, error)
	// MarkProcessing 只在 pending / processing 状态下生效，返回是否成功抢到该文档。
	MarkProcessing(ctx context.Context, id string) (bool, error)
	SaveExtraction(ctx context.Context, id, text string, meta model.ExtractionMetadata) error
	MarkCompleted(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id, detail string) error
	// ResetToPending 只允许 failed 文档重新提交。
	ResetToPending(ctx context.Context, id string) (bool, error)
	// Delete 在同一事务内删除文档及其分块。
	Delete(ctx context.Context, id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r *documentRepository) ListByListing(ctx context.Context, listingID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Omit("extracted_text").
		Where("listing_id = ?", listingID).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

func (r *documentRepository) ListCompletedByListing(ctx context.Context, listingID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, model.StatusCompleted).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

func (r *documentRepository) CountCompletedByListing(ctx context.Context, listingID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("listing_id = ? AND status = ?", listingID, model.StatusCompleted).
		Count(&n).Error
	return n, err
}

func (r *documentRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, []model.Status{model.StatusPending, model.StatusProcessing}).
		Updates(map[string]interface{}{"status": model.StatusProcessing, "error_detail": nil})
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepository) SaveExtraction(ctx context.Context, id, text string, meta model.ExtractionMetadata) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"extracted_text": text,
			"metadata":       datatypes.NewJSONType(meta),
		}).Error
}

func (r *documentRepository) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.StatusCompleted,
			"chunk_count":  chunkCount,
			"completed_at": &now,
		}).Error
}

func (r *documentRepository) MarkFailed(ctx context.Context, id, detail string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, []model.Status{model.StatusPending, model.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.StatusFailed,
			"error_detail": detail,
		}).Error
}

func (r *documentRepository) ResetToPending(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusFailed).
		Updates(map[string]interface{}{
			"status":       model.StatusPending,
			"error_detail": nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}
