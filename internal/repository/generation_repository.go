package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// GenerationRepository 定义了对 generated_documents 表的数据操作接口。
type GenerationRepository interface {
	Create(ctx context.Context, gen *model.GeneratedDocument) error
	FindByID(ctx context.Context, id string) (*model.GeneratedDocument, error)
	ListByListing(ctx context.Context, listingID string) ([]model.GeneratedDocument, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string, values []model.ResolvedValue, pdfKey, docxKey *string) error
	MarkFailed(ctx context.Context, id, detail string, values []model.ResolvedValue) error
}

type generationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

func (r *generationRepository) Create(ctx context.Context, gen *model.GeneratedDocument) error {
	return r.db.WithContext(ctx).Create(gen).Error
}

func (r *generationRepository) FindByID(ctx context.Context, id string) (*model.GeneratedDocument, error) {
	var gen model.GeneratedDocument
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&gen).Error; err != nil {
		return nil, notFound(err)
	}
	return &gen, nil
}

func (r *generationRepository) ListByListing(ctx context.Context, listingID string) ([]model.GeneratedDocument, error) {
	var gens []model.GeneratedDocument
	err := r.db.WithContext(ctx).Where("listing_id = ?", listingID).Order("created_at DESC").Find(&gens).Error
	return gens, err
}

func (r *generationRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.GeneratedDocument{}).
		Where("id = ? AND status IN ?", id, []model.Status{model.StatusPending, model.StatusProcessing}).
		Update("status", model.StatusProcessing)
	return res.RowsAffected > 0, res.Error
}

// MarkCompleted 一次性写入取值快照和产物位置，之后该行不再修改。
func (r *generationRepository) MarkCompleted(ctx context.Context, id string, values []model.ResolvedValue, pdfKey, docxKey *string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.GeneratedDocument{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":          model.StatusCompleted,
			"resolved_values": datatypes.NewJSONType(values),
			"pdf_key":         pdfKey,
			"docx_key":        docxKey,
			"completed_at":    &now,
		}).Error
}

func (r *generationRepository) MarkFailed(ctx context.Context, id, detail string, values []model.ResolvedValue) error {
	updates := map[string]interface{}{
		"status":       model.StatusFailed,
		"error_detail": detail,
	}
	if values != nil {
		updates["resolved_values"] = datatypes.NewJSONType(values)
	}
	return r.db.WithContext(ctx).Model(&model.GeneratedDocument{}).
		Where("id = ? AND status IN ?", id, []model.Status{model.StatusPending, model.StatusProcessing}).
		Updates(updates).Error
}
