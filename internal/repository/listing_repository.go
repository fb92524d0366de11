package repository

import (
	"context"

	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// ListingRepository 只读访问 listing 服务维护的 listings 表。
type ListingRepository interface {
	FindByID(ctx context.Context, id string) (*model.Listing, error)
}

type listingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	var l model.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}
