package repository

import (
	"context"

	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// TemplateRepository 定义了对 templates / template_variables 表的数据操作接口。
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *model.Template) error
	// FindByID 预加载变量，按 sort_order 排序。
	FindByID(ctx context.Context, id string) (*model.Template, error)
	List(ctx context.Context) ([]model.Template, error)
}

type templateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create 在一个事务里写入模板和变量。
func (r *templateRepository) Create(ctx context.Context, tmpl *model.Template) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(tmpl).Error
	})
}

func (r *templateRepository) FindByID(ctx context.Context, id string) (*model.Template, error) {
	var tmpl model.Template
	err := r.db.WithContext(ctx).
		Preload("Variables", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&tmpl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tmpl, nil
}

func (r *templateRepository) List(ctx context.Context) ([]model.Template, error) {
	var tmpls []model.Template
	err := r.db.WithContext(ctx).Order("name ASC, version DESC").Find(&tmpls).Error
	return tmpls, err
}
