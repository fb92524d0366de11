package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// JobRepository 定义了对 pipeline_jobs 和 processing_logs 表的数据操作接口。
type JobRepository interface {
	Create(ctx context.Context, job *model.PipelineJob) error
	FindByID(ctx context.Context, id uint) (*model.PipelineJob, error)
	// StartAttempt 标记任务开始一次尝试，attempts 加一。
	StartAttempt(ctx context.Context, id uint) error
	RecordError(ctx context.Context, id uint, detail string) error
	Finish(ctx context.Context, id uint, status model.Status, detail *string) error
	Heartbeat(ctx context.Context, id uint) error
	ListUnfinished(ctx context.Context, lane model.Lane) ([]model.PipelineJob, error)
	// ListStale 返回 before 之前就没有任何进展的未完成任务。
	ListStale(ctx context.Context, lane model.Lane, before time.Time) ([]model.PipelineJob, error)
	AppendLog(ctx context.Context, entry *model.ProcessingLog) error
	ListLogs(ctx context.Context, entityID string) ([]model.ProcessingLog, error)
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job *model.PipelineJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) FindByID(ctx context.Context, id uint) (*model.PipelineJob, error) {
	var job model.PipelineJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (r *jobRepository) StartAttempt(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.PipelineJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.StatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": &now,
		}).Error
}

func (r *jobRepository) RecordError(ctx context.Context, id uint, detail string) error {
	return r.db.WithContext(ctx).Model(&model.PipelineJob{}).Where("id = ?", id).
		Update("last_error", detail).Error
}

func (r *jobRepository) Finish(ctx context.Context, id uint, status model.Status, detail *string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": &now,
	}
	if detail != nil {
		updates["last_error"] = *detail
	}
	return r.db.WithContext(ctx).Model(&model.PipelineJob{}).Where("id = ?", id).Updates(updates).Error
}

func (r *jobRepository) Heartbeat(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&model.PipelineJob{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// ListUnfinished 按创建顺序返回未进入终态的任务，用于重启后恢复。
func (r *jobRepository) ListUnfinished(ctx context.Context, lane model.Lane) ([]model.PipelineJob, error) {
	var jobs []model.PipelineJob
	err := r.db.WithContext(ctx).
		Where("lane = ? AND status IN ?", lane, []model.Status{model.StatusPending, model.StatusProcessing}).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) ListStale(ctx context.Context, lane model.Lane, before time.Time) ([]model.PipelineJob, error) {
	var jobs []model.PipelineJob
	err := r.db.WithContext(ctx).
		Where("lane = ? AND status IN ? AND updated_at < ?", lane, []model.Status{model.StatusPending, model.StatusProcessing}, before).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) AppendLog(ctx context.Context, entry *model.ProcessingLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *jobRepository) ListLogs(ctx context.Context, entityID string) ([]model.ProcessingLog, error) {
	var logs []model.ProcessingLog
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).Order("id ASC").Find(&logs).Error
	return logs, err
}
