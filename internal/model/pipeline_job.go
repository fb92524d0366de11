package model

import "time"

// PipelineJob 对应 pipeline_jobs 表，是队列任务的持久化记录。
// 进程重启后，未进入终态的任务会被重新投递。
type PipelineJob struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Lane       Lane       `gorm:"type:varchar(16);not null;index:idx_job_lane_status" json:"lane"`
	EntityID   string     `gorm:"type:varchar(36);not null;index" json:"entityId"`
	Status     Status     `gorm:"type:varchar(16);not null;default:pending;index:idx_job_lane_status" json:"status"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	LastError  *string    `gorm:"type:text" json:"lastError,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	// UpdatedAt 随每次状态变化和处理期间的心跳刷新。
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (PipelineJob) TableName() string {
	return "pipeline_jobs"
}

// ProcessingLog 对应 processing_logs 表，每个阶段步骤一行，便于排查。
type ProcessingLog struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityID      string    `gorm:"type:varchar(36);not null;index" json:"entityId"`
	Lane          Lane      `gorm:"type:varchar(16);not null" json:"lane"`
	Step          string    `gorm:"type:varchar(32);not null" json:"step"`
	Status        string    `gorm:"type:varchar(16);not null" json:"status"`
	Message       string    `gorm:"type:text" json:"message"`
	DurationMS    int64     `gorm:"not null;default:0" json:"durationMs"`
	TextLength    int       `gorm:"not null;default:0" json:"textLength"`
	ChunksCreated int       `gorm:"not null;default:0" json:"chunksCreated"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ProcessingLog) TableName() string {
	return "processing_logs"
}
