// Package pipeline 定义了抽取和生成两条队列上的阶段处理器。
// 每个处理器只推进自己负责的实体状态，并在每一步写入 processing_logs。
package pipeline

import (
	"context"
	"time"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

// 处理步骤名，写入 processing_logs.step。
const (
	StepDownload = "download"
	StepExtract  = "extract"
	StepIndex    = "index"
	StepResolve  = "resolve"
	StepRender   = "render"
	StepUpload   = "upload"
)

const (
	stepOK     = "ok"
	stepFailed = "failed"
)

// LogWriter 持久化步骤日志，由 repository.JobRepository 实现。
type LogWriter interface {
	AppendLog(ctx context.Context, entry *model.ProcessingLog) error
}

type stepLogger struct {
	logs     LogWriter
	lane     model.Lane
	entityID string
}

// record 写入一行步骤日志。日志写失败不影响处理结果。
func (s stepLogger) record(ctx context.Context, step string, started time.Time, err error, fill func(*model.ProcessingLog)) {
	if s.logs == nil {
		return
	}
	entry := &model.ProcessingLog{
		EntityID:   s.entityID,
		Lane:       s.lane,
		Step:       step,
		Status:     stepOK,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		entry.Status = stepFailed
		entry.Message = err.Error()
	}
	if fill != nil {
		fill(entry)
	}
	if werr := s.logs.AppendLog(context.WithoutCancel(ctx), entry); werr != nil {
		log.Warnf("[Pipeline] 写入处理日志失败, entity=%s, step=%s: %v", s.entityID, step, werr)
	}
}

func ptr[T any](v T) *T { return &v }
