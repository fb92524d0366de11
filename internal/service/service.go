// Package service 包含了应用的业务逻辑层，对外暴露提交文档、发起生成和查询状态等操作。
// 所有耗时工作都投递到队列，接口调用立即返回。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"om-smart-go/internal/model"
	"om-smart-go/internal/repository"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/tasks"
)

// ErrInvalidInput 表示请求参数不合法。
var ErrInvalidInput = errors.New("invalid input")

// Dispatcher 把任务投递到队列，由 kafka.Producer 实现。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.PipelineTask) error
}

// jobQueue 先写 pipeline_jobs 再投递，投递失败的任务会在重启恢复时重新发送。
type jobQueue struct {
	jobs       repository.JobRepository
	dispatcher Dispatcher
}

func (q jobQueue) enqueue(ctx context.Context, lane model.Lane, entityID string) error {
	job := &model.PipelineJob{Lane: lane, EntityID: entityID, Status: model.StatusPending}
	if err := q.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("创建任务记录失败: %w", err)
	}
	task := tasks.PipelineTask{JobID: job.ID, Lane: lane, EntityID: entityID}
	if err := q.dispatcher.Dispatch(ctx, task); err != nil {
		log.Warnf("[Queue] 投递任务失败, 将在恢复时重试: lane=%s, entity=%s, err=%v", lane, entityID, err)
	}
	return nil
}

// RecoverJobs 重新投递所有未进入终态的任务，返回投递数量。启动时调用。
func RecoverJobs(ctx context.Context, jobs repository.JobRepository, dispatcher Dispatcher) (int, error) {
	return redispatch(ctx, dispatcher, func(lane model.Lane) ([]model.PipelineJob, error) {
		return jobs.ListUnfinished(ctx, lane)
	})
}

// RecoverStaleJobs 只重新投递 before 之后没有心跳的未完成任务：
// 投递失败后一直 pending 的任务，以及消费者崩溃后停在 processing 的任务。
func RecoverStaleJobs(ctx context.Context, jobs repository.JobRepository, dispatcher Dispatcher, before time.Time) (int, error) {
	return redispatch(ctx, dispatcher, func(lane model.Lane) ([]model.PipelineJob, error) {
		return jobs.ListStale(ctx, lane, before)
	})
}

// RunRecoveryLoop 每 interval 扫描一次超过 staleAfter 没有进展的任务，阻塞直到 ctx 结束。
func RunRecoveryLoop(ctx context.Context, jobs repository.JobRepository, dispatcher Dispatcher, interval, staleAfter time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := RecoverStaleJobs(ctx, jobs, dispatcher, time.Now().Add(-staleAfter)); err != nil {
				log.Warnf("[Queue] 定时恢复任务失败: %v", err)
			}
		}
	}
}

func redispatch(ctx context.Context, dispatcher Dispatcher, list func(model.Lane) ([]model.PipelineJob, error)) (int, error) {
	n := 0
	for _, lane := range []model.Lane{model.LaneExtraction, model.LaneGeneration} {
		pending, err := list(lane)
		if err != nil {
			return n, err
		}
		for _, job := range pending {
			task := tasks.PipelineTask{JobID: job.ID, Lane: job.Lane, EntityID: job.EntityID}
			if err := dispatcher.Dispatch(ctx, task); err != nil {
				return n, fmt.Errorf("重新投递任务 %d 失败: %w", job.ID, err)
			}
			n++
		}
	}
	if n > 0 {
		log.Infof("[Queue] 已重新投递 %d 个未完成任务", n)
	}
	return n, nil
}
