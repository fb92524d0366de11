// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "om-smart-go/internal/model"

// PipelineTask 是投递到某条队列的一次处理任务。
// EntityID 在抽取队列里是文档 ID，在生成队列里是生成记录 ID。
type PipelineTask struct {
	JobID    uint       `json:"job_id"`
	Lane     model.Lane `json:"lane"`
	EntityID string     `json:"entity_id"`
}
