// Package model 定义了与数据库表对应的 Go 结构体。
package model

// Status 是文档抽取和文档生成共用的状态机：pending -> processing -> completed | failed。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal 报告状态是否为终态。终态之后只允许人工重新提交。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Lane 是任务队列的通道，抽取和生成互不阻塞。
type Lane string

const (
	LaneExtraction Lane = "extraction"
	LaneGeneration Lane = "generation"
)
