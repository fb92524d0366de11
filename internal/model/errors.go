package model

import "errors"

// 管道错误分类。调用方用 errors.Is 判断，底层原因通过 %w 一并包装。
// 检索结果为空不是错误，直接返回空列表。
var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrEmbeddingFailed    = errors.New("embedding failed")
	ErrGenerationFailed   = errors.New("generation failed")
	ErrRenderingFailed    = errors.New("rendering failed")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrNotReady           = errors.New("not ready")
	ErrNotFound           = errors.New("not found")
)

// IsRetryable 报告错误是否值得在队列里重试。
// 格式不支持、抽取失败、渲染失败和记录不存在都是终态错误，重试没有意义。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrExtractionFailed),
		errors.Is(err, ErrRenderingFailed),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPreconditionFailed):
		return false
	}
	return true
}
