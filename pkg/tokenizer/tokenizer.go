// Package tokenizer 估算文本的 token 数，用于控制 prompt 的上下文预算。
package tokenizer

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"om-smart-go/pkg/log"
)

// Counter 计算一段文本的 token 数。
type Counter interface {
	Count(text string) int
}

// Heuristic 按 4 字符/token 估算，与分块器使用同一换算。
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Tiktoken 使用 BPE 编码精确计数。
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// New 按模型名加载编码；未知模型使用 cl100k_base，加载失败时退回 Heuristic。
func New(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		log.Warnf("[Tokenizer] 加载 tiktoken 编码失败, 使用 4 字符/token 估算: %v", err)
		return Heuristic{}
	}
	return &Tiktoken{enc: enc}
}
