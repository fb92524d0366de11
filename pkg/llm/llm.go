// Package llm provides text generation and multimodal transcription clients.
package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"om-smart-go/internal/config"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Generator defines a non-streaming chat completion backend.
type Generator interface {
	Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

// NewGenerator 根据 provider 创建生成客户端。
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// newLimiter 返回每秒 rps 次的限速器，rps <= 0 时不限速。
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Float64 和 Int 用于构造 GenerationParams。
func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
