package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"om-smart-go/internal/config"
)

// GeminiClient 封装 Gemini 的文本生成和多模态转写。
type GeminiClient struct {
	client    *genai.Client
	model     string
	gen       config.LLMGenerationConfig
	limiter   *rate.Limiter
	vision    config.VisionConfig
	visionLim *rate.Limiter
}

// NewGeminiClient 创建用于文本生成的 Gemini 客户端。
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		gen:     cfg.Generation,
		limiter: newLimiter(cfg.RateLimit),
	}, nil
}

// NewGeminiVision 创建只用于扫描件/图片转写的 Gemini 客户端。
func NewGeminiVision(ctx context.Context, cfg config.VisionConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini vision client: %w", err)
	}
	return &GeminiClient{client: client, vision: cfg}, nil
}

// Generate 实现 Generator。system 角色的消息作为 SystemInstruction，其余按顺序拼成一轮输入。
func (c *GeminiClient) Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", err
	}
	m := c.client.GenerativeModel(c.model)

	var system, user []string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
		} else {
			user = append(user, msg.Content)
		}
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	temperature := c.gen.Temperature
	maxTokens := c.gen.MaxTokens
	if gen != nil && gen.Temperature != nil {
		temperature = *gen.Temperature
	}
	if gen != nil && gen.MaxTokens != nil {
		maxTokens = *gen.MaxTokens
	}
	m.SetTemperature(float32(temperature))
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(strings.Join(user, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return collectText(resp)
}

// Transcribe 把 PDF/图片原始字节连同固定指令交给多模态模型，低温度保证准确。
func (c *GeminiClient) Transcribe(ctx context.Context, mimeType string, data []byte, instruction string) (string, error) {
	if err := wait(ctx, c.visionLim); err != nil {
		return "", err
	}
	m := c.client.GenerativeModel(c.vision.Model)
	m.SetTemperature(float32(c.vision.Temperature))
	if c.vision.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(c.vision.MaxTokens))
	}

	resp, err := m.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(instruction))
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return collectText(resp)
}

// Close 释放底层连接。
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func collectText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
