package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"om-smart-go/internal/config"
	"om-smart-go/pkg/log"
)

// OpenAIClient 调用 OpenAI 兼容的 /chat/completions 接口（OpenAI、DeepSeek 等）。
type OpenAIClient struct {
	cfg     config.LLMConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIClient creates a client for any OpenAI-compatible chat endpoint.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	return &OpenAIClient{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: newLimiter(cfg.RateLimit),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate 发送一次非流式对话请求并返回第一条回复。
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", err
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	// 传参优先，其次使用配置中的非零值
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}
	if reqBody.Temperature == nil && c.cfg.Generation.Temperature != 0 {
		reqBody.Temperature = Float64(c.cfg.Generation.Temperature)
	}
	if reqBody.TopP == nil && c.cfg.Generation.TopP != 0 {
		reqBody.TopP = Float64(c.cfg.Generation.TopP)
	}
	if reqBody.MaxTokens == nil && c.cfg.Generation.MaxTokens != 0 {
		reqBody.MaxTokens = Int(c.cfg.Generation.MaxTokens)
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	log.Debugf("[LLMClient] 对话完成, model: %s, elapsed: %s, finish: %s", c.cfg.Model, time.Since(start), out.Choices[0].FinishReason)
	return out.Choices[0].Message.Content, nil
}
