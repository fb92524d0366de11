package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"om-smart-go/internal/config"
)

type geminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiClient creates an embedding client backed by Gemini batch embeddings.
func NewGeminiClient(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &geminiClient{client: client, model: cfg.Model, limiter: limiter}, nil
}

func (c *geminiClient) Model() string { return c.model }

func (c *geminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	em := c.client.EmbeddingModel(c.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}
