// Package resolver 为模板变量检索上下文并调用生成模型取值。
// 任何内部失败都退化为变量的 fallback，不会让整次生成失败。
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/llm"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/tokenizer"
)

// fallback 原因，写入 ResolvedValue.Reason。
const (
	ReasonNoQuestion      = "no_question"
	ReasonNoContext       = "no_context"
	ReasonRetrievalError  = "retrieval_error"
	ReasonGenerationError = "generation_error"
	ReasonEmptyOutput     = "empty_output"
	ReasonInsufficient    = "insufficient_context"
)

// Retriever 按 listing 检索相关分块，由 index.Index 实现。
type Retriever interface {
	Query(ctx context.Context, text, listingID string, k int) ([]model.ChunkHit, error)
}

// DocumentSource 提供 listing 下已完成抽取的文档全文。
type DocumentSource interface {
	ListCompletedByListing(ctx context.Context, listingID string) ([]model.Document, error)
}

type Resolver struct {
	retriever        Retriever
	generator        llm.Generator
	counter          tokenizer.Counter
	docs             DocumentSource
	topK             int
	maxSnippets      int
	maxContextTokens int
	concurrency      int
	fullDocChars     int
	temperature      float64
	maxTokens        int
	timeout          time.Duration
}

type Option func(*Resolver)

func WithTopK(k int) Option {
	return func(r *Resolver) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithMaxSnippets(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxSnippets = n
		}
	}
}

func WithMaxContextTokens(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxContextTokens = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithTokenCounter(c tokenizer.Counter) Option {
	return func(r *Resolver) {
		if c != nil {
			r.counter = c
		}
	}
}

// WithFullDocuments 在检索片段之后附加每个已完成文档的前 chars 个字符。
func WithFullDocuments(src DocumentSource, chars int) Option {
	return func(r *Resolver) {
		r.docs = src
		if chars > 0 {
			r.fullDocChars = chars
		}
	}
}

func WithGeneration(temperature float64, maxTokens int) Option {
	return func(r *Resolver) {
		r.temperature = temperature
		if maxTokens > 0 {
			r.maxTokens = maxTokens
		}
	}
}

// WithTimeout 设置单个变量生成调用的超时。
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(retriever Retriever, generator llm.Generator, opts ...Option) *Resolver {
	r := &Resolver{
		retriever:        retriever,
		generator:        generator,
		counter:          tokenizer.Heuristic{},
		topK:             12,
		maxSnippets:      10,
		maxContextTokens: 6000,
		concurrency:      3,
		fullDocChars:     5000,
		temperature:      0.4,
		maxTokens:        1024,
		timeout:          60 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 为单个变量取值，永远返回结果。
func (r *Resolver) Resolve(ctx context.Context, v model.Variable, listingID string, facts Facts) model.ResolvedValue {
	q := question(v)
	if q == "" {
		return fallback(v, ReasonNoQuestion)
	}

	hits, err := r.retriever.Query(ctx, q, listingID, r.topK)
	if err != nil {
		log.Warnf("[Resolver] 变量 %s 检索失败, 使用 fallback: %v", v.Name, err)
		return fallback(v, ReasonRetrievalError)
	}
	hits = dedupe(hits, r.maxSnippets)
	if len(hits) == 0 {
		log.Infof("[Resolver] 变量 %s 未检索到相关内容, 使用 fallback", v.Name)
		return fallback(v, ReasonNoContext)
	}

	snippets := r.fitSnippets(ctx, v, listingID, facts, hits)
	messages := buildMessages(v, facts, snippets)

	genCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.generator.Generate(genCtx, messages, &llm.GenerationParams{
		Temperature: llm.Float64(r.temperature),
		MaxTokens:   llm.Int(r.maxTokens),
	})
	if err != nil {
		log.Warnf("[Resolver] 变量 %s 生成失败, 使用 fallback: %v", v.Name, fmt.Errorf("%w: %w", model.ErrGenerationFailed, err))
		return fallback(v, ReasonGenerationError)
	}

	out = strings.TrimSpace(out)
	switch {
	case out == "":
		return fallback(v, ReasonEmptyOutput)
	case out == strings.TrimSpace(v.Fallback):
		return fallback(v, ReasonInsufficient)
	}
	return model.ResolvedValue{Name: v.Name, Value: out}
}

// ResolveAll 并发解析全部变量，结果顺序与输入一致。
func (r *Resolver) ResolveAll(ctx context.Context, vars []model.Variable, listingID string, facts Facts) []model.ResolvedValue {
	results := make([]model.ResolvedValue, len(vars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range vars {
		i := i
		g.Go(func() error {
			results[i] = r.Resolve(gctx, vars[i], listingID, facts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fitSnippets 在 token 预算内按相似度顺序放入片段，至少放入一段（必要时截断）。
func (r *Resolver) fitSnippets(ctx context.Context, v model.Variable, listingID string, facts Facts, hits []model.ChunkHit) []snippet {
	base := 0
	for _, m := range buildMessages(v, facts, nil) {
		base += r.counter.Count(m.Content)
	}
	budget := r.maxContextTokens - base

	var out []snippet
	for i, h := range hits {
		s := snippet{label: fmt.Sprintf("[Source %d]", i+1), content: strings.TrimSpace(h.Content)}
		cost := r.counter.Count(s.label) + r.counter.Count(s.content)
		if cost > budget {
			if len(out) == 0 && budget > 0 {
				s.content = truncateRunes(s.content, budget*4)
				out = append(out, s)
				budget = 0
			}
			break
		}
		out = append(out, s)
		budget -= cost
	}
	if len(out) == 0 {
		s := hits[0]
		out = append(out, snippet{label: "[Source 1]", content: truncateRunes(strings.TrimSpace(s.Content), 400)})
	}

	if r.docs == nil || budget <= 0 {
		return out
	}
	docs, err := r.docs.ListCompletedByListing(ctx, listingID)
	if err != nil {
		log.Warnf("[Resolver] 读取完整文档失败, 仅使用检索片段: %v", err)
		return out
	}
	for _, d := range docs {
		if d.ExtractedText == nil || strings.TrimSpace(*d.ExtractedText) == "" {
			continue
		}
		s := snippet{label: "[[" + d.FileName + "]]", content: truncateRunes(*d.ExtractedText, r.fullDocChars)}
		cost := r.counter.Count(s.label) + r.counter.Count(s.content)
		if cost > budget {
			break
		}
		out = append(out, s)
		budget -= cost
	}
	return out
}

// dedupe 按内容去重，保留相似度更高的那一条，最多 limit 条。
func dedupe(hits []model.ChunkHit, limit int) []model.ChunkHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]model.ChunkHit, 0, len(hits))
	for _, h := range hits {
		key := strings.TrimSpace(h.Content)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}

func fallback(v model.Variable, reason string) model.ResolvedValue {
	return model.ResolvedValue{Name: v.Name, Value: v.Fallback, Fallback: true, Reason: reason}
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
