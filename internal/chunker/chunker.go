// Package chunker 把规范化后的文本切成带重叠的分块，切点尽量落在段落或句子边界上。
package chunker

import (
	"regexp"
	"strings"
)

// CharsPerToken 是 token 预算换算成字符数的近似系数。
const CharsPerToken = 4

const (
	DefaultChunkTokens   = 500
	DefaultOverlapTokens = 50
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Span 是规范化文本中的一段，Start/End 为字符（rune）偏移，左闭右开。
type Span struct {
	Index   int
	Content string
	Start   int
	End     int
}

// Chunker 是纯函数式的分块器，可并发使用。
type Chunker struct {
	size    int
	overlap int
}

// Option 配置 Chunker。
type Option func(*Chunker)

// WithChunkTokens 以 token 为单位设置窗口大小。
func WithChunkTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens > 0 {
			c.size = tokens * CharsPerToken
		}
	}
}

// WithOverlapTokens 以 token 为单位设置相邻分块的重叠。
func WithOverlapTokens(tokens int) Option {
	return func(c *Chunker) {
		if tokens >= 0 {
			c.overlap = tokens * CharsPerToken
		}
	}
}

// New 创建 Chunker。重叠不小于窗口一半时收敛到窗口的四分之一。
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkTokens * CharsPerToken,
		overlap: DefaultOverlapTokens * CharsPerToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap*2 >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size 返回窗口大小（字符）。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回重叠大小（字符）。
func (c *Chunker) Overlap() int { return c.overlap }

// Normalize 统一换行符，把 3 个及以上的连续换行压成 2 个，并去掉首尾空白。
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split 对文本做规范化并切块。空文本返回 nil。
// 每个分块不超过窗口大小，Start 严格递增，相邻分块在边界处共享 overlap 个字符。
func (c *Chunker) Split(text string) []Span {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	runes := []rune(normalized)
	n := len(runes)
	if n <= c.size {
		return []Span{{Index: 0, Content: normalized, Start: 0, End: n}}
	}

	var spans []Span
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = snapBoundary(runes, start, end)
		}
		spans = append(spans, Span{
			Index:   len(spans),
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == n {
			break
		}

		next := end - c.overlap
		if next <= start {
			// 边界回退后窗口过小，放弃重叠以保证前进
			next = end
		}
		start = next
	}
	return spans
}

// snapBoundary 在 (中点, end] 区间内从后向前寻找切点：先找段落分隔，再找句末，都没有则原样返回 end。
func snapBoundary(runes []rune, start, end int) int {
	if atParagraphBreak(runes, end) {
		return end
	}
	mid := start + (end-start)/2

	for i := end - 2; i > mid; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 2; i > mid; i-- {
		switch runes[i] {
		case '.', '?', '!':
			if runes[i+1] == ' ' || runes[i+1] == '\n' {
				return i + 2
			}
		}
	}
	return end
}

// atParagraphBreak 报告 pos 是否正好处在段落分隔之后或之前。
func atParagraphBreak(runes []rune, pos int) bool {
	if pos >= 2 && runes[pos-1] == '\n' && runes[pos-2] == '\n' {
		return true
	}
	return pos+1 < len(runes) && runes[pos] == '\n' && runes[pos+1] == '\n'
}
