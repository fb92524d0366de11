// Package extractor 把存储的源文件按声明的 MIME 类型转换为纯文本。
// 扫描件 PDF 和图片交给多模态模型转写。
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

// TextLayer 抽取 PDF 的文本层（docconv 或 Tika）。
type TextLayer interface {
	ExtractText(ctx context.Context, r io.Reader, mimeType string) (string, error)
}

// VisionModel 是多模态模型，按固定指令把二进制文件转写为文本。
type VisionModel interface {
	Transcribe(ctx context.Context, mimeType string, data []byte, instruction string) (string, error)
}

// PageCounter 返回 PDF 页数，失败时返回 0。
type PageCounter func(data []byte) int

// VisionInstruction 是发送给多模态模型的固定转写指令。
const VisionInstruction = `Extract all legible text from this file exactly as written.
Rules:
- Preserve tables as structured rows, one row per line with cells separated by " | ".
- Preserve bulleted and numbered lists, one item per line.
- Preserve the heading hierarchy and reading order.
- Do not summarize, translate, or add commentary.
- Output plain text only.`

// Result 是抽取结果。
type Result struct {
	Text     string
	Metadata model.ExtractionMetadata
}

// Extractor 按格式分派抽取策略。它不写数据库，状态由调用方维护。
type Extractor struct {
	textLayer     TextLayer
	vision        VisionModel
	pageCounter   PageCounter
	minTextChars  int
	visionTimeout time.Duration
}

// Option 配置 Extractor。
type Option func(*Extractor)

// WithMinTextChars 设置 PDF 文本层的最小有效字符数，低于该值视为扫描件。
func WithMinTextChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.minTextChars = n
		}
	}
}

// WithVisionTimeout 设置单次多模态调用的超时。
func WithVisionTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.visionTimeout = d
		}
	}
}

// WithPageCounter 替换 PDF 页数统计。
func WithPageCounter(pc PageCounter) Option {
	return func(e *Extractor) {
		e.pageCounter = pc
	}
}

// New 创建 Extractor。vision 为 nil 时，扫描件和图片会抽取失败。
func New(textLayer TextLayer, vision VisionModel, opts ...Option) *Extractor {
	e := &Extractor{
		textLayer:     textLayer,
		vision:        vision,
		pageCounter:   CountPDFPages,
		minTextChars:  50,
		visionTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 抽取文本。不支持的格式在读取内容前直接返回 ErrUnsupportedFormat，
// 其余失败都包装为 ErrExtractionFailed 并附带底层原因。
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	format := FormatOf(mimeType)
	if format == FormatUnsupported {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, mimeType)
	}
	log.Infof("[Extractor] 开始抽取, format: %s, mime: %s, size: %d", format, mimeType, len(data))

	var (
		text   string
		method string
		pages  int
		err    error
	)
	switch format {
	case FormatPDF:
		text, method, pages, err = e.extractPDF(ctx, data)
	case FormatWord:
		text, err = extractDocx(data)
		method = model.MethodWordStructure
	case FormatLegacyWord:
		text, err = extractLegacyDoc(data)
		method = model.MethodWordStructure
	case FormatPresentation:
		text, pages, err = extractPptx(data)
		method = model.MethodPresentationText
	case FormatSpreadsheet:
		text, err = extractXlsx(data)
		method = model.MethodSpreadsheetCells
	case FormatImage:
		text, err = e.transcribe(ctx, BaseMediaType(mimeType), data)
		method = model.MethodVisionModel
	case FormatText:
		text = normalizeWhitespace(string(data))
		method = model.MethodDirectRead
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		log.Errorf("[Extractor] 抽取失败, format: %s, error: %v", format, err)
		return nil, err
	}

	res := &Result{
		Text: text,
		Metadata: model.ExtractionMetadata{
			WordCount: len(strings.Fields(text)),
			CharCount: utf8.RuneCountInString(text),
			PageCount: pages,
			Method:    method,
		},
	}
	log.Infof("[Extractor] 抽取完成, method: %s, chars: %d, words: %d", method, res.Metadata.CharCount, res.Metadata.WordCount)
	return res, nil
}

// extractPDF 先读文本层，文本过短时按扫描件处理，整份 PDF 交给多模态模型。
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, string, int, error) {
	pages := 0
	if e.pageCounter != nil {
		pages = e.pageCounter(data)
	}

	var text string
	if e.textLayer != nil {
		raw, err := e.textLayer.ExtractText(ctx, bytes.NewReader(data), "application/pdf")
		if err != nil {
			// 文本层读取失败同样走多模态兜底
			log.Warnf("[Extractor] PDF 文本层抽取失败, 改用多模态模型: %v", err)
		} else {
			text = normalizeWhitespace(raw)
		}
	}
	if utf8.RuneCountInString(text) >= e.minTextChars {
		return text, model.MethodPDFTextLayer, pages, nil
	}

	log.Infof("[Extractor] PDF 文本层仅 %d 字符 (< %d), 按扫描件处理", utf8.RuneCountInString(text), e.minTextChars)
	text, err := e.transcribe(ctx, "application/pdf", data)
	return text, model.MethodVisionModel, pages, err
}

// transcribe 调用多模态模型。失败或空结果都视为抽取失败，不能当作空文本完成。
func (e *Extractor) transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("%w: vision model not configured", model.ErrExtractionFailed)
	}
	vctx, cancel := context.WithTimeout(ctx, e.visionTimeout)
	defer cancel()

	start := time.Now()
	out, err := e.vision.Transcribe(vctx, mimeType, data, VisionInstruction)
	if err != nil {
		return "", fmt.Errorf("%w: vision model: %w", model.ErrExtractionFailed, err)
	}
	out = normalizeWhitespace(out)
	if out == "" {
		return "", fmt.Errorf("%w: vision model returned no text", model.ErrExtractionFailed)
	}
	log.Infow("[Extractor] 多模态转写完成", "mime", mimeType, "chars", utf8.RuneCountInString(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}
