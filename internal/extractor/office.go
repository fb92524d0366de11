package extractor

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"om-smart-go/internal/model"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractDocx 段落之间用空行分隔，不保留格式。
func extractDocx(data []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: docx: %w", model.ErrExtractionFailed, err)
	}
	// docconv 段落之间只有一个换行，改成空行，分块时才能按段落切分
	text = strings.ReplaceAll(normalizeWhitespace(text), "\n", "\n\n")
	return normalizeWhitespace(text), nil
}

func extractLegacyDoc(data []byte) (string, error) {
	text, _, err := docconv.ConvertDoc(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: doc: %w", model.ErrExtractionFailed, err)
	}
	return normalizeWhitespace(text), nil
}

// extractPptx 按幻灯片编号顺序逐页抽取文本。zip 中的条目顺序不可靠，所以按 slideN 的数字排序。
func extractPptx(data []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("%w: pptx: %w", model.ErrExtractionFailed, err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", 0, fmt.Errorf("%w: pptx slide %d: %w", model.ErrExtractionFailed, s.num, err)
		}
		text, err := docconv.XMLToText(rc, []string{"p", "br"}, nil, false)
		_ = rc.Close()
		if err != nil {
			return "", 0, fmt.Errorf("%w: pptx slide %d: %w", model.ErrExtractionFailed, s.num, err)
		}
		if text = normalizeWhitespace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), len(slides), nil
}
