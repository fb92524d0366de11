package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocconvTextLayer 使用 docconv（底层为 pdftotext）读取 PDF 文本层。
type DocconvTextLayer struct{}

// ExtractText 实现 TextLayer。docconv 不支持取消，ctx 仅用于提前返回。
func (DocconvTextLayer) ExtractText(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(r, mimeType, false)
	if err != nil {
		return "", fmt.Errorf("docconv: %w", err)
	}
	return res.Body, nil
}

// CountPDFPages 用 pdfcpu 统计页数，文件损坏时返回 0。
func CountPDFPages(data []byte) int {
	n, err := api.PageCount(bytes.NewReader(data), pdfmodel.NewDefaultConfiguration())
	if err != nil {
		return 0
	}
	return n
}
