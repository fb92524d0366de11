package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"om-smart-go/internal/model"
)

const (
	maxSheets  = 10
	maxRows    = 200
	maxColumns = 20
)

// extractXlsx 读取前 10 个工作表，每个最多 200 行 20 列，单元格用制表符分隔。
func extractXlsx(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %w", model.ErrExtractionFailed, err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := f.GetSheetList()
	if len(sheets) > maxSheets {
		sheets = sheets[:maxSheets]
	}
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("%w: xlsx sheet %q: %w", model.ErrExtractionFailed, name, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Sheet: %s ---\n", name)
		for i, row := range rows {
			if i >= maxRows {
				break
			}
			if len(row) > maxColumns {
				row = row[:maxColumns]
			}
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return normalizeWhitespace(b.String()), nil
}
