package render

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// 内置 DejaVu UTF-8 字体，西里尔字母和 ≥ → ✓ 等符号原样输出。字体不含 CJK 字形。
//
//go:embed fonts/*.ttf
var fontFS embed.FS

var fontFiles = map[string]string{
	"":   "fonts/DejaVuSansCondensed.ttf",
	"B":  "fonts/DejaVuSansCondensed-Bold.ttf",
	"I":  "fonts/DejaVuSansCondensed-Oblique.ttf",
	"BI": "fonts/DejaVuSansCondensed-BoldOblique.ttf",
}

// Cover 是封面信息，两种产物共用。
type Cover struct {
	Title    string
	Subtitle string
	Banner   string
	Date     string
}

// PDFWriter 输出打印版产物：封面 + 分页正文，固定纸张和页边距。
type PDFWriter struct {
	pageSize string
	marginMM float64
	compress bool
}

func NewPDFWriter(pageSize string, marginMM float64) *PDFWriter {
	if pageSize == "" {
		pageSize = "A4"
	}
	if marginMM <= 0 {
		marginMM = 20
	}
	return &PDFWriter{pageSize: pageSize, marginMM: marginMM, compress: true}
}

var headingSizes = map[int]float64{1: 20, 2: 16, 3: 13}

const (
	bodyFont     = "DejaVu"
	bodySize     = 11
	bodyLeading  = 5.5
	listIndentMM = 6
)

// Write 渲染正文，返回 PDF 字节和实际写入的结构摘要。
func (w *PDFWriter) Write(cover Cover, body string) ([]byte, Outline, error) {
	blocks := parseMarkdown(body)

	pdf := fpdf.New("P", "mm", w.pageSize, "")
	pdf.SetMargins(w.marginMM, w.marginMM, w.marginMM)
	pdf.SetAutoPageBreak(true, w.marginMM)
	pdf.SetTitle(cover.Title, true)
	pdf.SetCreator("om-smart-go", true)
	pdf.SetCompression(w.compress)
	for style, name := range fontFiles {
		data, err := fontFS.ReadFile(name)
		if err != nil {
			return nil, Outline{}, err
		}
		pdf.AddUTF8FontFromBytes(bodyFont, style, data)
	}

	pdf.SetFooterFunc(func() {
		if pdf.PageNo() == 1 {
			return
		}
		pdf.SetY(-w.marginMM + 5)
		pdf.SetFont(bodyFont, "I", 8)
		pdf.SetTextColor(110, 110, 110)
		footer := fmt.Sprintf("Page %d", pdf.PageNo()-1)
		if cover.Banner != "" {
			footer = cover.Banner + "  |  " + footer
		}
		pdf.CellFormat(0, 10, footer, "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	w.writeCover(pdf, cover)

	pdf.AddPage()
	counters := map[int]int{}
	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			size := headingSizes[b.Level]
			pdf.Ln(3)
			pdf.SetFont(bodyFont, "B", size)
			pdf.MultiCell(0, size*0.5, b.Text(), "", "L", false)
			pdf.Ln(2)
		case BlockBullet, BlockNumbered:
			marker := "•"
			if b.Kind == BlockNumbered {
				counters[b.List]++
				marker = fmt.Sprintf("%d.", counters[b.List])
			}
			w.writeListItem(pdf, b, marker)
		default:
			w.writeRuns(pdf, b.Runs)
			pdf.Ln(bodyLeading + 2)
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, Outline{}, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, Outline{}, err
	}
	return buf.Bytes(), outlineOf(blocks), nil
}

func (w *PDFWriter) writeCover(pdf *fpdf.Fpdf, cover Cover) {
	pdf.AddPage()
	_, pageH := pdf.GetPageSize()
	pdf.SetY(pageH / 3)

	pdf.SetFont(bodyFont, "B", 28)
	pdf.MultiCell(0, 12, cover.Title, "", "C", false)
	if cover.Subtitle != "" {
		pdf.Ln(4)
		pdf.SetFont(bodyFont, "", 16)
		pdf.MultiCell(0, 8, cover.Subtitle, "", "C", false)
	}
	if cover.Banner != "" {
		pdf.Ln(16)
		pdf.SetFillColor(150, 20, 20)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont(bodyFont, "B", 14)
		pdf.CellFormat(0, 12, cover.Banner, "", 1, "C", true, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	if cover.Date != "" {
		pdf.Ln(10)
		pdf.SetFont(bodyFont, "", 11)
		pdf.CellFormat(0, 8, cover.Date, "", 1, "C", false, 0, "")
	}
}

func (w *PDFWriter) writeListItem(pdf *fpdf.Fpdf, b Block, marker string) {
	left := w.marginMM + float64(b.Level)*listIndentMM
	pdf.SetFont(bodyFont, "", bodySize)
	pdf.SetX(left)
	pdf.Write(bodyLeading, marker)

	pdf.SetLeftMargin(left + listIndentMM)
	pdf.SetX(left + listIndentMM)
	w.writeRuns(pdf, b.Runs)
	pdf.SetLeftMargin(w.marginMM)
	pdf.Ln(bodyLeading + 1)
}

func (w *PDFWriter) writeRuns(pdf *fpdf.Fpdf, runs []Run) {
	for _, r := range runs {
		style := ""
		if r.Bold {
			style += "B"
		}
		if r.Italic {
			style += "I"
		}
		pdf.SetFont(bodyFont, style, bodySize)
		pdf.Write(bodyLeading, r.Text)
	}
}
