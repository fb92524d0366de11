package render

import (
	"fmt"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

// Artifacts 是一次渲染的全部产物，未声明的格式为 nil。
type Artifacts struct {
	Body        string
	PDF         []byte
	DOCX        []byte
	PDFOutline  Outline
	DOCXOutline Outline
}

// Renderer 组合替换步骤和两个独立的写出器。
type Renderer struct {
	pdf  *PDFWriter
	docx *DOCXWriter
}

func New(pageSize string, marginMM float64) *Renderer {
	return &Renderer{
		pdf:  NewPDFWriter(pageSize, marginMM),
		docx: NewDOCXWriter(pageSize, marginMM),
	}
}

// Render 替换占位符并输出 formats 中列出的产物。
func (r *Renderer) Render(cover Cover, templateBody string, values []model.ResolvedValue, formats []string) (art *Artifacts, err error) {
	defer func() {
		if p := recover(); p != nil {
			art, err = nil, fmt.Errorf("%w: %v", model.ErrRenderingFailed, p)
		}
	}()

	body := Substitute(templateBody, ValueMap(values))
	if left := Placeholders(body); len(left) > 0 {
		log.Warnf("[Renderer] 正文中存在未解析的占位符: %v", left)
	}

	art = &Artifacts{Body: body}
	for _, f := range formats {
		switch f {
		case model.FormatPDF:
			art.PDF, art.PDFOutline, err = r.pdf.Write(cover, body)
		case model.FormatDOCX:
			art.DOCX, art.DOCXOutline, err = r.docx.Write(cover, body)
		default:
			err = fmt.Errorf("unknown output format %q", f)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", model.ErrRenderingFailed, f, err)
		}
	}
	return art, nil
}
