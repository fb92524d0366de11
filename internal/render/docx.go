package render

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// DOCXWriter 输出 Word 文档：标题映射为 Heading1-3 样式，列表映射为原生编号。
type DOCXWriter struct {
	pageSize string
	marginMM float64
}

func NewDOCXWriter(pageSize string, marginMM float64) *DOCXWriter {
	if pageSize == "" {
		pageSize = "A4"
	}
	if marginMM <= 0 {
		marginMM = 20
	}
	return &DOCXWriter{pageSize: pageSize, marginMM: marginMM}
}

// 页面尺寸，单位 twip（1/1440 英寸）。
var pageSizesTwip = map[string][2]int{
	"a4":     {11906, 16838},
	"letter": {12240, 15840},
}

const (
	bulletNumID   = 1
	bulletAbsID   = 0
	decimalAbsID  = 1
	wordNamespace = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`
)

func (w *DOCXWriter) Write(cover Cover, body string) ([]byte, Outline, error) {
	blocks := parseLines(body)

	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	doc.WriteString(`<w:document ` + wordNamespace + `><w:body>`)
	writeCoverXML(&doc, cover)

	// 每个有序列表一个 num 实例，编号从 1 重新开始
	numIDs := map[int]int{}
	nextNum := bulletNumID + 1
	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			paragraphXML(&doc, fmt.Sprintf(`<w:pStyle w:val="Heading%d"/>`, b.Level), b.Runs)
		case BlockBullet:
			paragraphXML(&doc, numPrXML("ListBullet", b.Level, bulletNumID), b.Runs)
		case BlockNumbered:
			id, ok := numIDs[b.List]
			if !ok {
				id = nextNum
				numIDs[b.List] = id
				nextNum++
			}
			paragraphXML(&doc, numPrXML("ListNumber", b.Level, id), b.Runs)
		default:
			paragraphXML(&doc, "", b.Runs)
		}
	}
	doc.WriteString(w.sectionXML())
	doc.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, content string }{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", rootRelsXML},
		{"docProps/core.xml", coreXML(cover.Title)},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/document.xml", doc.String()},
		{"word/styles.xml", stylesXML},
		{"word/numbering.xml", numberingXML(numIDs)},
		{"word/footer1.xml", footerXML(cover.Banner)},
	}
	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			return nil, Outline{}, err
		}
		if _, err := f.Write([]byte(p.content)); err != nil {
			return nil, Outline{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, Outline{}, err
	}
	return buf.Bytes(), outlineOf(blocks), nil
}

func (w *DOCXWriter) sectionXML() string {
	size, ok := pageSizesTwip[strings.ToLower(w.pageSize)]
	if !ok {
		size = pageSizesTwip["a4"]
	}
	margin := int(w.marginMM / 25.4 * 1440)
	return fmt.Sprintf(`<w:sectPr><w:footerReference w:type="default" r:id="rIdFooter1"/>`+
		`<w:pgSz w:w="%d" w:h="%d"/>`+
		`<w:pgMar w:top="%d" w:right="%d" w:bottom="%d" w:left="%d" w:header="708" w:footer="708" w:gutter="0"/>`+
		`<w:pgNumType w:start="0"/><w:titlePg/></w:sectPr>`,
		size[0], size[1], margin, margin, margin, margin)
}

func writeCoverXML(sb *strings.Builder, cover Cover) {
	spacer := `<w:p><w:pPr><w:spacing w:before="3600"/></w:pPr></w:p>`
	sb.WriteString(spacer)
	paragraphXML(sb, `<w:pStyle w:val="Title"/><w:jc w:val="center"/>`, []Run{{Text: cover.Title}})
	if cover.Subtitle != "" {
		paragraphXML(sb, `<w:pStyle w:val="Subtitle"/><w:jc w:val="center"/>`, []Run{{Text: cover.Subtitle}})
	}
	if cover.Banner != "" {
		paragraphXML(sb, `<w:pStyle w:val="Banner"/><w:jc w:val="center"/>`, []Run{{Text: cover.Banner, Bold: true}})
	}
	if cover.Date != "" {
		paragraphXML(sb, `<w:jc w:val="center"/>`, []Run{{Text: cover.Date}})
	}
	sb.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
}

func numPrXML(style string, level, numID int) string {
	return fmt.Sprintf(`<w:pStyle w:val="%s"/><w:numPr><w:ilvl w:val="%d"/><w:numId w:val="%d"/></w:numPr>`,
		style, min(level, 8), numID)
}

func paragraphXML(sb *strings.Builder, pPr string, runs []Run) {
	sb.WriteString("<w:p>")
	if pPr != "" {
		sb.WriteString("<w:pPr>" + pPr + "</w:pPr>")
	}
	for _, r := range runs {
		sb.WriteString("<w:r>")
		if r.Bold || r.Italic {
			sb.WriteString("<w:rPr>")
			if r.Bold {
				sb.WriteString("<w:b/>")
			}
			if r.Italic {
				sb.WriteString("<w:i/>")
			}
			sb.WriteString("</w:rPr>")
		}
		sb.WriteString(`<w:t xml:space="preserve">`)
		sb.WriteString(escapeXML(r.Text))
		sb.WriteString("</w:t></w:r>")
	}
	sb.WriteString("</w:p>")
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func numberingXML(numIDs map[int]int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:numbering ` + wordNamespace + `>`)
	sb.WriteString(abstractNumXML(bulletAbsID, "bullet", func(int) string { return "•" }))
	sb.WriteString(abstractNumXML(decimalAbsID, "decimal", func(lvl int) string { return fmt.Sprintf("%%%d.", lvl+1) }))
	fmt.Fprintf(&sb, `<w:num w:numId="%d"><w:abstractNumId w:val="%d"/></w:num>`, bulletNumID, bulletAbsID)
	for id := bulletNumID + 1; id < bulletNumID+1+len(numIDs); id++ {
		fmt.Fprintf(&sb, `<w:num w:numId="%d"><w:abstractNumId w:val="%d"/>`+
			`<w:lvlOverride w:ilvl="0"><w:startOverride w:val="1"/></w:lvlOverride></w:num>`, id, decimalAbsID)
	}
	sb.WriteString(`</w:numbering>`)
	return sb.String()
}

func abstractNumXML(id int, format string, text func(lvl int) string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<w:abstractNum w:abstractNumId="%d"><w:multiLevelType w:val="hybridMultilevel"/>`, id)
	for lvl := 0; lvl < 9; lvl++ {
		indent := 720 * (lvl + 1)
		fmt.Fprintf(&sb, `<w:lvl w:ilvl="%d"><w:start w:val="1"/><w:numFmt w:val="%s"/>`+
			`<w:lvlText w:val="%s"/><w:lvlJc w:val="left"/>`+
			`<w:pPr><w:ind w:left="%d" w:hanging="360"/></w:pPr></w:lvl>`,
			lvl, format, escapeXML(text(lvl)), indent)
	}
	sb.WriteString(`</w:abstractNum>`)
	return sb.String()
}

func footerXML(banner string) string {
	label := ""
	if banner != "" {
		label = `<w:r><w:t xml:space="preserve">` + escapeXML(banner) + `  |  Page </w:t></w:r>`
	} else {
		label = `<w:r><w:t xml:space="preserve">Page </w:t></w:r>`
	}
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:ftr ` + wordNamespace + `><w:p><w:pPr><w:jc w:val="center"/></w:pPr>` + label +
		`<w:fldSimple w:instr="PAGE"><w:r><w:t>1</w:t></w:r></w:fldSimple></w:p></w:ftr>`
}

func coreXML(title string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<dc:title>` + escapeXML(title) + `</dc:title><dc:creator>om-smart-go</dc:creator>` +
		`<dcterms:created xsi:type="dcterms:W3CDTF">` + time.Now().UTC().Format(time.RFC3339) + `</dcterms:created>` +
		`</cp:coreProperties>`
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`<Override PartName="/word/numbering.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml"/>` +
	`<Override PartName="/word/footer1.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.footer+xml"/>` +
	`<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>` +
	`</Types>`

const rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>` +
	`</Relationships>`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rIdStyles" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`<Relationship Id="rIdNumbering" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering" Target="numbering.xml"/>` +
	`<Relationship Id="rIdFooter1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer" Target="footer1.xml"/>` +
	`</Relationships>`

const stylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
	`<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:eastAsia="Calibri" w:cs="Calibri"/>` +
	`<w:sz w:val="22"/></w:rPr></w:rPrDefault><w:pPrDefault><w:pPr><w:spacing w:after="120" w:line="276" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>` +
	`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:rPr><w:b/><w:sz w:val="56"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Subtitle"><w:name w:val="Subtitle"/><w:basedOn w:val="Normal"/><w:rPr><w:sz w:val="32"/><w:color w:val="555555"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Banner"><w:name w:val="Banner"/><w:basedOn w:val="Normal"/>` +
	`<w:pPr><w:shd w:val="clear" w:color="auto" w:fill="961414"/><w:spacing w:before="480" w:after="480"/></w:pPr>` +
	`<w:rPr><w:b/><w:color w:val="FFFFFF"/><w:sz w:val="28"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/>` +
	`<w:pPr><w:keepNext/><w:spacing w:before="360" w:after="120"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="40"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/>` +
	`<w:pPr><w:keepNext/><w:spacing w:before="240" w:after="80"/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/>` +
	`<w:pPr><w:keepNext/><w:spacing w:before="200" w:after="60"/><w:outlineLvl w:val="2"/></w:pPr><w:rPr><w:b/><w:sz w:val="26"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="ListBullet"><w:name w:val="List Bullet"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:after="60"/></w:pPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="ListNumber"><w:name w:val="List Number"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:after="60"/></w:pPr></w:style>` +
	`</w:styles>`
