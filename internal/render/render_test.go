package render

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"om-smart-go/internal/model"
)

const memoBody = `# Executive Summary

Acme Logistics is a **regional** freight *carrier*.

## Investment Highlights

- Long-term contracts
- 40-truck fleet
  - Owned, not leased
- Experienced team

## Financials

1. Revenue of $12.5M
2. EBITDA of $2.1M

### Notes

Closing paragraph with _emphasis_ and __strong__ text.
`

func TestSubstitute(t *testing.T) {
	t.Run("replaces every placeholder", func(t *testing.T) {
		got := Substitute("{{a}} and {{ b }} and {{a}}", map[string]string{"a": "X", "b": "Y"})
		assert.Equal(t, "X and Y and X", got)
	})

	t.Run("values are not re-interpreted", func(t *testing.T) {
		got := Substitute("{{a}} {{b}}", map[string]string{"a": "{{b}}", "b": "Y"})
		assert.Equal(t, "{{b}} Y", got)
	})

	t.Run("unknown placeholders are left in place", func(t *testing.T) {
		got := Substitute("Price: {{askng_price}}", map[string]string{"asking_price": "$1"})
		assert.Equal(t, "Price: {{askng_price}}", got)
	})

	t.Run("empty value is substituted", func(t *testing.T) {
		assert.Equal(t, "[]", Substitute("[{{a}}]", map[string]string{"a": ""}))
	})

	assert.Equal(t, []string{"b", "a"}, Placeholders("{{b}} {{a}} {{ b }}"))
}

func TestOutlineParity(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Outline
	}{
		{
			name: "memo",
			body: memoBody,
			want: Outline{
				Headings:   []string{"h1:Executive Summary", "h2:Investment Highlights", "h2:Financials", "h3:Notes"},
				Bullets:    4,
				Numbered:   2,
				Paragraphs: 2,
			},
		},
		{
			name: "substituted list and deep heading",
			body: Substitute("## Highlights\n\n{{highlights}}\n\n#### Deep heading\n", map[string]string{
				"highlights": "- Recurring revenue\n- Low churn\n- Founder-led",
			}),
			want: Outline{Headings: []string{"h2:Highlights", "h3:Deep heading"}, Bullets: 3},
		},
		{
			name: "lazy continuation and loose list",
			body: "- first item\ncontinued here\n\n- second item\n\nPara after.\n",
			want: Outline{Bullets: 2, Paragraphs: 1},
		},
		{
			name: "numbered lists restart after a heading",
			body: "# A\n\n1. one\n2. two\n\n# B\n\n1. three\n",
			want: Outline{Headings: []string{"h1:A", "h1:B"}, Numbered: 3},
		},
		{
			name: "angle bracket values stay text",
			body: Substitute("## Pricing\n\nAsking price: {{price}}\n\n{{note}}\n", map[string]string{
				"price": "<To be provided>",
				"note":  "<TBD>",
			}),
			want: Outline{Headings: []string{"h2:Pricing"}, Paragraphs: 2},
		},
		{
			name: "dashes under a line are a rule, not a heading",
			body: "Overview of the deal\n---\n\nBody text.\n",
			want: Outline{Paragraphs: 2},
		},
		{
			name: "equals under a line are paragraph text",
			body: "Overview\n===\n",
			want: Outline{Paragraphs: 1},
		},
		{
			name: "only an ordered list starting at one interrupts a paragraph",
			body: "Growth continued through\n2024. Revenue grew 20%.\n\nIntro line\n1. first\n2. second\n",
			want: Outline{Numbered: 2, Paragraphs: 2},
		},
		{
			name: "windows line endings and rule",
			body: "# Title\r\n\r\nText line one\r\nline two\r\n\r\n---\r\n\r\n* star bullet\r\n",
			want: Outline{Headings: []string{"h1:Title"}, Bullets: 1, Paragraphs: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := outlineOf(parseMarkdown(tt.body))
			lines := outlineOf(parseLines(tt.body))
			assert.Equal(t, tt.want, md, "markdown parser")
			assert.Equal(t, tt.want, lines, "line parser")
		})
	}
}

func TestParsersKeepSubstitutedText(t *testing.T) {
	body := Substitute("## Pricing\n\nAsking price: {{price}}\n\n{{note}}\n\nGrowth continued through\n2024. Revenue grew 20%.\n",
		map[string]string{"price": "<To be provided>", "note": "<TBD>"})
	want := []string{
		"Pricing",
		"Asking price: <To be provided>",
		"<TBD>",
		"Growth continued through 2024. Revenue grew 20%.",
	}

	for name, parse := range map[string]func(string) []Block{"markdown": parseMarkdown, "lines": parseLines} {
		t.Run(name, func(t *testing.T) {
			blocks := parse(body)
			got := make([]string, 0, len(blocks))
			for _, b := range blocks {
				got = append(got, b.Text())
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestParseLinesInline(t *testing.T) {
	blocks := parseLines("Mix of **bold**, *italic*, snake_case and 2 * 3.")
	require.Len(t, blocks, 1)
	runs := blocks[0].Runs
	require.Len(t, runs, 5)
	assert.Equal(t, Run{Text: "Mix of "}, runs[0])
	assert.Equal(t, Run{Text: "bold", Bold: true}, runs[1])
	assert.Equal(t, Run{Text: ", "}, runs[2])
	assert.Equal(t, Run{Text: "italic", Italic: true}, runs[3])
	assert.Equal(t, Run{Text: ", snake_case and 2 * 3."}, runs[4])
}

func TestParseMarkdownInline(t *testing.T) {
	blocks := parseMarkdown("Mix of **bold** and *italic*.")
	require.Len(t, blocks, 1)
	assert.Equal(t, []Run{
		{Text: "Mix of "},
		{Text: "bold", Bold: true},
		{Text: " and "},
		{Text: "italic", Italic: true},
		{Text: "."},
	}, blocks[0].Runs)
}

func TestRender(t *testing.T) {
	r := New("A4", 20)
	cover := Cover{Title: "Acme Logistics Café", Subtitle: "Offering Memorandum", Banner: "CONFIDENTIAL", Date: "October 2026"}
	values := []model.ResolvedValue{{Name: "summary", Value: "A **regional** carrier."}}

	t.Run("both formats share structure", func(t *testing.T) {
		art, err := r.Render(cover, memoBody+"\n{{summary}}\n", values, []string{model.FormatPDF, model.FormatDOCX})
		require.NoError(t, err)
		assert.Equal(t, art.PDFOutline, art.DOCXOutline)
		assert.Contains(t, art.Body, "A **regional** carrier.")

		assert.True(t, bytes.HasPrefix(art.PDF, []byte("%PDF-")))
		pages, err := api.PageCount(bytes.NewReader(art.PDF), pdfmodel.NewDefaultConfiguration())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pages, 2)

		doc := readZipPart(t, art.DOCX, "word/document.xml")
		assert.Equal(t, 1, strings.Count(doc, `w:val="Heading1"`))
		assert.Equal(t, 2, strings.Count(doc, `w:val="Heading2"`))
		assert.Equal(t, 1, strings.Count(doc, `w:val="Heading3"`))
		assert.Equal(t, art.DOCXOutline.Bullets, strings.Count(doc, `w:val="ListBullet"`))
		assert.Equal(t, art.DOCXOutline.Numbered, strings.Count(doc, `w:val="ListNumber"`))
		assert.Contains(t, doc, "CONFIDENTIAL")
		assert.Contains(t, doc, `<w:br w:type="page"/>`)
		assert.Contains(t, doc, `<w:pgSz w:w="11906" w:h="16838"/>`)

		readZipPart(t, art.DOCX, "word/numbering.xml")
		readZipPart(t, art.DOCX, "[Content_Types].xml")
	})

	t.Run("text outside latin-1 reaches the pdf", func(t *testing.T) {
		w := NewPDFWriter("A4", 20)
		w.compress = false
		out, outline, err := w.Write(cover, "# Обзор\n\nMargin Ж≥→✓ target.\n")
		require.NoError(t, err)
		assert.Equal(t, []string{"h1:Обзор"}, outline.Headings)
		assert.Contains(t, strings.ToLower(string(out)), "dejavu")
		assert.True(t, bytes.Contains(out, utf16be("Ж≥→✓")), "glyphs written as UTF-16 text")
		assert.False(t, bytes.Contains(out, []byte("Margin ....")), "no replacement dots")
	})

	t.Run("only declared formats are produced", func(t *testing.T) {
		art, err := r.Render(cover, "# Only PDF\n", nil, []string{model.FormatPDF})
		require.NoError(t, err)
		assert.NotEmpty(t, art.PDF)
		assert.Nil(t, art.DOCX)
	})

	t.Run("numbered lists get their own numbering instance", func(t *testing.T) {
		art, err := r.Render(cover, "1. a\n2. b\n\n# Break\n\n1. c\n", nil, []string{model.FormatDOCX})
		require.NoError(t, err)
		numbering := readZipPart(t, art.DOCX, "word/numbering.xml")
		assert.Contains(t, numbering, `w:numId="2"`)
		assert.Contains(t, numbering, `w:numId="3"`)
		assert.NotContains(t, numbering, `w:numId="4"`)
	})

	t.Run("xml special characters are escaped", func(t *testing.T) {
		art, err := r.Render(cover, "Terms & <conditions>\n", nil, []string{model.FormatDOCX})
		require.NoError(t, err)
		doc := readZipPart(t, art.DOCX, "word/document.xml")
		assert.Contains(t, doc, "Terms &amp; &lt;conditions&gt;")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := r.Render(cover, "x", nil, []string{"odt"})
		assert.ErrorIs(t, err, model.ErrRenderingFailed)
	})
}

func utf16be(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = binary.BigEndian.AppendUint16(out, u)
	}
	return out
}

func readZipPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(b)
	}
	t.Fatalf("zip part %s not found", name)
	return ""
}
