package render

import (
	"fmt"
	"strings"
)

// BlockKind 是受限 markdown 子集里的块类型。
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockBullet
	BlockNumbered
)

// Run 是一段带样式的行内文本。
type Run struct {
	Text   string
	Bold   bool
	Italic bool
}

// Block 是一个渲染单元。Heading 的 Level 为 1-3，列表项的 Level 为嵌套深度（从 0 开始）。
// List 标识列表项所属的列表，同一列表内的编号连续。
type Block struct {
	Kind  BlockKind
	Level int
	List  int
	Runs  []Run
}

func (b Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Outline 是产物的结构摘要，两种渲染器对同一正文必须给出相同的 Outline。
type Outline struct {
	Headings   []string `json:"headings"`
	Bullets    int      `json:"bullets"`
	Numbered   int      `json:"numbered"`
	Paragraphs int      `json:"paragraphs"`
}

func outlineOf(blocks []Block) Outline {
	var o Outline
	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			o.Headings = append(o.Headings, fmt.Sprintf("h%d:%s", b.Level, b.Text()))
		case BlockBullet:
			o.Bullets++
		case BlockNumbered:
			o.Numbered++
		default:
			o.Paragraphs++
		}
	}
	return o
}

func clampHeading(level int) int {
	if level < 1 {
		return 1
	}
	if level > 3 {
		return 3
	}
	return level
}

// mergeRuns 合并相邻的同样式 run，并把换行折叠成空格。
func mergeRuns(runs []Run) []Run {
	var out []Run
	for _, r := range runs {
		r.Text = strings.ReplaceAll(r.Text, "\n", " ")
		if r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Bold == r.Bold && out[n-1].Italic == r.Italic {
			out[n-1].Text += r.Text
			continue
		}
		out = append(out, r)
	}
	if n := len(out); n > 0 {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
		out[n-1].Text = strings.TrimRight(out[n-1].Text, " ")
	}
	return out
}
