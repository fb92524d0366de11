package render

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// mdParser 是去掉 setext 标题和 HTML 的 CommonMark 解析器，和 parseLines 认识的子集一致：
// `---` 永远是分隔线，<TBD> 这类尖括号内容按普通文本保留。
var mdParser = parser.NewParser(
	parser.WithBlockParsers(
		util.Prioritized(parser.NewThematicBreakParser(), 200),
		util.Prioritized(parser.NewListParser(), 300),
		util.Prioritized(parser.NewListItemParser(), 400),
		util.Prioritized(parser.NewCodeBlockParser(), 500),
		util.Prioritized(parser.NewATXHeadingParser(), 600),
		util.Prioritized(parser.NewFencedCodeBlockParser(), 700),
		util.Prioritized(parser.NewBlockquoteParser(), 800),
		util.Prioritized(parser.NewParagraphParser(), 1000),
	),
	parser.WithInlineParsers(
		util.Prioritized(parser.NewCodeSpanParser(), 100),
		util.Prioritized(parser.NewLinkParser(), 200),
		util.Prioritized(parser.NewAutoLinkParser(), 300),
		util.Prioritized(parser.NewEmphasisParser(), 500),
	),
	parser.WithParagraphTransformers(parser.DefaultParagraphTransformers()...),
)

// parseMarkdown 用 goldmark 的 AST 把正文转换为块序列，PDF 渲染器使用。
func parseMarkdown(body string) []Block {
	source := []byte(normalizeBody(body))
	doc := mdParser.Parse(text.NewReader(source))

	p := &mdWalker{source: source}
	p.blocks(doc, 0)
	return p.out
}

type mdWalker struct {
	source []byte
	out    []Block
	lists  int
}

func (w *mdWalker) blocks(parent ast.Node, depth int) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			w.emit(Block{Kind: BlockHeading, Level: clampHeading(node.Level), Runs: w.inlines(node)})
		case *ast.Paragraph, *ast.TextBlock:
			w.emit(Block{Kind: BlockParagraph, Runs: w.inlines(node)})
		case *ast.List:
			w.list(node, depth)
		case *ast.Blockquote:
			w.blocks(node, depth)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			w.emit(Block{Kind: BlockParagraph, Runs: []Run{{Text: w.lines(node)}}})
		}
	}
}

func (w *mdWalker) list(l *ast.List, depth int) {
	w.lists++
	id := w.lists
	kind := BlockBullet
	if l.IsOrdered() {
		kind = BlockNumbered
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.List:
				w.list(c, depth+1)
			case *ast.Paragraph, *ast.TextBlock:
				if first {
					w.emit(Block{Kind: kind, Level: depth, List: id, Runs: w.inlines(c)})
					first = false
				} else {
					w.emit(Block{Kind: BlockParagraph, Runs: w.inlines(c)})
				}
			}
		}
	}
}

func (w *mdWalker) emit(b Block) {
	b.Runs = mergeRuns(b.Runs)
	if b.Kind == BlockParagraph && b.Text() == "" {
		return
	}
	w.out = append(w.out, b)
}

func (w *mdWalker) inlines(n ast.Node) []Run {
	var runs []Run
	var walk func(n ast.Node, bold, italic bool)
	walk = func(n ast.Node, bold, italic bool) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				t := string(c.Segment.Value(w.source))
				if c.SoftLineBreak() || c.HardLineBreak() {
					t += " "
				}
				runs = append(runs, Run{Text: t, Bold: bold, Italic: italic})
			case *ast.String:
				runs = append(runs, Run{Text: string(c.Value), Bold: bold, Italic: italic})
			case *ast.Emphasis:
				walk(c, bold || c.Level >= 2, italic || c.Level == 1)
			case *ast.AutoLink:
				runs = append(runs, Run{Text: string(c.Label(w.source)), Bold: bold, Italic: italic})
			default:
				walk(c, bold, italic)
			}
		}
	}
	walk(n, false, false)
	return runs
}

func (w *mdWalker) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(w.source))
	}
	return sb.String()
}
