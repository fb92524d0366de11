package render

import (
	"regexp"
	"strings"
)

var (
	headingLineRe  = regexp.MustCompile(`^ {0,3}(#{1,6})(?:[ \t]+(.*?))?(?:[ \t]+#+)?[ \t]*$`)
	bulletLineRe   = regexp.MustCompile(`^([ \t]*)[-*+][ \t]+(.*)$`)
	numberedLineRe = regexp.MustCompile(`^([ \t]*)(\d{1,9})[.)][ \t]+(.*)$`)
	ruleLineRe     = regexp.MustCompile(`^ {0,3}(?:(?:-[ \t]*){3,}|(?:\*[ \t]*){3,}|(?:_[ \t]*){3,})$`)
)

// parseLines 是 DOCX 渲染器使用的逐行解析器，只认识受限子集：
// 1-3 级标题、粗体、斜体、无序列表、有序列表和段落。
func parseLines(body string) []Block {
	var (
		out       []Block
		para      []string
		listID    int
		inList    bool
		listKind  BlockKind
		lastBlock = -1
	)

	flush := func() {
		if len(para) == 0 {
			return
		}
		runs := mergeRuns(parseInline(strings.Join(para, " ")))
		if len(runs) > 0 {
			out = append(out, Block{Kind: BlockParagraph, Runs: runs})
		}
		para = nil
	}

	for _, line := range strings.Split(normalizeBody(body), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			lastBlock = -1
		case ruleLineRe.MatchString(line):
			flush()
			inList = false
		case headingLineRe.MatchString(line):
			flush()
			m := headingLineRe.FindStringSubmatch(line)
			out = append(out, Block{Kind: BlockHeading, Level: clampHeading(len(m[1])), Runs: mergeRuns(parseInline(m[2]))})
			inList = false
			lastBlock = -1
		case len(para) > 0 && interruptsNothing(line):
			// 只有从 1 开始的有序列表才能打断段落，"2024. Revenue ..." 仍是段落的一部分
			para = append(para, trimmed)
		case bulletLineRe.MatchString(line), numberedLineRe.MatchString(line):
			flush()
			kind, m := BlockBullet, bulletLineRe.FindStringSubmatch(line)
			if m == nil {
				kind = BlockNumbered
				n := numberedLineRe.FindStringSubmatch(line)
				m = []string{n[0], n[1], n[3]}
			}
			depth := indentWidth(m[1]) / 2
			if !inList || (depth == 0 && kind != listKind) {
				listID++
			}
			inList, listKind = true, kind
			out = append(out, Block{Kind: kind, Level: depth, List: listID, Runs: mergeRuns(parseInline(m[2]))})
			lastBlock = len(out) - 1
		case lastBlock >= 0 && len(para) == 0:
			// 列表项的续行
			out[lastBlock].Runs = mergeRuns(append(out[lastBlock].Runs, append([]Run{{Text: " "}}, parseInline(trimmed)...)...))
		default:
			if len(para) == 0 {
				inList = false
			}
			para = append(para, trimmed)
		}
	}
	flush()
	return out
}

// interruptsNothing 报告该行是否是不从 1 开始的有序列表项。
func interruptsNothing(line string) bool {
	m := numberedLineRe.FindStringSubmatch(line)
	return m != nil && strings.TrimLeft(m[2], "0") != "1"
}

func indentWidth(s string) int {
	n := 0
	for _, r := range s {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}

// parseInline 处理 **粗体**、__粗体__、*斜体*、_斜体_，不支持的标记按原文输出。
func parseInline(s string) []Run {
	var (
		runs         []Run
		buf          strings.Builder
		bold, italic bool
	)
	push := func() {
		if buf.Len() > 0 {
			runs = append(runs, Run{Text: buf.String(), Bold: bold, Italic: italic})
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && strings.IndexByte("\\*_#`", s[i+1]) >= 0 {
			buf.WriteByte(s[i+1])
			i++
			continue
		}
		if c != '*' && c != '_' {
			buf.WriteByte(c)
			continue
		}
		// 下划线夹在单词中间时按普通字符处理
		if c == '_' && i > 0 && i+1 < len(s) && isWordByte(s[i-1]) && isWordByte(s[i+1]) {
			buf.WriteByte(c)
			continue
		}
		if i+1 < len(s) && s[i+1] == c {
			if bold || strings.Contains(s[i+2:], string([]byte{c, c})) {
				push()
				bold = !bold
				i++
				continue
			}
		} else if italic || closes(s[i+1:], c) {
			push()
			italic = !italic
			continue
		}
		buf.WriteByte(c)
	}
	push()
	return runs
}

// closes 报告后面是否还有一个单独的 c 可以闭合斜体。
func closes(rest string, c byte) bool {
	for i := 0; i < len(rest); i++ {
		if rest[i] != c {
			continue
		}
		if i+1 < len(rest) && rest[i+1] == c {
			i++
			continue
		}
		return i > 0
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= 0x80
}
