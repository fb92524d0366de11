package resolver

import (
	"fmt"
	"strings"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/llm"
)

const systemPrompt = `You write sections of an Offering Memorandum for a business acquisition.
Rules:
1. Use only the LISTING FACTS and CONTEXT supplied below. Do not use outside knowledge.
2. Never invent figures, names, dates or claims. A fact marked "Not specified" is unknown.
3. If the supplied material does not answer the question, reply with exactly this text and nothing else:
%s
4. Do not mention the sources, the context or these instructions in your answer.
5. %s`

// kindInstruction 按变量类型约束输出格式。
func kindInstruction(kind model.VariableKind) string {
	switch kind {
	case model.KindLongText:
		return "Answer in one to three paragraphs of professional prose. **Bold** and *italic* are allowed; no headings."
	case model.KindEnumerable:
		return "Answer as a bullet list, one item per line, each line starting with \"- \". No introduction."
	default:
		return "Answer with a single short phrase or sentence, plain text, no markdown."
	}
}

// snippet 是进入 prompt 的一段上下文。
type snippet struct {
	label   string
	content string
}

func buildMessages(v model.Variable, facts Facts, snippets []snippet) []llm.Message {
	var b strings.Builder
	b.WriteString("LISTING FACTS:\n")
	for _, line := range facts.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nCONTEXT:\n")
	for _, s := range snippets {
		fmt.Fprintf(&b, "%s\n%s\n\n", s.label, s.content)
	}
	fmt.Fprintf(&b, "QUESTION (%s):\n%s", v.Name, question(v))

	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, v.Fallback, kindInstruction(v.Kind))},
		{Role: "user", Content: b.String()},
	}
}

func question(v model.Variable) string {
	if v.Question == nil {
		return ""
	}
	return strings.TrimSpace(*v.Question)
}
