// Package render 把解析好的变量值代入模板正文，并输出 PDF 和 DOCX 两种产物。
package render

import (
	"regexp"
	"strings"

	"om-smart-go/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute 单遍替换 {{name}} 占位符。替换进来的值不会再被解析，
// 未知的占位符原样保留。
func Substitute(body string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// ValueMap 把取值快照转换为替换表。
func ValueMap(values []model.ResolvedValue) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		m[v.Name] = v.Value
	}
	return m
}

// Placeholders 按出现顺序返回正文中引用的变量名（去重）。
func Placeholders(body string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func normalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
