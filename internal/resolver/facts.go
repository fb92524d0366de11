package resolver

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"om-smart-go/internal/model"
)

// NotSpecified 替代缺失的结构化事实，避免模型自行编造。
const NotSpecified = "Not specified"

// Facts 是 listing 的结构化事实。
type Facts struct {
	CompanyName string
	Industry    string
	Location    string
	Revenue     *float64
	EBITDA      *float64
	AskingPrice *float64
	Employees   *int
}

// FactsFromListing 从 listing 行提取事实，listing 为 nil 时全部为空。
func FactsFromListing(l *model.Listing) Facts {
	if l == nil {
		return Facts{}
	}
	return Facts{
		CompanyName: l.CompanyName,
		Industry:    l.Industry,
		Location:    l.Location,
		Revenue:     l.Revenue,
		EBITDA:      l.EBITDA,
		AskingPrice: l.AskingPrice,
		Employees:   l.Employees,
	}
}

// Lines 以 "标签: 值" 的形式输出，顺序固定。
func (f Facts) Lines() []string {
	employees := NotSpecified
	if f.Employees != nil {
		employees = strconv.Itoa(*f.Employees)
	}
	return []string{
		"Company Name: " + text(f.CompanyName),
		"Industry: " + text(f.Industry),
		"Location: " + text(f.Location),
		"Revenue: " + money(f.Revenue),
		"EBITDA: " + money(f.EBITDA),
		"Asking Price: " + money(f.AskingPrice),
		"Employees: " + employees,
	}
}

func text(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotSpecified
	}
	return s
}

func money(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return NotSpecified
	}
	n := int64(math.Round(*v))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s", sign, b.String())
}
