package spec

import (
	"regexp"
	"strings"
)

// rule 是一条候选抽取规则：正则 + 取值分组。
// 同一字段的多条 rule 按优先级排列，第一条产出非空结果的 rule 胜出。
type rule struct {
	name  string
	re    *regexp.Regexp
	group int
}

// hit 是一次命中：取值 + 在原文中的字节偏移（用于换算行号）。
type hit struct {
	value  string
	offset int
}

// ruleList 是按优先级排列的规则表。
type ruleList []rule

// first 依次尝试每条规则；accept 过滤非法取值（例如超出合理范围的厚度）。
// 返回第一条“过滤后仍非空”的规则的全部命中，以及被丢弃的取值。
func (rl ruleList) first(text string, accept func(string) bool) (hits []hit, ruleName string, rejected []string) {
	for _, r := range rl {
		var got []hit
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			lo, hi := m[2*r.group], m[2*r.group+1]
			if lo < 0 {
				continue
			}
			v := strings.TrimSpace(text[lo:hi])
			if v == "" {
				continue
			}
			if accept != nil && !accept(v) {
				rejected = append(rejected, v)
				continue
			}
			got = append(got, hit{value: v, offset: lo})
		}
		if len(got) > 0 {
			return got, r.name, rejected
		}
	}
	return nil, "", rejected
}

// lineAt 把字节偏移换算为 1 起的行号。
func lineAt(text string, offset int) int {
	if offset <= 0 {
		return 1
	}
	if offset > len(text) {
		offset = len(text)
	}
	return strings.Count(text[:offset], "\n") + 1
}

// 数值片段：整数或小数。
const num = `(\d+(?:\.\d+)?)`

// “(mm)”单位标注，兼容全角括号。
const mmTag = `\s*[（(]\s*(?i:mm)\s*[)）]\s*`

var materialRules = ruleList{
	{name: "labeled", re: regexp.MustCompile(`材质[^：:\n|]{0,12}[：:]\s*([A-Za-z]{0,2}\d{3}[A-Za-z0-9]*(?:/[A-Za-z0-9]+)?)`), group: 1},
	{name: "hash_grade", re: regexp.MustCompile(`(?:^|[^\d.])(\d{3})#`), group: 1},
}

var thicknessRules = ruleList{
	{name: "labeled_mm", re: regexp.MustCompile(`(?m)(?:^|[^实])厚度?` + mmTag + `[：:]\s*` + num), group: 1},
	{name: "labeled", re: regexp.MustCompile(`(?m)(?:^|[^实])厚度\s*[：:]\s*` + num), group: 1},
	{name: "suffix", re: regexp.MustCompile(`(?m)(?:^|[^\d.])` + num + `\s*(?i:mm)\s*厚`), group: 1},
}

var realThicknessRules = ruleList{
	{name: "labeled_mm", re: regexp.MustCompile(`实厚` + mmTag + `[：:]\s*` + num), group: 1},
	{name: "labeled", re: regexp.MustCompile(`实厚\s*[：:]?\s*` + num), group: 1},
}

var lengthRules = ruleList{
	{name: "labeled_mm", re: regexp.MustCompile(`长度?` + mmTag + `[：:]\s*(\d+)`), group: 1},
	{name: "labeled", re: regexp.MustCompile(`长度?\s*[：:]\s*(\d+)`), group: 1},
}

var widthRules = ruleList{
	{name: "labeled_mm", re: regexp.MustCompile(`宽度?` + mmTag + `[：:]\s*(\d+)`), group: 1},
	{name: "labeled", re: regexp.MustCompile(`宽度?\s*[：:]\s*(\d+)`), group: 1},
}

// 自由文本中没有带标签的长宽时，退化为行内“长×宽”写法。
var inlineDimsRE = regexp.MustCompile(`(?:^|[^\d.])(\d{3,5})\s*(?i:mm)?\s*[×xX*＊]\s*(\d{3,5})(?:[^\d.]|$)`)

// 表格行：| 序号 | 描述 | 长 × 宽 | 实厚 | 厚度 |
var tableRowRE = regexp.MustCompile(`\|\s*\d+\s*\|([^|\n]+)\|\s*(\d+)\s*[×xX*＊]\s*(\d+)\s*\|\s*([\d.]+)\s*\|\s*([\d.]+)\s*\|`)
