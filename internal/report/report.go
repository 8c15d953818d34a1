// Package report renders the tenant-facing risk report from a stored
// analysis: markdown first, then HTML via goldmark, then PDF via a
// headless Chromium print.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jibsin/leaseguard/internal/docset"
	"github.com/jibsin/leaseguard/internal/store"
)

var documentTitles = map[string]string{
	string(docset.DocContract):         "임대차 계약서",
	string(docset.DocBuildingRegistry): "건축물대장",
	string(docset.DocRegistryDocument): "등기부등본",
}

var documentOrder = []string{
	string(docset.DocContract),
	string(docset.DocBuildingRegistry),
	string(docset.DocRegistryDocument),
}

var summaryOrder = []string{"소유자", "주소", "면적", "계약기간", "보증금", "권리관계"}

// Finding is one field-level warning extracted from the annotated
// result tree.
type Finding struct {
	Document string
	Page     string
	Field    string
	Notice   string
	Solution string
}

// CollectFindings walks the annotated tree and returns every field
// carrying a non-empty notice, in document/page/field order.
func CollectFindings(result map[string]any) []Finding {
	var findings []Finding
	for _, docKey := range documentOrder {
		section, ok := result[docKey].(map[string]any)
		if !ok {
			continue
		}
		pageKeys := make([]string, 0, len(section))
		for k := range section {
			pageKeys = append(pageKeys, k)
		}
		sort.Slice(pageKeys, func(i, j int) bool {
			ni, iOK := docset.PageNumber(pageKeys[i])
			nj, jOK := docset.PageNumber(pageKeys[j])
			if iOK && jOK && ni != nj {
				return ni < nj
			}
			return pageKeys[i] < pageKeys[j]
		})
		for _, pageKey := range pageKeys {
			page, ok := section[pageKey].(map[string]any)
			if !ok {
				continue
			}
			fieldKeys := make([]string, 0, len(page))
			for k := range page {
				fieldKeys = append(fieldKeys, k)
			}
			sort.Strings(fieldKeys)
			for _, fieldKey := range fieldKeys {
				field, ok := page[fieldKey].(map[string]any)
				if !ok {
					continue
				}
				notice, _ := field["notice"].(string)
				if strings.TrimSpace(notice) == "" {
					continue
				}
				solution, _ := field["solution"].(string)
				findings = append(findings, Finding{
					Document: docKey,
					Page:     pageKey,
					Field:    fieldKey,
					Notice:   notice,
					Solution: solution,
				})
			}
		}
	}
	return findings
}

// BuildMarkdown renders the report body for one stored analysis.
func BuildMarkdown(contractID string, a *store.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 임대차 계약 위험 분석 보고서\n\n")
	fmt.Fprintf(&b, "- 계약 번호: %s\n", contractID)
	if !a.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "- 분석 일시: %s\n", a.UpdatedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(&b, "- 분석 일시: %s\n", time.Now().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "- 상태: %s\n\n", a.Status)

	findings := CollectFindings(a.Result)

	fmt.Fprintf(&b, "## 종합 요약\n\n")
	if len(a.Summary) > 0 {
		fmt.Fprintf(&b, "| 검토 항목 | 판정 | 내용 |\n|---|---|---|\n")
		for _, section := range summarySections(a.Summary) {
			entry, _ := a.Summary[section].(map[string]any)
			text, _ := entry["text"].(string)
			check, _ := entry["check"].(bool)
			mark := "✅ 이상 없음"
			if check {
				mark = "⚠️ 주의 필요"
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", section, mark, strings.ReplaceAll(text, "|", "\\|"))
		}
		b.WriteString("\n")
	} else if len(findings) == 0 {
		fmt.Fprintf(&b, "모든 검토 항목에서 이상이 발견되지 않았습니다.\n\n")
	}

	fmt.Fprintf(&b, "## 발견된 위험 요소\n\n")
	if len(findings) == 0 {
		fmt.Fprintf(&b, "발견된 위험 요소가 없습니다.\n\n")
	}
	currentDoc := ""
	for _, f := range findings {
		if f.Document != currentDoc {
			currentDoc = f.Document
			title := documentTitles[f.Document]
			if title == "" {
				title = f.Document
			}
			fmt.Fprintf(&b, "### %s\n\n", title)
		}
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.Field, f.Page, f.Notice)
		if strings.TrimSpace(f.Solution) != "" {
			fmt.Fprintf(&b, "  - 조치: %s\n", f.Solution)
		}
	}
	if len(findings) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 안내\n\n")
	fmt.Fprintf(&b, "본 보고서는 제출된 서류의 자동 분석 결과이며 법률 자문을 대체하지 않습니다. ")
	fmt.Fprintf(&b, "중요한 계약 결정 전에 공인중개사 또는 법률 전문가의 확인을 권장합니다.\n")
	return b.String()
}

// summarySections orders the summary keys: the known sections first in
// their fixed order, anything unexpected after, alphabetically.
func summarySections(summary map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range summaryOrder {
		if _, ok := summary[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	var extra []string
	for k := range summary {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
