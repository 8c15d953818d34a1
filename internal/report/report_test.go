package report

import (
	"strings"
	"testing"
	"time"

	"github.com/jibsin/leaseguard/internal/store"
)

func sampleAnalysis() *store.Analysis {
	return &store.Analysis{
		Status:    store.StatusCompleted,
		UpdatedAt: time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
		Result: map[string]any{
			"contract": map[string]any{
				"page1": map[string]any{
					"임대인": map[string]any{
						"text":     "박사기",
						"notice":   "[경고] 집주인과 임대인이 다릅니다.",
						"solution": "임대인을 확실하게 확인하여 주십시오.",
					},
					"보증금_1": map[string]any{
						"text":   "300,000,000원",
						"notice": "",
					},
				},
			},
			"registry_document": map[string]any{
				"page2": map[string]any{
					"가압류": map[string]any{
						"text":     "가압류 설정",
						"notice":   "[경고] 등기부등본에서 '가압류' 항목이 발견되었습니다",
						"solution": "해당 권리관계를 해소한 후 계약을 진행하는 것을 권장합니다.",
					},
				},
			},
		},
		Summary: map[string]any{
			"소유자":  map[string]any{"text": "임대인과 소유자가 다릅니다.", "check": true},
			"권리관계": map[string]any{"text": "가압류가 설정되어 있습니다.", "check": true},
			"보증금":  map[string]any{"text": "보증금 수준은 적정합니다.", "check": false},
		},
	}
}

func TestCollectFindings(t *testing.T) {
	findings := CollectFindings(sampleAnalysis().Result)
	if len(findings) != 2 {
		t.Fatalf("got %d findings: %+v", len(findings), findings)
	}
	// Contract findings come before registry-document findings.
	if findings[0].Document != "contract" || findings[0].Field != "임대인" {
		t.Fatalf("first finding = %+v", findings[0])
	}
	if findings[1].Field != "가압류" || findings[1].Page != "page2" {
		t.Fatalf("second finding = %+v", findings[1])
	}
}

func TestCollectFindingsSkipsClean(t *testing.T) {
	for _, f := range CollectFindings(sampleAnalysis().Result) {
		if f.Field == "보증금_1" {
			t.Fatal("clean field reported as finding")
		}
	}
}

func TestBuildMarkdown(t *testing.T) {
	md := BuildMarkdown("c-42", sampleAnalysis())

	for _, want := range []string{
		"# 임대차 계약 위험 분석 보고서",
		"계약 번호: c-42",
		"## 종합 요약",
		"⚠️ 주의 필요",
		"### 임대차 계약서",
		"[경고] 집주인과 임대인이 다릅니다.",
		"조치: 임대인을 확실하게 확인하여 주십시오.",
		"### 등기부등본",
		"가압류",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	// Known sections keep their fixed order.
	if strings.Index(md, "| 소유자 |") > strings.Index(md, "| 권리관계 |") {
		t.Fatal("summary sections out of order")
	}
}

func TestBuildMarkdownNoFindings(t *testing.T) {
	a := &store.Analysis{Status: store.StatusCompleted, Result: map[string]any{}}
	md := BuildMarkdown("c-1", a)
	if !strings.Contains(md, "발견된 위험 요소가 없습니다") {
		t.Fatalf("markdown = %s", md)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(BuildMarkdown("c-42", sampleAnalysis()))
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<h1") {
		t.Fatal("missing rendered heading")
	}
	if !strings.Contains(html, "<table") {
		t.Fatal("summary table not rendered")
	}
	if !strings.Contains(html, "charset='utf-8'") {
		t.Fatal("missing charset declaration")
	}
}
