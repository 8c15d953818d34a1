package aireview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jibsin/leaseguard/internal/docset"
)

const encumbrancePromptContext = `아래는 임대차 계약서, 건축물대장, 등기부등본에서 추출한 정보입니다.
다음 항목을 검토하십시오:

1. 등기부등본의 권리관계: 신탁, 압류, 가압류, 가처분, 가등기 항목에
   내용이 있으면 해당 위험을 설명하고 해소 방안을 제시하십시오.
2. 건축물대장의 위반건축물 등재 여부.
3. 계약서와 건축물대장의 면적 일치 여부.
4. 계약서의 계약기간과 등기부등본의 임대차기간 일치 여부.
5. 계약서 특약사항 중 임차인에게 불리한 조항.

문제가 있는 필드에는 notice에 "[경고] "로 시작하는 설명을, solution에
구체적인 조치 방안을 기재하십시오. 검토했으나 문제가 없는 필드는
notice와 solution을 빈 문자열로 표시하십시오.`

const ownershipPromptContext = `아래는 임대차 계약서, 건축물대장, 등기부등본에서 추출한 정보입니다.
다음 항목을 검토하십시오:

1. 계약서의 임대인 성명이 건축물대장의 소유자 성명 또는 등기부등본의
   소유자와 일치하는지 확인하십시오.
2. 등기부등본에 소유자가 두 명 이상이면 공동명의이므로 다른 소유주의
   동의 확인이 필요함을 알리십시오.
3. 대리인 계약 여부가 의심되는 정황이 있으면 위임장과 인감증명서 확인을
   권고하십시오.

문제가 있는 필드에는 notice에 "[경고] "로 시작하는 설명을, solution에
구체적인 조치 방안을 기재하십시오. 검토했으나 문제가 없는 필드는
notice와 solution을 빈 문자열로 표시하십시오.`

const depositPromptContext = `아래는 임대차 계약서, 건축물대장, 등기부등본에서 추출한 정보입니다.
다음 항목을 검토하십시오:

1. 계약서의 보증금_1과 보증금_2 금액이 일치하는지 확인하십시오.
2. 등기부등본의 채권최고액(근저당)이 있으면 보증금과 합산하여 깡통전세
   위험을 평가하십시오.
3. 차임(월세)과 관리비 기재가 명확한지 확인하십시오.

문제가 있는 필드에는 notice에 "[경고] "로 시작하는 설명을, solution에
구체적인 조치 방안을 기재하십시오. 검토했으나 문제가 없는 필드는
notice와 solution을 빈 문자열로 표시하십시오.`

const noticeGroupSchemaPrompt = `응답 JSON 스키마 (문제를 발견했거나 검토한 필드만 포함):
{
  "contract": {"page1": {"<필드명>": {"notice": "string", "solution": "string"}}},
  "building_registry": {"page1": {"<필드명>": {"notice": "string", "solution": "string"}}},
  "registry_document": {"page1": {"<필드명>": {"notice": "string", "solution": "string"}}}
}
최상위 키는 contract, building_registry, registry_document만 허용됩니다.`

const summaryPromptContext = `아래는 임대차 서류 분석이 완료된 최종 결과입니다. 각 검토 영역에 대해
임차인이 이해하기 쉬운 한 단락 요약(text)과 문제 여부(check: 문제가
있으면 true, 없으면 false)를 작성하십시오.

응답 JSON 스키마:
{
  "소유자": {"text": "string", "check": true},
  "주소": {"text": "string", "check": false},
  "면적": {"text": "string", "check": false},
  "계약기간": {"text": "string", "check": false},
  "보증금": {"text": "string", "check": false},
  "권리관계": {"text": "string", "check": false}
}
여섯 개 키를 모두 포함해야 합니다.`

var summarySections = []string{"소유자", "주소", "면적", "계약기간", "보증금", "권리관계"}

// SummarySection is one entry of the tenant-facing summary. Check is
// true when the section found a problem.
type SummarySection struct {
	Text  string `json:"text"`
	Check bool   `json:"check"`
}

type Summary map[string]SummarySection

// Reviewer runs the LLM analysis passes. Each pass receives its own
// clone of the box-stripped document tree so no pass sees another's
// findings.
type Reviewer struct {
	exec *PassExecutor
}

func NewReviewer(caller LLMCaller) *Reviewer {
	return &Reviewer{exec: NewPassExecutor(caller)}
}

type passSpec struct {
	name    string
	context string
}

var passes = []passSpec{
	{"encumbrance_review", encumbrancePromptContext},
	{"ownership_review", ownershipPromptContext},
	{"deposit_review", depositPromptContext},
}

// Review runs all three analysis passes against the tree and returns
// one notice group per pass. The context is checked between passes so
// a cancelled request stops before the next model call.
func (r *Reviewer) Review(ctx context.Context, tree map[string]any) ([]docset.NoticeGroup, error) {
	groups := make([]docset.NoticeGroup, 0, len(passes))
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := r.runPass(ctx, p, docset.CloneTree(tree))
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (r *Reviewer) runPass(ctx context.Context, p passSpec, tree map[string]any) (docset.NoticeGroup, error) {
	blob, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: serialize context: %w", p.name, err)
	}
	prompt := p.context + "\n\n" + noticeGroupSchemaPrompt + "\n\n서류 정보:\n" + string(blob)

	var group docset.NoticeGroup
	_, err = r.exec.Run(ctx, p.name, prompt, &group, func() error {
		return validateNoticeGroup(group)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Summarize produces the per-section tenant summary from the merged,
// fully annotated tree.
func (r *Reviewer) Summarize(ctx context.Context, annotated map[string]any) (Summary, error) {
	blob, err := json.Marshal(annotated)
	if err != nil {
		return nil, fmt.Errorf("summary: serialize context: %w", err)
	}
	prompt := summaryPromptContext + "\n\n분석 결과:\n" + string(blob)

	var summary Summary
	_, err = r.exec.Run(ctx, "summary", prompt, &summary, func() error {
		return validateSummary(summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func validateNoticeGroup(g docset.NoticeGroup) error {
	for docKey, sectionVal := range g {
		if !docset.DocType(docKey).Valid() {
			return fmt.Errorf("unknown document key %q", docKey)
		}
		section, ok := sectionVal.(map[string]any)
		if !ok {
			return fmt.Errorf("document %q is not an object", docKey)
		}
		for pageKey, pageVal := range section {
			page, ok := pageVal.(map[string]any)
			if !ok {
				return fmt.Errorf("%s/%s is not an object", docKey, pageKey)
			}
			for fieldKey, fieldVal := range page {
				f, ok := fieldVal.(map[string]any)
				if !ok {
					return fmt.Errorf("%s/%s/%s is not an object", docKey, pageKey, fieldKey)
				}
				if _, ok := f["notice"].(string); !ok {
					return fmt.Errorf("%s/%s/%s missing string notice", docKey, pageKey, fieldKey)
				}
				if _, ok := f["solution"].(string); !ok {
					return fmt.Errorf("%s/%s/%s missing string solution", docKey, pageKey, fieldKey)
				}
			}
		}
	}
	return nil
}

func validateSummary(s Summary) error {
	for _, section := range summarySections {
		entry, ok := s[section]
		if !ok {
			return fmt.Errorf("missing section %q", section)
		}
		if entry.Text == "" {
			return fmt.Errorf("section %q has empty text", section)
		}
	}
	return nil
}
