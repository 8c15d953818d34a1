package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jibsin/leaseguard/internal/docset"
)

// Runner is the OCR collaborator as seen by the pipeline: page images
// in, a canonical field document plus per-page image dimensions out.
type Runner interface {
	Run(ctx context.Context, imageURLs []string, docType docset.DocType) (docset.Document, map[string]docset.PageSize, error)
}

// Recognizer abstracts the Clova call for tests.
type Recognizer interface {
	Recognize(ctx context.Context, imageURL, name string) ([]Token, docset.PageSize, error)
}

// Analyzer is the LLM collaborator used to arrange raw tokens into
// named fields. aireview.AnthropicCaller satisfies it.
type Analyzer interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

const contractFieldsPrompt = `다음은 주택 임대차 계약서 한 페이지를 OCR로 인식한 텍스트 조각과 좌표입니다.
조각들을 조합하여 아래 필드를 추출하십시오:
임대인, 임차인, 소재지, 임차할부분, 면적, 보증금_1, 보증금_2, 차임,
관리비_정액, 관리비_비정액, 계약기간, 특약사항`

const buildingFieldsPrompt = `다음은 건축물대장 한 페이지를 OCR로 인식한 텍스트 조각과 좌표입니다.
조각들을 조합하여 아래 필드를 추출하십시오:
성명_1, 성명_2 등 모든 소유자 성명, 도로명주소, 대지위치, 면적,
위반건축물, 발급일자`

const registryFieldsPrompt = `다음은 등기부등본 한 페이지를 OCR로 인식한 텍스트 조각과 좌표입니다.
조각들을 조합하여 아래 필드를 추출하십시오:
소유자_1, 소유자_2 등 모든 현재 소유자, 건물주소, 임대차기간, 신탁,
압류, 가압류, 가처분, 가등기, 채권최고액, 발급일자`

const extractSchemaPrompt = `응답 JSON 스키마:
{"<필드명>": {"text": "string", "bounding_box": {"x1": 0, "y1": 0, "x2": 0, "y2": 0}}}
문서에 없는 필드는 {"text": "NA"}로 표시하십시오. 좌표는 해당 텍스트
조각들을 감싸는 사각형입니다. 반드시 유효한 JSON만으로 응답하십시오.`

func fieldsPrompt(t docset.DocType) string {
	switch t {
	case docset.DocContract:
		return contractFieldsPrompt
	case docset.DocBuildingRegistry:
		return buildingFieldsPrompt
	case docset.DocRegistryDocument:
		return registryFieldsPrompt
	}
	return ""
}

// Extractor implements Runner on top of one shared Clova client and
// one LLM caller, regardless of document type.
type Extractor struct {
	recognizer Recognizer
	analyzer   Analyzer
}

func NewExtractor(recognizer Recognizer, analyzer Analyzer) *Extractor {
	return &Extractor{recognizer: recognizer, analyzer: analyzer}
}

// Run recognizes every page image in order and extracts its fields.
// Page n of the result is imageURLs[n-1] under the canonical "pageN"
// key; the sizes map records each page's image dimensions under the
// same key.
func (e *Extractor) Run(ctx context.Context, imageURLs []string, docType docset.DocType) (docset.Document, map[string]docset.PageSize, error) {
	if !docType.Valid() {
		return nil, nil, fmt.Errorf("unknown document type %q", docType)
	}
	if len(imageURLs) == 0 {
		return nil, nil, fmt.Errorf("ocr %s: no page images", docType)
	}

	doc := docset.Document{}
	sizes := map[string]docset.PageSize{}
	for i, imageURL := range imageURLs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		pageKey := fmt.Sprintf("page%d", i+1)
		tokens, size, err := e.recognizer.Recognize(ctx, imageURL, fmt.Sprintf("%s_%d", docType, i+1))
		if err != nil {
			return nil, nil, fmt.Errorf("ocr %s %s: %w", docType, pageKey, err)
		}
		if len(tokens) == 0 {
			return nil, nil, fmt.Errorf("ocr %s %s: no text recognized", docType, pageKey)
		}
		page, err := e.extractPage(ctx, docType, tokens)
		if err != nil {
			return nil, nil, fmt.Errorf("ocr %s %s: %w", docType, pageKey, err)
		}
		doc[pageKey] = page
		sizes[pageKey] = size
	}
	return doc, sizes, nil
}

func (e *Extractor) extractPage(ctx context.Context, docType docset.DocType, tokens []Token) (docset.Page, error) {
	blob, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	prompt := fieldsPrompt(docType) + "\n\n" + extractSchemaPrompt + "\n\nOCR 결과:\n" + string(blob)

	raw, err := e.analyzer.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var page docset.Page
	if err := json.Unmarshal([]byte(stripFences(raw)), &page); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("empty extraction")
	}
	return page, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
