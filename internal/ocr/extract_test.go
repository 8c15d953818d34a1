package ocr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jibsin/leaseguard/internal/docset"
)

type stubRecognizer struct {
	tokens map[string][]Token
	sizes  map[string]docset.PageSize
	err    error
	calls  int
}

func (s *stubRecognizer) Recognize(_ context.Context, imageURL, _ string) ([]Token, docset.PageSize, error) {
	s.calls++
	if s.err != nil {
		return nil, docset.PageSize{}, s.err
	}
	return s.tokens[imageURL], s.sizes[imageURL], nil
}

type stubAnalyzer struct {
	replies []string
	calls   int
	prompts []string
}

func (s *stubAnalyzer) GenerateJSON(_ context.Context, prompt string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if i >= len(s.replies) {
		return "", errors.New("stub exhausted")
	}
	return s.replies[i], nil
}

const contractPageJSON = `{
	"임대인": {"text": "홍길동", "bounding_box": {"x1": 100, "y1": 80, "x2": 220, "y2": 110}},
	"보증금_1": {"text": "300,000,000원", "bounding_box": {"x1": 100, "y1": 200, "x2": 380, "y2": 230}},
	"특약사항": {"text": "NA"}
}`

func TestRunExtractsPages(t *testing.T) {
	rec := &stubRecognizer{
		tokens: map[string][]Token{
			"https://img/1.jpg": {{Text: "홍길동", X1: 100, Y1: 80, X2: 220, Y2: 110}},
		},
		sizes: map[string]docset.PageSize{
			"https://img/1.jpg": {Width: 1240, Height: 1754},
		},
	}
	llm := &stubAnalyzer{replies: []string{contractPageJSON}}

	doc, sizes, err := NewExtractor(rec, llm).Run(context.Background(), []string{"https://img/1.jpg"}, docset.DocContract)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	page, ok := doc["page1"]
	if !ok {
		t.Fatalf("missing page1 in %v", doc)
	}
	if page["임대인"].Text != "홍길동" {
		t.Fatalf("임대인 = %q", page["임대인"].Text)
	}
	if page["임대인"].BoundingBox == nil || page["임대인"].BoundingBox.Y1 != 80 {
		t.Fatalf("bounding box = %+v", page["임대인"].BoundingBox)
	}
	if page["특약사항"].HasValue() {
		t.Fatal("특약사항 should be absent")
	}
	if !strings.Contains(llm.prompts[0], "홍길동") {
		t.Fatal("prompt missing recognized tokens")
	}
	if !strings.Contains(llm.prompts[0], "임대차 계약서") {
		t.Fatal("prompt missing document-type context")
	}
	if sizes["page1"] != (docset.PageSize{Width: 1240, Height: 1754}) {
		t.Fatalf("page1 size = %+v", sizes["page1"])
	}
}

func TestRunMultiplePagesKeyedInOrder(t *testing.T) {
	rec := &stubRecognizer{tokens: map[string][]Token{
		"u1": {{Text: "a"}},
		"u2": {{Text: "b"}},
	}}
	llm := &stubAnalyzer{replies: []string{
		`{"소유자_1": {"text": "홍길동"}}`,
		`{"소유자_1": {"text": "NA"}}`,
	}}

	doc, sizes, err := NewExtractor(rec, llm).Run(context.Background(), []string{"u1", "u2"}, docset.DocRegistryDocument)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(doc) != 2 {
		t.Fatalf("got %d pages", len(doc))
	}
	if doc["page1"]["소유자_1"].Text != "홍길동" {
		t.Fatalf("page1 owner = %q", doc["page1"]["소유자_1"].Text)
	}
	if len(sizes) != 2 {
		t.Fatalf("got %d size entries", len(sizes))
	}
}

func TestRunFailsOnEmptyRecognition(t *testing.T) {
	rec := &stubRecognizer{tokens: map[string][]Token{}}
	_, _, err := NewExtractor(rec, &stubAnalyzer{}).Run(context.Background(), []string{"u1"}, docset.DocContract)
	if err == nil || !strings.Contains(err.Error(), "no text recognized") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunFailsOnRecognizerError(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("status=401")}
	_, _, err := NewExtractor(rec, &stubAnalyzer{}).Run(context.Background(), []string{"u1"}, docset.DocContract)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunRejectsUnknownDocType(t *testing.T) {
	_, _, err := NewExtractor(&stubRecognizer{}, &stubAnalyzer{}).Run(context.Background(), []string{"u1"}, docset.DocType("lease"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunRejectsNoImages(t *testing.T) {
	_, _, err := NewExtractor(&stubRecognizer{}, &stubAnalyzer{}).Run(context.Background(), nil, docset.DocContract)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStripsCodeFences(t *testing.T) {
	rec := &stubRecognizer{tokens: map[string][]Token{"u1": {{Text: "x"}}}}
	llm := &stubAnalyzer{replies: []string{"```json\n" + `{"임대인": {"text": "김철수"}}` + "\n```"}}

	doc, _, err := NewExtractor(rec, llm).Run(context.Background(), []string{"u1"}, docset.DocContract)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc["page1"]["임대인"].Text != "김철수" {
		t.Fatalf("got %q", doc["page1"]["임대인"].Text)
	}
}
