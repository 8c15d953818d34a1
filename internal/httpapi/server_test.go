package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jibsin/leaseguard/internal/aireview"
	"github.com/jibsin/leaseguard/internal/docset"
	"github.com/jibsin/leaseguard/internal/pipeline"
	"github.com/jibsin/leaseguard/internal/pricing"
	"github.com/jibsin/leaseguard/internal/store"
)

type stubPipeline struct {
	ingested   map[string]int
	ingestErr  error
	analyzeErr error
}

func (s *stubPipeline) Ingest(_ context.Context, _, _ string, docType docset.DocType, imageURLs []string) (docset.Document, error) {
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	if s.ingested == nil {
		s.ingested = map[string]int{}
	}
	s.ingested[string(docType)] = len(imageURLs)
	doc := docset.Document{}
	for i := range imageURLs {
		doc[fmt.Sprintf("page%d", i+1)] = docset.Page{}
	}
	return doc, nil
}

func (s *stubPipeline) Analyze(_ context.Context, userID, contractID string) (*pipeline.Result, error) {
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	return &pipeline.Result{
		UserID:     userID,
		ContractID: contractID,
		Summary:    aireview.Summary{"소유자": {Text: "소유자가 확인되었습니다.", Check: false}},
		Price:      pricing.Result{AssessedPrice: "500000000", Method: pricing.MethodDirect},
	}, nil
}

type stubAnalysisStore struct {
	status    string
	analysis  *store.Analysis
	contracts []string
}

func (s *stubAnalysisStore) GetStatus(context.Context, string, string) (string, error) {
	return s.status, nil
}

func (s *stubAnalysisStore) LoadAnalysis(context.Context, string, string) (*store.Analysis, error) {
	return s.analysis, nil
}

func (s *stubAnalysisStore) ListContracts(context.Context, string) ([]string, error) {
	return s.contracts, nil
}

type stubPDF struct {
	out []byte
	err error
}

func (s *stubPDF) Render(context.Context, string) ([]byte, error) {
	return s.out, s.err
}

func newTestServer(pipe *stubPipeline, st *stubAnalysisStore, pdf PDFRenderer) *httptest.Server {
	return httptest.NewServer(NewServer(pipe, st, pdf, nil))
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(blob)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http do: %v", err)
	}
	return resp
}

func mustStatus(t *testing.T, resp *http.Response, want int) []byte {
	t.Helper()
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, want, string(blob))
	}
	return blob
}

func completedAnalysis() *store.Analysis {
	return &store.Analysis{
		Status:    store.StatusCompleted,
		UpdatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Result: map[string]any{
			"contract": map[string]any{
				"page1": map[string]any{
					"임대인": map[string]any{"text": "홍길동", "notice": "", "solution": ""},
				},
			},
		},
		Summary: map[string]any{
			"소유자": map[string]any{"text": "소유자가 확인되었습니다.", "check": false},
		},
	}
}

func TestOCREndpoint(t *testing.T) {
	pipe := &stubPipeline{}
	ts := newTestServer(pipe, &stubAnalysisStore{}, nil)
	defer ts.Close()

	body := map[string]any{
		"user_id":       "u1",
		"contract_id":   "c1",
		"document_type": "contract",
		"image_urls":    []string{"https://img.example/1.jpg", "https://img.example/2.jpg"},
	}
	blob := mustStatus(t, doJSON(t, http.MethodPost, ts.URL+"/v1/ocr", body), 200)

	var resp struct {
		OK    bool `json:"ok"`
		Pages int  `json:"pages"`
	}
	if err := json.Unmarshal(blob, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Pages != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if pipe.ingested["contract"] != 2 {
		t.Fatalf("ingested = %v", pipe.ingested)
	}
}

func TestOCRValidation(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()

	cases := []map[string]any{
		{"contract_id": "c1", "document_type": "contract", "image_urls": []string{"u"}},
		{"user_id": "u1", "document_type": "contract", "image_urls": []string{"u"}},
		{"user_id": "u1", "contract_id": "c1", "document_type": "lease", "image_urls": []string{"u"}},
		{"user_id": "u1", "contract_id": "c1", "document_type": "contract"},
	}
	for i, body := range cases {
		blob := mustStatus(t, doJSON(t, http.MethodPost, ts.URL+"/v1/ocr", body), 400)
		if !strings.Contains(string(blob), CodeValidation) {
			t.Fatalf("case %d: body = %s", i, blob)
		}
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()

	body := map[string]any{"user_id": "u1", "contract_id": "c1"}
	blob := mustStatus(t, doJSON(t, http.MethodPost, ts.URL+"/v1/analysis", body), 200)

	var resp struct {
		OK          bool   `json:"ok"`
		Status      string `json:"status"`
		PriceMethod string `json:"price_method"`
	}
	if err := json.Unmarshal(blob, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Status != store.StatusCompleted {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.PriceMethod != pricing.MethodDirect {
		t.Fatalf("price_method = %q", resp.PriceMethod)
	}
}

func TestAnalysisAcceptsCamelCaseIDs(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()

	body := map[string]any{"userId": "u1", "contractId": "c1"}
	blob := mustStatus(t, doJSON(t, http.MethodPost, ts.URL+"/v1/analysis", body), 200)

	var resp struct {
		OK         bool   `json:"ok"`
		ContractID string `json:"contract_id"`
	}
	if err := json.Unmarshal(blob, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.ContractID != "c1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatusAcceptsCamelCaseIDs(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{status: store.StatusProcessing}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/analysis/status?userId=u1&contractId=c1", nil), 200)
	if !strings.Contains(string(blob), store.StatusProcessing) {
		t.Fatalf("body = %s", blob)
	}
}

func TestAnalysisFailureSurfacesError(t *testing.T) {
	pipe := &stubPipeline{analyzeErr: &pipeline.StageError{Stage: "llm_review", Err: errors.New("rate limited")}}
	ts := newTestServer(pipe, &stubAnalysisStore{}, nil)
	defer ts.Close()

	body := map[string]any{"user_id": "u1", "contract_id": "c1"}
	blob := mustStatus(t, doJSON(t, http.MethodPost, ts.URL+"/v1/analysis", body), 500)
	if !strings.Contains(string(blob), "rate limited") {
		t.Fatalf("body = %s", blob)
	}
	var envelope struct {
		OK    bool `json:"ok"`
		Error struct {
			Code      string `json:"code"`
			Transient bool   `json:"transient"`
		} `json:"error"`
	}
	if err := json.Unmarshal(blob, &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.OK || envelope.Error.Code != CodeInternal || !envelope.Error.Transient {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestGetAnalysis(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/analysis?user_id=u1&contract_id=c1", nil), 200)
	if !strings.Contains(string(blob), "홍길동") {
		t.Fatalf("body = %s", blob)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/analysis?user_id=u1&contract_id=zzz", nil), 404)
	if !strings.Contains(string(blob), CodeNotFound) {
		t.Fatalf("body = %s", blob)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{status: store.StatusProcessing}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/analysis/status?user_id=u1&contract_id=c1", nil), 200)
	if !strings.Contains(string(blob), store.StatusProcessing) {
		t.Fatalf("body = %s", blob)
	}
}

func TestStatusNotFound(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/analysis/status?user_id=u1&contract_id=c1", nil), 404)
}

func TestContractsEndpoint(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{contracts: []string{"c2", "c1"}}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/contracts?user_id=u1", nil), 200)
	var resp struct {
		Contracts []string `json:"contracts"`
	}
	if err := json.Unmarshal(blob, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Contracts) != 2 || resp.Contracts[0] != "c2" {
		t.Fatalf("contracts = %v", resp.Contracts)
	}
}

func TestContractsRequiresUserID(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/contracts", nil), 400)
}

func TestReportMarkdown(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, nil)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1", nil)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %q", ct)
	}
	blob := mustStatus(t, resp, 200)
	if !strings.Contains(string(blob), "# 임대차 계약 위험 분석 보고서") {
		t.Fatalf("body = %s", blob)
	}
}

func TestReportHTML(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1&format=html", nil), 200)
	if !strings.Contains(string(blob), "<h1") {
		t.Fatalf("body = %s", blob)
	}
}

func TestReportPDF(t *testing.T) {
	pdf := &stubPDF{out: []byte("%PDF-1.7 fake")}
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, pdf)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1&format=pdf", nil)
	blob := mustStatus(t, resp, 200)
	if !bytes.HasPrefix(blob, []byte("%PDF")) {
		t.Fatalf("body = %q", blob)
	}
}

func TestReportPDFUnconfigured(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, nil)
	defer ts.Close()

	blob := mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1&format=pdf", nil), 503)
	if !strings.Contains(string(blob), CodeUnavailable) {
		t.Fatalf("body = %s", blob)
	}
}

func TestReportIncompleteAnalysis(t *testing.T) {
	a := completedAnalysis()
	a.Status = store.StatusProcessing
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: a}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1", nil), 404)
}

func TestReportUnknownFormat(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{analysis: completedAnalysis()}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/report?user_id=u1&contract_id=c1&format=docx", nil), 400)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil), 200)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(&stubPipeline{}, &stubAnalysisStore{}, nil)
	defer ts.Close()
	mustStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/v1/ocr", nil), 405)
}
