// Package httpapi exposes the analysis pipeline over HTTP: document
// ingestion, analysis runs, status polling, and report rendering.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jibsin/leaseguard/internal/docset"
	"github.com/jibsin/leaseguard/internal/pipeline"
	"github.com/jibsin/leaseguard/internal/report"
	"github.com/jibsin/leaseguard/internal/store"
)

// Pipeline is the analysis surface the handlers call into.
type Pipeline interface {
	Ingest(ctx context.Context, userID, contractID string, docType docset.DocType, imageURLs []string) (docset.Document, error)
	Analyze(ctx context.Context, userID, contractID string) (*pipeline.Result, error)
}

// AnalysisStore is the read side used by status and report handlers.
type AnalysisStore interface {
	GetStatus(ctx context.Context, userID, contractID string) (string, error)
	LoadAnalysis(ctx context.Context, userID, contractID string) (*store.Analysis, error)
	ListContracts(ctx context.Context, userID string) ([]string, error)
}

// PDFRenderer turns report markdown into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

type Server struct {
	pipe  Pipeline
	store AnalysisStore
	pdf   PDFRenderer
	log   *slog.Logger
}

func NewServer(pipe Pipeline, st AnalysisStore, pdf PDFRenderer, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{pipe: pipe, store: st, pdf: pdf, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ocr", s.handleOCR)
	mux.HandleFunc("/v1/analysis", s.handleAnalysis)
	mux.HandleFunc("/v1/analysis/status", s.handleStatus)
	mux.HandleFunc("/v1/contracts", s.handleContracts)
	mux.HandleFunc("/v1/report", s.handleReport)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, err error) {
	var ae *Error
	if errors.As(err, &ae) {
		writeJSON(w, ae.Status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":      ae.Code,
				"message":   ae.Message,
				"transient": ae.Transient,
			},
		})
		return
	}
	writeJSON(w, 500, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":      CodeInternal,
			"message":   err.Error(),
			"transient": true,
		},
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeBody(r *http.Request, dst any) error {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return validationError("read body: %v", err)
	}
	if len(blob) == 0 {
		return validationError("empty body")
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return validationError("invalid json: %v", err)
	}
	return nil
}

type ocrRequest struct {
	UserID       string   `json:"user_id"`
	ContractID   string   `json:"contract_id"`
	DocumentType string   `json:"document_type"`
	ImageURLs    []string `json:"image_urls"`
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req ocrRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := requireIDs(req.UserID, req.ContractID); err != nil {
		writeAPIError(w, err)
		return
	}
	docType := docset.DocType(strings.TrimSpace(req.DocumentType))
	if !docType.Valid() {
		writeAPIError(w, validationError("unknown document_type %q", req.DocumentType))
		return
	}
	if len(req.ImageURLs) == 0 {
		writeAPIError(w, validationError("image_urls is required"))
		return
	}

	doc, err := s.pipe.Ingest(r.Context(), req.UserID, req.ContractID, docType, req.ImageURLs)
	if err != nil {
		s.log.Error("ingest failed", "contract_id", req.ContractID, "document_type", req.DocumentType, "error", err)
		writeAPIError(w, internalError(err.Error()))
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":            true,
		"document_type": string(docType),
		"pages":         len(doc),
	})
}

type analysisRequest struct {
	UserID     string `json:"user_id"`
	ContractID string `json:"contract_id"`

	// Callers also send the camelCase spellings.
	UserIDAlt     string `json:"userId"`
	ContractIDAlt string `json:"contractId"`
}

func (r analysisRequest) ids() (userID, contractID string) {
	userID, contractID = r.UserID, r.ContractID
	if userID == "" {
		userID = r.UserIDAlt
	}
	if contractID == "" {
		contractID = r.ContractIDAlt
	}
	return userID, contractID
}

func queryIDs(r *http.Request) (userID, contractID string) {
	q := r.URL.Query()
	userID, contractID = q.Get("user_id"), q.Get("contract_id")
	if userID == "" {
		userID = q.Get("userId")
	}
	if contractID == "" {
		contractID = q.Get("contractId")
	}
	return userID, contractID
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.runAnalysis(w, r)
	case http.MethodGet:
		s.getAnalysis(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	userID, contractID := req.ids()
	if err := requireIDs(userID, contractID); err != nil {
		writeAPIError(w, err)
		return
	}

	res, err := s.pipe.Analyze(r.Context(), userID, contractID)
	if err != nil {
		s.log.Error("analysis failed",
			"contract_id", contractID,
			"stage", pipeline.StageNameFromError(err),
			"error", err)
		writeAPIError(w, internalError(err.Error()))
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":             true,
		"contract_id":    res.ContractID,
		"status":         store.StatusCompleted,
		"summary":        res.Summary,
		"removed_owners": len(res.RemovedOwners),
		"price_method":   res.Price.Method,
		"warnings":       res.Warnings,
	})
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, contractID := queryIDs(r)
	if err := requireIDs(userID, contractID); err != nil {
		writeAPIError(w, err)
		return
	}
	a, err := s.store.LoadAnalysis(r.Context(), userID, contractID)
	if err != nil {
		writeAPIError(w, internalError(err.Error()))
		return
	}
	if a == nil {
		writeAPIError(w, notFoundError("no analysis for contract"))
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":          true,
		"status":      a.Status,
		"result":      a.Result,
		"summary":     a.Summary,
		"image_sizes": a.ImageSizes,
		"updated_at":  a.UpdatedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	userID, contractID := queryIDs(r)
	if err := requireIDs(userID, contractID); err != nil {
		writeAPIError(w, err)
		return
	}
	status, err := s.store.GetStatus(r.Context(), userID, contractID)
	if err != nil {
		writeAPIError(w, internalError(err.Error()))
		return
	}
	if status == "" {
		writeAPIError(w, notFoundError("no analysis for contract"))
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "status": status})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeAPIError(w, validationError("user_id is required"))
		return
	}
	ids, err := s.store.ListContracts(r.Context(), userID)
	if err != nil {
		writeAPIError(w, internalError(err.Error()))
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "contracts": ids})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	userID, contractID := q.Get("user_id"), q.Get("contract_id")
	if err := requireIDs(userID, contractID); err != nil {
		writeAPIError(w, err)
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "md"
	}

	a, err := s.store.LoadAnalysis(r.Context(), userID, contractID)
	if err != nil {
		writeAPIError(w, internalError(err.Error()))
		return
	}
	if a == nil || a.Status != store.StatusCompleted {
		writeAPIError(w, notFoundError("no completed analysis for contract"))
		return
	}

	markdown := report.BuildMarkdown(contractID, a)
	switch format {
	case "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, markdown)
	case "html":
		htmlDoc, err := report.RenderHTML(markdown)
		if err != nil {
			writeAPIError(w, internalError(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, htmlDoc)
	case "pdf":
		if s.pdf == nil {
			writeAPIError(w, newError(CodeUnavailable, "pdf rendering not configured", false))
			return
		}
		pdf, err := s.pdf.Render(r.Context(), markdown)
		if err != nil {
			s.log.Error("pdf render failed", "contract_id", contractID, "error", err)
			writeAPIError(w, internalError(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	default:
		writeAPIError(w, validationError("unknown format %q", format))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true})
}

func requireIDs(userID, contractID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationError("user_id is required")
	}
	if strings.TrimSpace(contractID) == "" {
		return validationError("contract_id is required")
	}
	return nil
}
