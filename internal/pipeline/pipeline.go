// Package pipeline orchestrates one lease analysis end to end: load
// the three OCR documents, reconcile owners, run the rule and LLM
// passes, merge their findings, and persist the annotated result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jibsin/leaseguard/internal/aireview"
	"github.com/jibsin/leaseguard/internal/crosscheck"
	"github.com/jibsin/leaseguard/internal/docset"
	"github.com/jibsin/leaseguard/internal/ocr"
	"github.com/jibsin/leaseguard/internal/pricing"
	"github.com/jibsin/leaseguard/internal/reconcile"
	"github.com/jibsin/leaseguard/internal/store"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	LoadDocument(ctx context.Context, userID, contractID string, docType docset.DocType) (docset.Document, error)
	SaveDocument(ctx context.Context, userID, contractID string, docType docset.DocType, doc docset.Document, sizes map[string]docset.PageSize) error
	SaveCombined(ctx context.Context, userID, contractID string, ds *docset.DocumentSet) error
	SetStatus(ctx context.Context, userID, contractID, status string) error
	SaveAnalysis(ctx context.Context, userID, contractID string, result any, summary any) error
}

// Reviewer is the LLM analysis collaborator.
type Reviewer interface {
	Review(ctx context.Context, tree map[string]any) ([]docset.NoticeGroup, error)
	Summarize(ctx context.Context, annotated map[string]any) (aireview.Summary, error)
}

// PriceLookup resolves the assessed price for an address.
type PriceLookup interface {
	Lookup(ctx context.Context, address string) (pricing.Result, error)
}

// Config carries the per-collaborator time limits. Zero values get
// sensible defaults.
type Config struct {
	OCRTimeout   time.Duration
	RuleTimeout  time.Duration
	LLMTimeout   time.Duration
	PriceTimeout time.Duration
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 2 * time.Minute
	}
	if c.RuleTimeout <= 0 {
		c.RuleTimeout = 30 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 3 * time.Minute
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = 45 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

// Result is the outcome of one completed analysis.
type Result struct {
	UserID        string
	ContractID    string
	Annotated     map[string]any
	Summary       aireview.Summary
	RemovedOwners []reconcile.OwnerRecord
	Price         pricing.Result
	Warnings      []string
	StartedAt     time.Time
	CompletedAt   time.Time
}

type Runner struct {
	cfg       Config
	store     Store
	ocr       ocr.Runner
	validator *crosscheck.Validator
	reviewer  Reviewer
	pricer    PriceLookup
	log       *slog.Logger
	tracer    trace.Tracer
}

func NewRunner(cfg Config, st Store, ocrRunner ocr.Runner, validator *crosscheck.Validator, reviewer Reviewer, pricer PriceLookup, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:       cfg.withDefaults(),
		store:     st,
		ocr:       ocrRunner,
		validator: validator,
		reviewer:  reviewer,
		pricer:    pricer,
		log:       log,
		tracer:    otel.Tracer("leaseguard/pipeline"),
	}
}

// Ingest runs OCR over the page images of one document and persists
// the extracted pages, replacing any prior run for the same document.
func (r *Runner) Ingest(ctx context.Context, userID, contractID string, docType docset.DocType, imageURLs []string) (docset.Document, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.ingest",
		trace.WithAttributes(
			attribute.String("contract_id", contractID),
			attribute.String("document_type", string(docType)),
			attribute.Int("pages", len(imageURLs)),
		))
	defer span.End()

	ocrCtx, cancel := context.WithTimeout(ctx, r.cfg.OCRTimeout)
	defer cancel()
	doc, sizes, err := r.ocr.Run(ocrCtx, imageURLs, docType)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StageError{Stage: "ocr", Err: err}
	}
	doc, err = docset.CanonicalizeDocument(doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StageError{Stage: "ocr", Err: err}
	}
	// Size keys follow the same canonicalization as the page keys so
	// the stored dimensions line up with the stored pages.
	canonical := make(map[string]docset.PageSize, len(sizes))
	for raw, size := range sizes {
		if key, ok := docset.CanonicalPageKey(raw); ok {
			canonical[key] = size
		}
	}
	if err := r.withStoreTimeout(ctx, func(ctx context.Context) error {
		return r.store.SaveDocument(ctx, userID, contractID, docType, doc, canonical)
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StageError{Stage: "persist", Err: err}
	}
	r.log.Info("document ingested", "contract_id", contractID, "document_type", string(docType), "pages", len(doc))
	return doc, nil
}

// Analyze runs the full validation over a contract whose three
// documents have already been ingested. The status marker moves to
// processing at entry and ends at completed or failed; a failure never
// leaves partial analysis behind as completed.
func (r *Runner) Analyze(ctx context.Context, userID, contractID string) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.analyze",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.String("contract_id", contractID),
		))
	defer span.End()

	res := &Result{UserID: userID, ContractID: contractID, StartedAt: time.Now()}

	if err := r.withStoreTimeout(ctx, func(ctx context.Context) error {
		return r.store.SetStatus(ctx, userID, contractID, store.StatusProcessing)
	}); err != nil {
		return nil, &StageError{Stage: "status", Err: err}
	}

	result, err := r.analyze(ctx, res)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("analysis failed",
			"contract_id", contractID, "stage", StageNameFromError(err), "error", err)
		// The request context may already be dead; the failure marker
		// still has to land.
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StoreTimeout)
		defer cancel()
		if serr := r.store.SetStatus(failCtx, userID, contractID, store.StatusFailed); serr != nil {
			r.log.Error("failed to mark analysis failed", "contract_id", contractID, "error", serr)
		}
		return nil, err
	}
	return result, nil
}

func (r *Runner) analyze(ctx context.Context, res *Result) (*Result, error) {
	userID, contractID := res.UserID, res.ContractID

	// Load the three documents.
	ds := &docset.DocumentSet{}
	for _, docType := range []docset.DocType{docset.DocContract, docset.DocBuildingRegistry, docset.DocRegistryDocument} {
		var doc docset.Document
		err := r.withStoreTimeout(ctx, func(ctx context.Context) error {
			var lerr error
			doc, lerr = r.store.LoadDocument(ctx, userID, contractID, docType)
			return lerr
		})
		if err != nil {
			return nil, &StageError{Stage: "load", Err: err}
		}
		if len(doc) == 0 {
			return nil, &StageError{Stage: "load", Err: fmt.Errorf("missing %s document", docType)}
		}
		doc, err = docset.CanonicalizeDocument(doc)
		if err != nil {
			return nil, &StageError{Stage: "load", Err: fmt.Errorf("%s: %w", docType, err)}
		}
		ds.SetDocument(docType, doc)
	}

	// Owner reconciliation mutates the registry document in place.
	removed, err := traced(r, ctx, "reconcile", func(ctx context.Context) ([]reconcile.OwnerRecord, error) {
		return reconcile.Reconcile(ds)
	})
	if err != nil {
		return nil, &StageError{Stage: "reconcile", Err: err}
	}
	res.RemovedOwners = removed
	if len(removed) > 0 {
		r.log.Info("owner entries reconciled", "contract_id", contractID, "removed", len(removed))
	}

	tree, err := ds.Tree()
	if err != nil {
		return nil, &StageError{Stage: "serialize", Err: err}
	}
	boxes := docset.StripBoxes(tree)

	// Rule checks run on the typed set; geocoding trouble degrades the
	// address check rather than failing the analysis.
	ruleCtx, cancelRule := context.WithTimeout(ctx, r.cfg.RuleTimeout)
	ruleGroups, ruleErr := r.validator.Run(ruleCtx, ds)
	cancelRule()
	if ruleErr != nil {
		res.Warnings = append(res.Warnings, ruleErr.Error())
		r.log.Warn("rule check degraded", "contract_id", contractID, "error", ruleErr)
	}

	// Assessed-price lookup feeds the valuation check. A lookup
	// failure is the documented "value unavailable" path, not fatal.
	priceCtx, cancelPrice := context.WithTimeout(ctx, r.cfg.PriceTimeout)
	price, priceErr := r.pricer.Lookup(priceCtx, contractAddress(ds))
	cancelPrice()
	if priceErr != nil {
		res.Warnings = append(res.Warnings, priceErr.Error())
		r.log.Warn("price lookup degraded", "contract_id", contractID, "error", priceErr)
	}
	res.Price = price
	ruleGroups = append(ruleGroups, crosscheck.Valuation(ds, price.AssessedPrice))

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: "validate", Err: err}
	}

	// LLM passes see the box-stripped tree only.
	llmGroups, err := traced(r, ctx, "llm_review", func(ctx context.Context) ([]docset.NoticeGroup, error) {
		llmCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
		defer cancel()
		return r.reviewer.Review(llmCtx, tree)
	})
	if err != nil {
		return nil, &StageError{Stage: "llm_review", Err: err}
	}

	annotated := docset.MergeNoticeGroups(tree, append(ruleGroups, llmGroups...))
	docset.RestoreBoxes(annotated, boxes)

	summary, err := traced(r, ctx, "summary", func(ctx context.Context) (aireview.Summary, error) {
		llmCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
		defer cancel()
		return r.reviewer.Summarize(llmCtx, annotated)
	})
	if err != nil {
		return nil, &StageError{Stage: "summary", Err: err}
	}
	res.Summary = summary

	// Persist the combined set and the final analysis; SaveAnalysis
	// flips the status to completed.
	final, err := docset.FromTree(annotated)
	if err != nil {
		return nil, &StageError{Stage: "persist", Err: err}
	}
	if err := r.withStoreTimeout(ctx, func(ctx context.Context) error {
		return r.store.SaveCombined(ctx, userID, contractID, final)
	}); err != nil {
		return nil, &StageError{Stage: "persist", Err: err}
	}
	if err := r.withStoreTimeout(ctx, func(ctx context.Context) error {
		return r.store.SaveAnalysis(ctx, userID, contractID, annotated, summary)
	}); err != nil {
		return nil, &StageError{Stage: "persist", Err: err}
	}

	res.Annotated = annotated
	res.CompletedAt = time.Now()
	r.log.Info("analysis completed",
		"contract_id", contractID,
		"duration", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond),
		"price_method", price.Method,
		"warnings", len(res.Warnings))
	return res, nil
}

// contractAddress joins the contract's site and rented-part fields
// into the lookup address.
func contractAddress(ds *docset.DocumentSet) string {
	var parts []string
	for _, pageKey := range docset.SortedPageKeys(ds.Contract) {
		page := ds.Contract[pageKey]
		if f, ok := page["소재지"]; ok && f.HasValue() {
			parts = append(parts, f.Text)
			if part, ok := page["임차할부분"]; ok && part.HasValue() {
				parts = append(parts, part.Text)
			}
			break
		}
	}
	return crosscheck.NormalizeAddress(strings.Join(parts, " "))
}

func (r *Runner) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

func traced[T any](r *Runner, ctx context.Context, stage string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline."+stage)
	defer span.End()
	out, err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
