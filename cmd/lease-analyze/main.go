package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jibsin/leaseguard/internal/aireview"
	"github.com/jibsin/leaseguard/internal/config"
	"github.com/jibsin/leaseguard/internal/crosscheck"
	"github.com/jibsin/leaseguard/internal/geocode"
	"github.com/jibsin/leaseguard/internal/ocr"
	"github.com/jibsin/leaseguard/internal/pipeline"
	"github.com/jibsin/leaseguard/internal/pricing"
	"github.com/jibsin/leaseguard/internal/report"
	"github.com/jibsin/leaseguard/internal/store"
)

// Runs one analysis for a contract whose documents are already in the
// store, then writes the markdown report.
func main() {
	userID := flag.String("user", "", "User ID")
	contractID := flag.String("contract", "", "Contract ID")
	outputPath := flag.String("output", "", "Path to write the markdown report (defaults to stdout)")
	pdfPath := flag.String("pdf", "", "Optional path to also write a PDF report")
	flag.Parse()

	if *userID == "" || *contractID == "" {
		log.Fatal("missing required -user and -contract")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store (%s): %v", cfg.DBPath, err)
	}
	defer st.Close()

	caller, err := aireview.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	var geocoder crosscheck.Geocoder
	if cfg.NaverMapsClientID != "" && cfg.NaverMapsSecret != "" {
		geocoder = geocode.NewNaverClient(cfg.NaverMapsBaseURL, cfg.NaverMapsClientID, cfg.NaverMapsSecret)
	}
	extractor := ocr.NewExtractor(ocr.NewClovaClient(cfg.OCRAPIURL, cfg.OCRSecretKey), caller)
	runner := pipeline.NewRunner(pipeline.Config{}, st,
		extractor,
		crosscheck.New(crosscheck.Config{}, geocoder),
		aireview.NewReviewer(caller),
		pricing.NewClient(cfg.PriceTableBaseURL, caller),
		logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := runner.Analyze(ctx, *userID, *contractID)
	if err != nil {
		log.Fatalf("analysis failed at stage %q: %v", pipeline.StageNameFromError(err), err)
	}
	for _, w := range res.Warnings {
		logger.Warn("analysis warning", "warning", w)
	}

	analysis, err := st.LoadAnalysis(ctx, *userID, *contractID)
	if err != nil {
		log.Fatalf("load analysis: %v", err)
	}
	markdown := report.BuildMarkdown(*contractID, analysis)

	if *outputPath == "" {
		fmt.Print(markdown)
	} else if err := os.WriteFile(*outputPath, []byte(markdown), 0o644); err != nil {
		log.Fatalf("write report: %v", err)
	}

	if *pdfPath != "" {
		pdf, err := report.NewChromiumPDFRenderer().Render(ctx, markdown)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
		if err := os.WriteFile(*pdfPath, pdf, 0o644); err != nil {
			log.Fatalf("write pdf: %v", err)
		}
	}
}
