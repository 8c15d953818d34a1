package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jibsin/leaseguard/internal/aireview"
	"github.com/jibsin/leaseguard/internal/config"
	"github.com/jibsin/leaseguard/internal/crosscheck"
	"github.com/jibsin/leaseguard/internal/geocode"
	"github.com/jibsin/leaseguard/internal/httpapi"
	"github.com/jibsin/leaseguard/internal/ocr"
	"github.com/jibsin/leaseguard/internal/pipeline"
	"github.com/jibsin/leaseguard/internal/pricing"
	"github.com/jibsin/leaseguard/internal/report"
	"github.com/jibsin/leaseguard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx, cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("tracing: %v", err)
		}
		defer shutdown()
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store (%s): %v", cfg.DBPath, err)
	}
	defer st.Close()

	caller, err := aireview.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	extractor := ocr.NewExtractor(ocr.NewClovaClient(cfg.OCRAPIURL, cfg.OCRSecretKey), caller)
	var geocoder crosscheck.Geocoder
	if cfg.NaverMapsClientID != "" && cfg.NaverMapsSecret != "" {
		geocoder = geocode.NewNaverClient(cfg.NaverMapsBaseURL, cfg.NaverMapsClientID, cfg.NaverMapsSecret)
	}
	validator := crosscheck.New(crosscheck.Config{}, geocoder)
	reviewer := aireview.NewReviewer(caller)
	pricer := pricing.NewClient(cfg.PriceTableBaseURL, caller)

	runner := pipeline.NewRunner(pipeline.Config{}, st, extractor, validator, reviewer, pricer, logger)
	handler := httpapi.NewServer(runner, st, report.NewChromiumPDFRenderer(), logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("leaseguard listening", "addr", cfg.Addr, "db", cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info("leaseguard stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func setupTracing(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("leaseguard"),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}
