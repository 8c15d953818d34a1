// Package config loads process configuration from the environment
// once at startup; everything downstream receives it as an explicit
// dependency.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	DBPath   string
	LogLevel string

	// Anthropic
	AnthropicAPIKey string

	// Clova OCR
	OCRAPIURL    string
	OCRSecretKey string

	// Naver geocoding
	NaverMapsBaseURL  string
	NaverMapsClientID string
	NaverMapsSecret   string

	// Assessed-price reference tables
	PriceTableBaseURL string

	// OTLP trace collector endpoint; empty disables export
	OTLPEndpoint string
}

// Load reads .env if present, then the environment. The LLM key and
// the OCR credentials are required since every analysis needs both.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:              getEnv("LEASEGUARD_ADDR", ":8080"),
		DBPath:            getEnv("LEASEGUARD_DB_PATH", "leaseguard.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		OCRAPIURL:         getEnv("OCR_API_URL", ""),
		OCRSecretKey:      getEnv("OCR_SECRET_KEY", ""),
		NaverMapsBaseURL:  getEnv("NAVER_MAPS_BASE_URL", "https://naveropenapi.apigw.ntruss.com"),
		NaverMapsClientID: getEnv("NAVER_MAPS_CLIENT_ID", ""),
		NaverMapsSecret:   getEnv("NAVER_MAPS_SECRET", ""),
		PriceTableBaseURL: getEnv("PRICE_TABLE_BASE_URL", ""),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if cfg.OCRAPIURL == "" || cfg.OCRSecretKey == "" {
		return nil, fmt.Errorf("OCR_API_URL and OCR_SECRET_KEY are required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
