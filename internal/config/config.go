package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabasePath string
	HTTPAddr     string
	LogLevel     string
	LogFormat    string

	ShutdownTimeout time.Duration
	ExtractInterval time.Duration

	// Extraction scope.
	HUCCode         string
	SampleMode      bool
	MaxSites        int
	StreamflowDays  int // initial history window, days
	ForcingDays     int
	IncrementalDays int // overlap re-fetched past the watermark

	// Open-Meteo rate limiting (free tier allows 600 calls/min).
	OpenMeteoCallsPerMinute int
	OpenMeteoRetryAttempts  int
	OpenMeteoRetryBackoff   time.Duration

	// Artifact registry (S3-compatible).
	PublishEnabled  bool
	PublishInterval time.Duration
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	S3Bucket        string
	ArtifactName    string

	// Optional run-event publishing.
	RunEventsEnabled bool
	KafkaBrokers     []string
	RunEventsTopic   string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	extractInterval, err := parseDuration("EXTRACT_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	publishInterval, err := parseDuration("PUBLISH_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}
	retryBackoff, err := parseDuration("OPENMETEO_RETRY_BACKOFF", "60s")
	if err != nil {
		return nil, err
	}

	maxSites, err := parseInt("MAX_SITES", 100)
	if err != nil {
		return nil, err
	}
	streamflowDays, err := parseInt("STREAMFLOW_DAYS_BACK", 30)
	if err != nil {
		return nil, err
	}
	forcingDays, err := parseInt("FORCING_DAYS_BACK", 7)
	if err != nil {
		return nil, err
	}
	incrementalDays, err := parseInt("INCREMENTAL_DAYS", 2)
	if err != nil {
		return nil, err
	}
	callsPerMinute, err := parseInt("OPENMETEO_CALLS_PER_MINUTE", 500)
	if err != nil {
		return nil, err
	}
	retryAttempts, err := parseInt("OPENMETEO_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	runEventsEnabled := len(brokers) > 0
	if v := os.Getenv("RUN_EVENTS_ENABLED"); v != "" {
		runEventsEnabled = v == "true"
	}

	publishEnabled := os.Getenv("S3_ENDPOINT") != ""
	if v := os.Getenv("PUBLISH_ENABLED"); v != "" {
		publishEnabled = v == "true"
	}

	cfg := &Config{
		DatabasePath: envOrDefault("DUCKDB_PATH", "flood_forecasting.duckdb"),
		HTTPAddr:     envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout: shutdownTimeout,
		ExtractInterval: extractInterval,

		HUCCode:         envOrDefault("HUC_CODE", "10"),
		SampleMode:      envOrDefault("SAMPLE_MODE", "true") == "true",
		MaxSites:        maxSites,
		StreamflowDays:  streamflowDays,
		ForcingDays:     forcingDays,
		IncrementalDays: incrementalDays,

		OpenMeteoCallsPerMinute: callsPerMinute,
		OpenMeteoRetryAttempts:  retryAttempts,
		OpenMeteoRetryBackoff:   retryBackoff,

		PublishEnabled:  publishEnabled,
		PublishInterval: publishInterval,
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:        os.Getenv("S3_USE_SSL") == "true",
		S3Bucket:        envOrDefault("S3_BUCKET", "flood-forecasting"),
		ArtifactName:    envOrDefault("ARTIFACT_NAME", "flood-dataset"),

		RunEventsEnabled: runEventsEnabled,
		KafkaBrokers:     brokers,
		RunEventsTopic:   envOrDefault("RUN_EVENTS_TOPIC", "elt-run-events"),
	}

	if cfg.DatabasePath == "" {
		return nil, errors.New("DUCKDB_PATH is required")
	}
	if cfg.HUCCode == "" {
		return nil, errors.New("HUC_CODE is required")
	}
	if cfg.MaxSites <= 0 {
		return nil, errors.New("MAX_SITES must be positive")
	}
	if cfg.StreamflowDays <= 0 {
		return nil, errors.New("STREAMFLOW_DAYS_BACK must be positive")
	}
	if cfg.ForcingDays <= 0 {
		return nil, errors.New("FORCING_DAYS_BACK must be positive")
	}
	if cfg.IncrementalDays < 0 {
		return nil, errors.New("INCREMENTAL_DAYS must not be negative")
	}
	if cfg.PublishEnabled && cfg.S3Endpoint == "" {
		return nil, errors.New("PUBLISH_ENABLED is true but S3_ENDPOINT is not set")
	}
	if cfg.PublishEnabled && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when publishing is enabled")
	}
	if cfg.RunEventsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("RUN_EVENTS_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
