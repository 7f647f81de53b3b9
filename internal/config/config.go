package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultMaxPages            = 100
	DefaultMaxSplitBytes       = 20 << 20
	DefaultInlinePayloadBytes  = 20 << 20
	DefaultRequestTimeout      = 600 * time.Second
	DefaultMaxAttempts         = 3
	DefaultRetryBase           = 5 * time.Second
	DefaultAssetConcurrency    = 10
	DefaultAssetTimeout        = 60 * time.Second
	DefaultProbeTimeout        = 10 * time.Second
	DefaultFirestoreCollection = "documents"
	DefaultWorkflowLocation    = "us-central1"
)

// Config holds every tunable of the OCR pipeline.
type Config struct {
	APIURL   string
	APIToken string

	MaxPages           int
	MaxSplitBytes      int64
	InlinePayloadBytes int64
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryBase          time.Duration
	RequestsPerSecond  float64
	AssetConcurrency   int
	AssetTimeout       time.Duration
	TempDir            string
}

// CloudConfig holds the settings only the cloud function needs.
type CloudConfig struct {
	ProjectID        string
	OutputBucket     string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Default returns a Config populated with the built-in defaults and no endpoint.
func Default() Config {
	return Config{
		MaxPages:           DefaultMaxPages,
		MaxSplitBytes:      DefaultMaxSplitBytes,
		InlinePayloadBytes: DefaultInlinePayloadBytes,
		RequestTimeout:     DefaultRequestTimeout,
		MaxAttempts:        DefaultMaxAttempts,
		RetryBase:          DefaultRetryBase,
		AssetConcurrency:   DefaultAssetConcurrency,
		AssetTimeout:       DefaultAssetTimeout,
		TempDir:            os.TempDir(),
	}
}

// Load reads the pipeline configuration from the environment.
func Load() (Config, error) {
	cfg := Default()
	cfg.APIURL = GetEnv("OCR_API_URL", "")
	cfg.APIToken = GetEnv("OCR_API_TOKEN", "")
	cfg.TempDir = GetEnv("OCR_TEMP_DIR", cfg.TempDir)

	var err error
	if cfg.MaxPages, err = envInt("OCR_MAX_PAGES", cfg.MaxPages); err != nil {
		return Config{}, err
	}
	if cfg.MaxSplitBytes, err = envInt64("OCR_MAX_SPLIT_BYTES", cfg.MaxSplitBytes); err != nil {
		return Config{}, err
	}
	if cfg.InlinePayloadBytes, err = envInt64("OCR_INLINE_PAYLOAD_BYTES", cfg.InlinePayloadBytes); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("OCR_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxAttempts, err = envInt("OCR_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RetryBase, err = envDuration("OCR_RETRY_BASE", cfg.RetryBase); err != nil {
		return Config{}, err
	}
	if cfg.RequestsPerSecond, err = envFloat("OCR_REQUESTS_PER_SECOND", 0); err != nil {
		return Config{}, err
	}
	if cfg.AssetConcurrency, err = envInt("OCR_ASSET_CONCURRENCY", cfg.AssetConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.AssetTimeout, err = envDuration("OCR_ASSET_TIMEOUT", cfg.AssetTimeout); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxPages < 1:
		return fmt.Errorf("OCR_MAX_PAGES must be at least 1, got %d", c.MaxPages)
	case c.MaxSplitBytes < 1:
		return fmt.Errorf("OCR_MAX_SPLIT_BYTES must be positive, got %d", c.MaxSplitBytes)
	case c.MaxAttempts < 1:
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	case c.AssetConcurrency < 1:
		return fmt.Errorf("OCR_ASSET_CONCURRENCY must be at least 1, got %d", c.AssetConcurrency)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("OCR_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	case c.RetryBase < 0:
		return fmt.Errorf("OCR_RETRY_BASE must not be negative, got %s", c.RetryBase)
	}
	return nil
}

// LoadCloud reads the cloud function settings from the environment.
func LoadCloud() (CloudConfig, error) {
	cfg := CloudConfig{
		ProjectID:        GetEnv("PROJECT_ID", ""),
		OutputBucket:     GetEnv("OUTPUT_BUCKET", ""),
		CollectionName:   GetEnv("FIRESTORE_COLLECTION", DefaultFirestoreCollection),
		WorkflowID:       GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: GetEnv("WORKFLOW_LOCATION", DefaultWorkflowLocation),
	}
	if cfg.ProjectID == "" {
		return CloudConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return CloudConfig{}, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	return cfg, nil
}

func envInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

// envDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
