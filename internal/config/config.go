// Package config loads the server configuration from OPREPORT_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/opreport/internal/rollup"
)

type Config struct {
	APIURL    string // OPREPORT_API_URL (required)
	APIToken  string // OPREPORT_API_TOKEN (optional, empty = anonymous)
	ProjectID string // OPREPORT_PROJECT (required)

	// Engine settings
	DimensionField    string        // OPREPORT_DIMENSION_FIELD (default "customField1")
	TemplateDimension string        // OPREPORT_TEMPLATE_DIMENSION (default "省厅")
	TemplateHint      string        // OPREPORT_TEMPLATE_HINT (default "省")
	CacheTTL          time.Duration // OPREPORT_CACHE_TTL (default 5m)
	Concurrency       int           // OPREPORT_CONCURRENCY (default 10)
	ConnectTimeout    time.Duration // OPREPORT_CONNECT_TIMEOUT (default 5s)
	ReadTimeout       time.Duration // OPREPORT_READ_TIMEOUT (default 15s)
	RetryAttempts     int           // OPREPORT_RETRY_ATTEMPTS (default 3)
	Rollup            rollup.Mode   // OPREPORT_ROLLUP (default "direct")

	// Serving
	HTTPAddr    string   // OPREPORT_HTTP_ADDR (default ":8080")
	GRPCAddr    string   // OPREPORT_GRPC_ADDR (default ":9090")
	NATSURL     string   // OPREPORT_NATS_URL (optional, empty = no events)
	AuthToken   string   // OPREPORT_AUTH_TOKEN (optional)
	JWTSecret   string   // OPREPORT_JWT_SECRET (optional; auth disabled when both are empty)
	CORSOrigins []string // OPREPORT_CORS_ORIGINS (comma separated, optional)
	DatabaseURL string   // OPREPORT_DATABASE_URL (optional, empty = no history)

	// Sync settings
	SyncInterval   time.Duration // OPREPORT_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // OPREPORT_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // OPREPORT_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // OPREPORT_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // OPREPORT_SYNC_S3_KEY (default "opreport/{project}/latest.jsonl")
	SyncGitRepo    string        // OPREPORT_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // OPREPORT_SYNC_GIT_FILE (default "report.jsonl")
	SyncGitBranch  string        // OPREPORT_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		APIURL:            strings.TrimRight(os.Getenv("OPREPORT_API_URL"), "/"),
		APIToken:          os.Getenv("OPREPORT_API_TOKEN"),
		ProjectID:         os.Getenv("OPREPORT_PROJECT"),
		DimensionField:    envOrDefault("OPREPORT_DIMENSION_FIELD", "customField1"),
		TemplateDimension: envOrDefault("OPREPORT_TEMPLATE_DIMENSION", "省厅"),
		TemplateHint:      envOrDefault("OPREPORT_TEMPLATE_HINT", "省"),
		HTTPAddr:          envOrDefault("OPREPORT_HTTP_ADDR", ":8080"),
		GRPCAddr:          envOrDefault("OPREPORT_GRPC_ADDR", ":9090"),
		NATSURL:           os.Getenv("OPREPORT_NATS_URL"),
		AuthToken:         os.Getenv("OPREPORT_AUTH_TOKEN"),
		JWTSecret:         os.Getenv("OPREPORT_JWT_SECRET"),
		CORSOrigins:       splitList(os.Getenv("OPREPORT_CORS_ORIGINS")),
		DatabaseURL:       os.Getenv("OPREPORT_DATABASE_URL"),
		SyncS3Bucket:      os.Getenv("OPREPORT_SYNC_S3_BUCKET"),
		SyncS3Endpoint:    os.Getenv("OPREPORT_SYNC_S3_ENDPOINT"),
		SyncS3Region:      envOrDefault("OPREPORT_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:         envOrDefault("OPREPORT_SYNC_S3_KEY", "opreport/{project}/latest.jsonl"),
		SyncGitRepo:       os.Getenv("OPREPORT_SYNC_GIT_REPO"),
		SyncGitFile:       envOrDefault("OPREPORT_SYNC_GIT_FILE", "report.jsonl"),
		SyncGitBranch:     envOrDefault("OPREPORT_SYNC_GIT_BRANCH", "main"),
	}
	if c.APIURL == "" {
		return nil, fmt.Errorf("OPREPORT_API_URL is required")
	}
	if c.ProjectID == "" {
		return nil, fmt.Errorf("OPREPORT_PROJECT is required")
	}

	var err error
	if c.CacheTTL, err = envDuration("OPREPORT_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if c.ConnectTimeout, err = envDuration("OPREPORT_CONNECT_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if c.ReadTimeout, err = envDuration("OPREPORT_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("OPREPORT_SYNC_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if c.Concurrency, err = envInt("OPREPORT_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if c.RetryAttempts, err = envInt("OPREPORT_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if c.Rollup, err = rollup.ParseMode(os.Getenv("OPREPORT_ROLLUP")); err != nil {
		return nil, fmt.Errorf("OPREPORT_ROLLUP: %w", err)
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s: must be at least 1", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
