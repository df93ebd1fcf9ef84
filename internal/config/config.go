// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPreviewLimit is returned when PREVIEW_LIMIT is below 1.
	ErrInvalidPreviewLimit = errors.New("config: PREVIEW_LIMIT must be at least 1")
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_MB is below 1.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_MB must be at least 1")
	// ErrConflictingPublishers is returned when both S3 and MinIO are configured.
	ErrConflictingPublishers = errors.New("config: S3 and MinIO publishing are mutually exclusive")
	// ErrInvalidTraceExporter is returned for an unknown TRACE_EXPORTER value.
	ErrInvalidTraceExporter = errors.New("config: TRACE_EXPORTER must be one of none, stdout, otlp")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=1024" json:"max_upload_mb"`

	// Storage settings
	StorageRoot string `env:"STORAGE_ROOT, default=/tmp/framekit" json:"storage_root"`

	// Processing settings
	FFmpegPath   string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath  string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	PreviewLimit int    `env:"PREVIEW_LIMIT, default=8" json:"preview_limit"`

	// Optional S3 publishing
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional MinIO publishing
	MinioEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"` // Masked in JSON
	MinioSecretKey string `env:"MINIO_SECRET_KEY" json:"-"` // Masked in JSON
	MinioBucket    string `env:"MINIO_BUCKET" json:"minio_bucket,omitempty"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL, default=false" json:"minio_use_ssl"`

	// Tracing settings
	TraceExporter string `env:"TRACE_EXPORTER, default=none" json:"trace_exporter"` // "none", "stdout" or "otlp"
	OTLPEndpoint  string `env:"OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure  bool   `env:"OTLP_INSECURE, default=false" json:"otlp_insecure"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MinioEnabled returns true if MinIO configuration is provided.
func (c *Config) MinioEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioBucket != ""
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and mutually exclusive settings.
func (c *Config) Validate() error {
	if c.PreviewLimit < 1 {
		return ErrInvalidPreviewLimit
	}
	if c.MaxUploadMB < 1 {
		return ErrInvalidUploadLimit
	}
	if c.S3Enabled() && c.MinioEnabled() {
		return ErrConflictingPublishers
	}
	switch strings.ToLower(c.TraceExporter) {
	case "", "none", "stdout", "otlp":
	default:
		return ErrInvalidTraceExporter
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, StorageRoot: %s, MaxUploadMB: %d, PreviewLimit: %d, S3Bucket: %s, S3Region: %s, MinioEndpoint: %s, MinioBucket: %s, TraceExporter: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageRoot,
		c.MaxUploadMB,
		c.PreviewLimit,
		c.S3Bucket,
		c.S3Region,
		c.MinioEndpoint,
		c.MinioBucket,
		c.TraceExporter,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
