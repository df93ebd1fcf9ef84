// Package bootstrap provides dependency initialization for the framekit API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/maauso/framekit-api/internal/config"
	"github.com/maauso/framekit-api/internal/extract"
	"github.com/maauso/framekit-api/internal/gif"
	"github.com/maauso/framekit-api/internal/job"
	"github.com/maauso/framekit-api/internal/media"
	"github.com/maauso/framekit-api/internal/metrics"
	"github.com/maauso/framekit-api/internal/storage"
	"github.com/maauso/framekit-api/internal/tasks"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Orchestrator *job.Orchestrator
	Files        *storage.LocalStorage
	Metrics      *metrics.Recorder
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	files, err := storage.NewLocalStorage(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured", slog.String("root", files.Root()))

	store, err := job.NewFileStore(files.Root())
	if err != nil {
		return nil, fmt.Errorf("create job store: %w", err)
	}

	publisher, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := metrics.New()
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)

	registry := job.NewRegistry()
	if err := tasks.Register(registry, tasks.Deps{
		Opener:       processor,
		Cropper:      processor,
		Files:        files,
		Publisher:    publisher,
		Extractor:    extract.NewEngine(logger),
		Assembler:    gif.NewAssembler(logger),
		Metrics:      recorder,
		Logger:       logger,
		PreviewLimit: cfg.PreviewLimit,
	}); err != nil {
		return nil, fmt.Errorf("register operations: %w", err)
	}

	orc := job.NewOrchestrator(store, files, registry, logger,
		job.WithObserver(recorder),
		job.WithTracer(otel.Tracer("github.com/maauso/framekit-api/internal/job")),
	)

	return &Dependencies{
		Orchestrator: orc,
		Files:        files,
		Metrics:      recorder,
	}, nil
}

// initPublisher creates the object storage publisher based on configuration.
// Without S3 or MinIO settings, artifacts stay local.
func initPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Publisher, error) {
	switch {
	case cfg.S3Enabled():
		pub, err := storage.NewS3Publisher(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 publisher: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return pub, nil

	case cfg.MinioEnabled():
		pub, err := storage.NewMinioPublisher(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO publisher: %w", err)
		}
		if err := pub.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure MinIO bucket: %w", err)
		}
		logger.Info("MinIO publishing configured",
			slog.String("endpoint", cfg.MinioEndpoint),
			slog.String("bucket", pub.Bucket()),
		)
		return pub, nil

	default:
		return storage.NopPublisher{}, nil
	}
}
