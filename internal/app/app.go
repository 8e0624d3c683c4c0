// Package app assembles the processing pipeline and its collaborators from
// configuration. Both the HTTP service and the CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/statement-categorizer/internal/config"
	"github.com/dvloznov/statement-categorizer/internal/gcs"
	"github.com/dvloznov/statement-categorizer/internal/gcsuploader"
	"github.com/dvloznov/statement-categorizer/internal/gemini"
	"github.com/dvloznov/statement-categorizer/internal/httpx"
	infraBQ "github.com/dvloznov/statement-categorizer/internal/infra/bigquery"
	"github.com/dvloznov/statement-categorizer/internal/infra/sqlite"
	"github.com/dvloznov/statement-categorizer/internal/ocr"
	"github.com/dvloznov/statement-categorizer/internal/overrides"
	"github.com/dvloznov/statement-categorizer/internal/pdf"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/dvloznov/statement-categorizer/internal/ratelimit"
	"github.com/dvloznov/statement-categorizer/internal/source"
	"github.com/dvloznov/statement-categorizer/internal/taxonomy"
	"github.com/dvloznov/statement-categorizer/internal/webhook"
	"github.com/rs/zerolog"
)

// App holds the long-lived clients shared by every request.
type App struct {
	Pipeline  *pipeline.Pipeline
	Gemini    *gemini.Client
	Fetcher   *source.Fetcher
	Overrides overrides.Store
	// Storage is nil unless Cloud Storage is enabled.
	Storage *gcsuploader.GCSStorageService

	closers []io.Closer
}

// Build constructs every collaborator described by cfg.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		VisionModel: cfg.Gemini.VisionModel,
	})
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Gemini = client

	tax, err := loadTaxonomy(cfg.Taxonomy.Path)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	if cfg.GCS.Enabled || cfg.GCS.ArchiveBucket != "" {
		storage, err := gcsuploader.NewGCSStorageService(ctx, cfg.GCP.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("Build: %w", err)
		}
		a.Storage = storage
		a.closers = append(a.closers, storage)
	}

	store, err := a.newOverrideStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Overrides = store

	// A nil *GCSStorageService must not become a non-nil interface.
	var storage gcs.StorageService
	if a.Storage != nil {
		storage = a.Storage
	}
	a.Fetcher = source.NewFetcher(httpx.NewClient(cfg.Download.Timeout), storage, cfg.Download.MaxBytes)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
		Burst:             cfg.Pipeline.Burst,
	})

	// Local OCR is not subject to the model rate limit.
	var vision ocr.VisionModel = client
	ocrLimiter := limiter
	if cfg.OCR.Provider == config.OCRProviderTesseract {
		vision = ocr.NewTesseract(cfg.OCR.Languages)
		ocrLimiter = nil
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Fetcher:  a.Fetcher,
		Unlocker: pdf.NewPDFCPUUnlocker(),
		Text:     pdf.NewNativeTextExtractor(log),
		Renderer: pdf.NewFitzRenderer(cfg.Pipeline.RenderScale, cfg.Pipeline.MaxImageEdge),
		OCR: ocr.NewExtractor(vision, ocr.Options{
			Strategy:       ocr.Strategy(cfg.OCR.Strategy),
			MinPageChars:   cfg.Pipeline.MinPageChars,
			MaxConcurrency: cfg.Pipeline.MaxConcurrency,
			Limiter:        ocrLimiter,
		}, log),
		Categorizer: pipeline.NewCategorizer(client, tax, limiter, log),
		Overrides:   store,
		Deliverer:   webhook.NewDeliverer(httpx.NewClient(cfg.Webhook.Timeout)),
	}, PipelineOptions(cfg), log)

	log.Info().
		Str("model", client.Model()).
		Str("ocr_provider", cfg.OCR.Provider).
		Str("ocr_strategy", cfg.OCR.Strategy).
		Str("partition", cfg.Pipeline.Partition).
		Str("overrides", cfg.Overrides.Backend).
		Bool("gcs", a.Storage != nil).
		Msg("pipeline ready")

	return a, nil
}

// PipelineOptions maps configuration onto pipeline.Options.
func PipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Partition:       pipeline.PartitionStrategy(cfg.Pipeline.Partition),
		MaxUnitChars:    cfg.Pipeline.MaxUnitChars,
		DirectThreshold: cfg.Pipeline.DirectThreshold,
		MinPageChars:    cfg.Pipeline.MinPageChars,
		MaxConcurrency:  cfg.Pipeline.MaxConcurrency,
		PersistTimeout:  cfg.Overrides.WriteTimeout,
	}
}

// Close releases every client opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newOverrideStore(ctx context.Context, cfg *config.Config) (overrides.Store, error) {
	switch cfg.Overrides.Backend {
	case config.OverridesSQLite:
		store, err := sqlite.NewStore(cfg.Overrides.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite override store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.OverridesBigQuery:
		store, err := infraBQ.NewOverrideStore(ctx,
			cfg.Overrides.BigQueryProject,
			cfg.Overrides.BigQueryDataset,
			cfg.Overrides.BigQueryTable,
			cfg.GCP.CredentialsFile,
		)
		if err != nil {
			return nil, fmt.Errorf("opening bigquery override store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return overrides.Nop{}, nil
	}
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}
