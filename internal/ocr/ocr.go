// Package ocr turns rendered page images into text through a vision model.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/ratelimit"
	"github.com/dvloznov/statement-categorizer/internal/taxonomy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Strategy selects how pages are submitted to the vision model.
type Strategy string

const (
	// StrategyPerPage issues one call per page image, concurrently.
	StrategyPerPage Strategy = "per_page"
	// StrategyBatched submits every page image in a single call.
	StrategyBatched Strategy = "batched"
)

// VisionModel transcribes PNG images given an instruction.
type VisionModel interface {
	Transcribe(ctx context.Context, images [][]byte, instruction string) (string, error)
}

// Options configures an Extractor.
type Options struct {
	Strategy       Strategy
	MinPageChars   int
	MaxConcurrency int
	Limiter        *ratelimit.Limiter
}

// Extractor runs OCR over rendered pages.
type Extractor struct {
	model VisionModel
	opts  Options
	log   zerolog.Logger
}

// NewExtractor creates an Extractor backed by model.
func NewExtractor(model VisionModel, opts Options, log zerolog.Logger) *Extractor {
	if opts.Strategy == "" {
		opts.Strategy = StrategyPerPage
	}
	if opts.MinPageChars <= 0 {
		opts.MinPageChars = domain.DefaultMinPageChars
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	return &Extractor{model: model, opts: opts, log: log}
}

// Extract returns the document text recovered from page images, joined with
// domain.PageMarker in page order. An empty string with a nil error means no
// page produced usable text. Only context cancellation is returned as an error.
func (e *Extractor) Extract(ctx context.Context, pages []domain.Page) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}
	if e.opts.Strategy == StrategyBatched {
		return e.extractBatched(ctx, pages)
	}
	return e.extractPerPage(ctx, pages)
}

func (e *Extractor) extractPerPage(ctx context.Context, pages []domain.Page) (string, error) {
	texts := make([]string, len(pages))

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			log := e.log.With().Int("page", page.Index).Logger()
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				log.Warn().Err(err).Msg("ocr: page skipped")
				return nil
			}

			start := time.Now()
			text, err := e.model.Transcribe(ctx, [][]byte{page.Image}, taxonomy.TranscribeInstruction)
			if err != nil {
				log.Warn().Err(err).Msg("ocr: page failed")
				return nil
			}
			if !domain.UsablePageText(text, e.opts.MinPageChars) {
				log.Debug().Int("chars", len(strings.TrimSpace(text))).Msg("ocr: page below threshold")
				return nil
			}
			log.Debug().Dur("duration", time.Since(start)).Msg("ocr: page transcribed")
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("Extract: %w", err)
	}

	accepted := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			accepted = append(accepted, t)
		}
	}
	e.log.Info().Int("pages", len(pages)).Int("accepted", len(accepted)).Msg("ocr: per-page extraction finished")
	return strings.Join(accepted, domain.PageMarker), nil
}

func (e *Extractor) extractBatched(ctx context.Context, pages []domain.Page) (string, error) {
	images := make([][]byte, len(pages))
	for i, p := range pages {
		images[i] = p.Image
	}

	if err := e.opts.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("Extract: %w", err)
	}
	text, err := e.model.Transcribe(ctx, images, taxonomy.BatchTranscribeInstruction(domain.PageMarker))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("Extract: %w", ctx.Err())
		}
		e.log.Warn().Err(err).Int("pages", len(pages)).Msg("ocr: batched transcription failed")
		return "", nil
	}

	text = strings.TrimSpace(text)
	e.log.Info().Int("pages", len(pages)).Int("chars", len(text)).Msg("ocr: batched extraction finished")
	return text, nil
}
