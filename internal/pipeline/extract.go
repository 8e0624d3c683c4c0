package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/logger"
)

// nativeText joins the usable pages in page order. It returns "" when no
// page reaches minChars.
func nativeText(pages []domain.Page, minChars int) (text string, usable int) {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if domain.UsablePageText(p.Text, minChars) {
			texts = append(texts, strings.TrimSpace(p.Text))
		}
	}
	return strings.Join(texts, domain.PageMarker), len(texts)
}

// extractText runs native extraction and, when it yields nothing usable,
// the render + OCR fallback.
func (p *Pipeline) extractText(ctx context.Context, data []byte) (string, domain.Origin, error) {
	log := logger.FromContextOr(ctx, p.log)

	pages, nativeErr := p.text.ExtractPages(ctx, data)
	if nativeErr != nil {
		log.Warn().Err(nativeErr).Msg("native extraction failed, falling back to OCR")
	} else {
		text, usable := nativeText(pages, p.opts.MinPageChars)
		log.Info().Int("pages", len(pages)).Int("usable", usable).Msg("native extraction finished")
		if usable > 0 {
			return text, domain.OriginNative, nil
		}
	}

	if p.renderer == nil || p.ocr == nil {
		if nativeErr != nil {
			return "", "", fmt.Errorf("extractText: no OCR fallback configured: %w", nativeErr)
		}
		return "", "", fmt.Errorf("extractText: %w: no OCR fallback configured", domain.ErrExtractionFailed)
	}

	images, err := p.renderer.Render(ctx, data)
	if err != nil {
		return "", "", fmt.Errorf("extractText: rendering pages: %w", err)
	}
	text, err := p.ocr.Extract(ctx, images)
	if err != nil {
		return "", "", fmt.Errorf("extractText: ocr: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("extractText: %w", domain.ErrExtractionFailed)
	}
	return text, domain.OriginOCR, nil
}
