package pdf

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// TextExtractor reads the embedded text layer of every page.
type TextExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]domain.Page, error)
}

// NativeTextExtractor extracts text with ledongthuc/pdf.
type NativeTextExtractor struct {
	log zerolog.Logger
}

// NewNativeTextExtractor creates a new NativeTextExtractor.
func NewNativeTextExtractor(log zerolog.Logger) *NativeTextExtractor {
	return &NativeTextExtractor{log: log}
}

// ExtractPages returns one entry per page in document order. Pages whose text
// layer cannot be decoded come back with empty text; only a document that
// cannot be opened at all is an error.
func (e *NativeTextExtractor) ExtractPages(ctx context.Context, data []byte) (pages []domain.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("ExtractPages: %w: %v", domain.ErrCorruptInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("ExtractPages: opening document: %w: %v", domain.ErrCorruptInput, err)
	}

	total := reader.NumPage()
	pages = make([]domain.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, domain.Page{Index: i, Text: e.pageText(reader, i)})
	}
	return pages, nil
}

func (e *NativeTextExtractor) pageText(reader *pdf.Reader, index int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Debug().Int("page", index).Interface("panic", r).Msg("Text layer unreadable")
			text = ""
		}
	}()

	page := reader.Page(index)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		e.log.Debug().Err(err).Int("page", index).Msg("Text layer unreadable")
		return ""
	}
	return text
}
