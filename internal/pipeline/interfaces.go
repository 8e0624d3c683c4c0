package pipeline

import (
	"context"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// PageOCR recovers document text from rendered page images. An empty result
// with a nil error means no page produced usable text.
type PageOCR interface {
	Extract(ctx context.Context, pages []domain.Page) (string, error)
}

// Deliverer posts a finished result to a caller-supplied callback URL.
type Deliverer interface {
	Deliver(ctx context.Context, url string, result domain.DocumentResult) error
}

// DocumentFetcher downloads a document referenced by URL.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
