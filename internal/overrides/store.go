// Package overrides defines the per-user category override store consumed by
// the personalization stage.
package overrides

import (
	"context"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// Store reads and appends per-user category overrides.
type Store interface {
	// Lookup returns every override known for userID.
	Lookup(ctx context.Context, userID string) ([]domain.UserOverride, error)
	// Save appends new overrides for userID.
	Save(ctx context.Context, userID string, overrides []domain.UserOverride) error
}

// Nop is the store used when no backend is configured: it knows no overrides
// and discards writes.
type Nop struct{}

// Lookup implements Store.
func (Nop) Lookup(context.Context, string) ([]domain.UserOverride, error) { return nil, nil }

// Save implements Store.
func (Nop) Save(context.Context, string, []domain.UserOverride) error { return nil }
