// Package bigquery persists per-user category overrides in a BigQuery table.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/overrides"
	"google.golang.org/api/option"
)

// OverrideStore implements overrides.Store on top of a shared BigQuery client.
type OverrideStore struct {
	client    *bigquery.Client
	datasetID string
	tableID   string
}

// NewOverrideStore creates an OverrideStore with its own client.
// credentialsFile may be empty to use application default credentials.
func NewOverrideStore(ctx context.Context, projectID, datasetID, tableID, credentialsFile string) (*OverrideStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewOverrideStore: bigquery client: %w", err)
	}
	return NewOverrideStoreWithClient(client, datasetID, tableID), nil
}

// NewOverrideStoreWithClient wraps an existing client. The caller keeps
// ownership of it only if it never calls Close.
func NewOverrideStoreWithClient(client *bigquery.Client, datasetID, tableID string) *OverrideStore {
	return &OverrideStore{client: client, datasetID: datasetID, tableID: tableID}
}

// Close closes the underlying client.
func (s *OverrideStore) Close() error {
	return s.client.Close()
}

// Lookup implements overrides.Store.
func (s *OverrideStore) Lookup(ctx context.Context, userID string) ([]domain.UserOverride, error) {
	return LookupOverridesWithClient(ctx, s.client, s.datasetID, s.tableID, userID)
}

// Save implements overrides.Store.
func (s *OverrideStore) Save(ctx context.Context, userID string, items []domain.UserOverride) error {
	return InsertOverridesWithClient(ctx, s.client, s.datasetID, s.tableID, userID, items)
}

var _ overrides.Store = (*OverrideStore)(nil)
