package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-categorizer/internal/domain"
	"google.golang.org/api/iterator"
)

// LookupOverridesWithClient returns every override stored for userID in
// datasetID.tableID.
func LookupOverridesWithClient(ctx context.Context, client *bigquery.Client, datasetID, tableID, userID string) ([]domain.UserOverride, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			user_id,
			treated_name,
			category,
			subcategory,
			created_ts
		FROM `+"`%s.%s`"+`
		WHERE user_id = @user_id
		ORDER BY created_ts
	`, datasetID, tableID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LookupOverrides: query read: %w", err)
	}

	var out []domain.UserOverride
	for {
		var r UserOverrideRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LookupOverrides: iter next: %w", err)
		}
		out = append(out, r.toOverride())
	}

	return out, nil
}

// InsertOverridesWithClient appends overrides for userID to datasetID.tableID.
// Entries with an empty key are skipped.
func InsertOverridesWithClient(ctx context.Context, client *bigquery.Client, datasetID, tableID, userID string, overrides []domain.UserOverride) error {
	rows := newOverrideRows(userID, overrides, time.Now().UTC())
	if len(rows) == 0 {
		return nil
	}

	inserter := client.Dataset(datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertOverrides: inserting rows: %w", err)
	}

	return nil
}
