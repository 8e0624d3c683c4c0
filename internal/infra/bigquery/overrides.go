package bigquery

import (
	"strings"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// UserOverrideRow represents one row of the user overrides table.
type UserOverrideRow struct {
	UserID      string    `bigquery:"user_id"`
	TreatedName string    `bigquery:"treated_name"`
	Category    string    `bigquery:"category"`
	Subcategory string    `bigquery:"subcategory"`
	CreatedTS   time.Time `bigquery:"created_ts"`
}

// toOverride maps a row to the domain type. Keys are compared after trimming
// and lowercasing, so they are normalized on the way out.
func (r *UserOverrideRow) toOverride() domain.UserOverride {
	return domain.UserOverride{
		Key:         strings.ToLower(strings.TrimSpace(r.TreatedName)),
		Category:    r.Category,
		Subcategory: r.Subcategory,
	}
}

func newOverrideRows(userID string, overrides []domain.UserOverride, now time.Time) []*UserOverrideRow {
	rows := make([]*UserOverrideRow, 0, len(overrides))
	for _, o := range overrides {
		if strings.TrimSpace(o.Key) == "" {
			continue
		}
		rows = append(rows, &UserOverrideRow{
			UserID:      userID,
			TreatedName: o.Key,
			Category:    o.Category,
			Subcategory: o.Subcategory,
			CreatedTS:   now,
		})
	}
	return rows
}
