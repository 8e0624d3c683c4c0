package pipeline

import (
	"regexp"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

var (
	dayMonthPattern    = regexp.MustCompile(`\d{2}/\d{2}`)
	installmentPattern = regexp.MustCompile(`\d+/\d+`)
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// NormalizeDescription reduces a transaction description to an override key:
// date and installment fragments and punctuation are removed, whitespace is
// collapsed and the result is lowercased.
func NormalizeDescription(desc string) string {
	s := dayMonthPattern.ReplaceAllString(desc, "")
	s = installmentPattern.ReplaceAllString(s, "")
	s = punctuationPattern.ReplaceAllString(s, " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Personalize applies the user's overrides to txs in place. Transactions
// without a matching override are returned as candidates carrying the
// model's own categorization, one per distinct key.
func Personalize(txs []domain.Transaction, overrides []domain.UserOverride) (applied int, candidates []domain.UserOverride) {
	keys := make([]domain.UserOverride, 0, len(overrides))
	for _, o := range overrides {
		o.Key = strings.ToLower(strings.TrimSpace(o.Key))
		if o.Key != "" {
			keys = append(keys, o)
		}
	}

	queued := make(map[string]struct{})
	for i := range txs {
		key := NormalizeDescription(txs[i].Description)
		if key == "" {
			continue
		}

		if o, ok := matchOverride(key, keys); ok {
			txs[i].Category = o.Category
			txs[i].Subcategory = o.Subcategory
			applied++
			continue
		}

		if _, dup := queued[key]; dup {
			continue
		}
		queued[key] = struct{}{}
		candidates = append(candidates, domain.UserOverride{
			Key:         key,
			Category:    txs[i].Category,
			Subcategory: txs[i].Subcategory,
		})
	}
	return applied, candidates
}

// matchOverride returns the first override whose key contains, or is
// contained in, the normalized description.
func matchOverride(key string, overrides []domain.UserOverride) (domain.UserOverride, bool) {
	for _, o := range overrides {
		if strings.Contains(key, o.Key) || strings.Contains(o.Key, key) {
			return o, true
		}
	}
	return domain.UserOverride{}, false
}
