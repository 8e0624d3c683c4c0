package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/taxonomy"
)

// parseUnitResult decodes a model response into a UnitResult. A bare JSON
// array is accepted as the transaction list of a successful unit.
func parseUnitResult(raw string) (domain.UnitResult, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return domain.UnitResult{}, fmt.Errorf("parseUnitResult: empty model response")
	}

	if strings.HasPrefix(clean, "[") {
		var txs []domain.Transaction
		if err := json.Unmarshal([]byte(clean), &txs); err != nil {
			return domain.UnitResult{}, fmt.Errorf("parseUnitResult: unmarshal transactions: %w", err)
		}
		return domain.UnitResult{Success: true, Transactions: txs}, nil
	}

	var res domain.UnitResult
	if err := json.Unmarshal([]byte(clean), &res); err != nil {
		return domain.UnitResult{}, fmt.Errorf("parseUnitResult: unmarshal result: %w", err)
	}
	if !res.Success && strings.TrimSpace(res.ErrorMessage) == "" {
		res.ErrorMessage = taxonomy.NoTransactionsMessage
	}
	return res, nil
}

// cleanModelJSON strips markdown code fences and any prose around the JSON
// value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimLeft(s, "`")
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSpace(s)
	}

	// Remove trailing ``` if present.
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object or array.
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// isBenign reports whether msg is the model's "no transactions" marker.
func isBenign(msg string) bool {
	return strings.TrimSpace(msg) == taxonomy.NoTransactionsMessage
}
