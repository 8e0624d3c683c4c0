package pipeline

import (
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
)

// NoTransactionsInDocument is the error message of a document with no
// transactions and no unit failures.
const NoTransactionsInDocument = "no transactions found in document"

// errorSeparator joins the messages of failed units.
const errorSeparator = "; "

// Consolidate merges unit results, given in submission order, into one
// document result.
//
// Transactions are deduplicated by (date, description, amount); the first
// occurrence wins. Bank name and document type come from the first
// successful unit reporting a non-placeholder value. Errors of failed units
// are surfaced even when transactions remain, except for the benign
// "no transactions" marker.
func Consolidate(results []domain.UnitResult) domain.DocumentResult {
	out := domain.DocumentResult{
		BankName:     domain.DefaultBankName,
		DocumentType: domain.DefaultDocumentType,
	}

	var (
		txs    []domain.Transaction
		seen   = make(map[string]struct{})
		errs   []string
		bankOK bool
		typeOK bool
	)

	for _, r := range results {
		if !r.Success {
			if msg := strings.TrimSpace(r.ErrorMessage); msg != "" && !isBenign(msg) {
				errs = append(errs, msg)
			}
			continue
		}

		if !bankOK && isReal(r.BankName) {
			out.BankName = strings.TrimSpace(r.BankName)
			bankOK = true
		}
		if !typeOK && isReal(r.DocumentType) {
			out.DocumentType = strings.TrimSpace(r.DocumentType)
			typeOK = true
		}

		for _, tx := range r.Transactions {
			key := tx.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			txs = append(txs, tx)
		}
	}

	out.SetTransactions(txs)

	switch {
	case len(errs) > 0:
		out.ErrorMessage = strings.Join(errs, errorSeparator)
	case len(txs) == 0:
		out.ErrorMessage = NoTransactionsInDocument
	}
	return out
}

// isReal reports whether value is set and not one of the placeholders.
func isReal(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && !strings.EqualFold(v, domain.DefaultBankName) && !strings.EqualFold(v, domain.DefaultDocumentType)
}
