package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder values the model reports when it cannot identify the bank or
// document kind. They never overwrite a real value during consolidation.
const (
	DefaultBankName     = "TBD"
	DefaultDocumentType = "unknown"
)

// UnitResult is the categorization output for one extraction unit.
type UnitResult struct {
	Success      bool          `json:"success"`
	BankName     string        `json:"bank_name"`
	DocumentType string        `json:"document_type"`
	Transactions []Transaction `json:"transactions"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// UnmarshalJSON tolerates the model returning null for string fields.
func (u *UnitResult) UnmarshalJSON(data []byte) error {
	var w struct {
		Success      bool          `json:"success"`
		BankName     *string       `json:"bank_name"`
		DocumentType *string       `json:"document_type"`
		Transactions []Transaction `json:"transactions"`
		ErrorMessage *string       `json:"error_message"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = UnitResult{
		Success:      w.Success,
		BankName:     deref(w.BankName),
		DocumentType: deref(w.DocumentType),
		Transactions: w.Transactions,
		ErrorMessage: deref(w.ErrorMessage),
	}
	return nil
}

// DocumentResult is the consolidated, personalized output for a whole document.
// TransactionsCount always equals len(Transactions) and Success is true iff
// the count is positive. ErrorMessage may be set on a successful result to
// surface partial failures.
type DocumentResult struct {
	Success           bool          `json:"success"`
	BankName          string        `json:"bank_name"`
	DocumentType      string        `json:"document_type"`
	TransactionsCount int           `json:"transactions_count"`
	Transactions      []Transaction `json:"transactions"`
	ErrorMessage      string        `json:"error_message"`
	StartMonth        string        `json:"start_month,omitempty"`
	EndMonth          string        `json:"end_month,omitempty"`
}

// MarshalJSON emits an empty transaction array instead of null and a null
// error_message when there is nothing to report.
func (r DocumentResult) MarshalJSON() ([]byte, error) {
	type plain DocumentResult
	out := struct {
		plain
		Transactions []Transaction `json:"transactions"`
		ErrorMessage *string       `json:"error_message"`
	}{plain: plain(r), Transactions: r.Transactions}

	if out.Transactions == nil {
		out.Transactions = []Transaction{}
	}
	if r.ErrorMessage != "" {
		msg := r.ErrorMessage
		out.ErrorMessage = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *DocumentResult) UnmarshalJSON(data []byte) error {
	type plain DocumentResult
	var in struct {
		plain
		ErrorMessage *string `json:"error_message"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = DocumentResult(in.plain)
	r.ErrorMessage = deref(in.ErrorMessage)
	return nil
}

// FailureResult builds the negative-outcome payload delivered when a job
// cannot produce transactions.
func FailureResult(message string) DocumentResult {
	return DocumentResult{
		Success:      false,
		BankName:     DefaultBankName,
		DocumentType: DefaultDocumentType,
		Transactions: []Transaction{},
		ErrorMessage: message,
	}
}

// SetTransactions replaces the transaction list and keeps the derived fields
// (count, success flag, month range) consistent with it.
func (r *DocumentResult) SetTransactions(txs []Transaction) {
	if txs == nil {
		txs = []Transaction{}
	}
	r.Transactions = txs
	r.TransactionsCount = len(txs)
	r.Success = len(txs) > 0
	r.StartMonth, r.EndMonth = MonthRange(txs)
}

// MonthRange returns the months ("YYYY-MM") of the earliest and latest
// transactions, or empty strings when there are none.
func MonthRange(txs []Transaction) (start, end string) {
	if len(txs) == 0 {
		return "", ""
	}
	first, last := txs[0].Date, txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(first) {
			first = tx.Date
		}
		if tx.Date.After(last) {
			last = tx.Date
		}
	}
	return monthString(first.Year, int(first.Month)), monthString(last.Year, int(last.Month))
}

func monthString(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// UserOverride is a categorization learned for one user, keyed by a
// normalized description.
type UserOverride struct {
	Key         string `json:"treated_name"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

// UserID identifies the end user a statement belongs to. Callers send it
// either as a JSON number or a string.
type UserID string

// UnmarshalJSON implements json.Unmarshaler.
func (u *UserID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*u = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*u = UserID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a number or string: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

func (u UserID) String() string { return string(u) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
