package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionKind tells income from expense. Values follow the consumer schema.
type TransactionKind string

const (
	KindIncome  TransactionKind = "receita"
	KindExpense TransactionKind = "despesa"
)

// Installment describes a purchase split into several payments ("3/9").
type Installment struct {
	Current int
	Total   int
}

// Transaction represents one financial movement extracted from a statement.
// Installment is nil unless the line carried an installment marker; on the
// wire the installment counters are then omitted entirely.
type Transaction struct {
	UUID        string
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
	Kind        TransactionKind
	Category    string
	Subcategory string
	Installment *Installment
}

// transactionWire is the JSON shape shared with the model and downstream consumers.
type transactionWire struct {
	UUID        string          `json:"uuid"`
	Date        string          `json:"data"`
	Description string          `json:"descricao"`
	Amount      json.RawMessage `json:"valor"`
	Category    string          `json:"categoria"`
	Kind        TransactionKind `json:"tipo"`
	Subcategory string          `json:"subcategoria"`
	Installment bool            `json:"parcelado"`
	Current     *flexInt        `json:"numero_parcelas,omitempty"`
	Total       *flexInt        `json:"total_parcelas,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t Transaction) MarshalJSON() ([]byte, error) {
	w := transactionWire{
		UUID:        t.UUID,
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      json.RawMessage(t.Amount.String()),
		Category:    t.Category,
		Kind:        t.Kind,
		Subcategory: t.Subcategory,
	}
	if t.Installment != nil {
		cur, total := flexInt(t.Installment.Current), flexInt(t.Installment.Total)
		w.Installment = true
		w.Current = &cur
		w.Total = &total
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A transaction without a
// recognizable date is rejected.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w transactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	date, err := ParseDate(w.Date)
	if err != nil {
		return fmt.Errorf("transaction %q: %w", w.Description, err)
	}

	amount, err := parseRawAmount(w.Amount)
	if err != nil {
		return fmt.Errorf("transaction %q: %w", w.Description, err)
	}

	*t = Transaction{
		UUID:        w.UUID,
		Date:        date,
		Description: strings.TrimSpace(w.Description),
		Amount:      amount,
		Kind:        TransactionKind(strings.ToLower(strings.TrimSpace(string(w.Kind)))),
		Category:    w.Category,
		Subcategory: w.Subcategory,
	}
	if w.Installment {
		inst := &Installment{}
		if w.Current != nil {
			inst.Current = int(*w.Current)
		}
		if w.Total != nil {
			inst.Total = int(*w.Total)
		}
		t.Installment = inst
	}
	return nil
}

// DedupKey is the composite identity used when merging unit results.
// Amounts are compared by value so 10.5 and 10.50 collapse.
func (t Transaction) DedupKey() string {
	return t.Date.String() + "\x1f" + t.Description + "\x1f" + t.Amount.String()
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
	"02.01.2006",
	time.RFC3339,
}

// ParseDate accepts the date layouts statements and models commonly produce.
// Day-first layouts win over month-first ones.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(ts), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}

var currencyNoise = regexp.MustCompile(`(?i)r\$|us\$|\$|€|£|\s`)

// ParseAmount parses a monetary amount written either as a plain decimal
// ("-1234.56") or in the Brazilian style ("R$ 1.234,56").
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := currencyNoise.ReplaceAllString(strings.TrimSpace(s), "")
	if clean == "" {
		return decimal.Zero, nil
	}

	negative := false
	switch {
	case strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")"):
		negative = true
		clean = clean[1 : len(clean)-1]
	case strings.HasSuffix(clean, "-"):
		negative = true
		clean = strings.TrimSuffix(clean, "-")
	}

	lastComma, lastDot := strings.LastIndex(clean, ","), strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastComma > lastDot:
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	case lastComma >= 0:
		clean = strings.ReplaceAll(clean, ",", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func parseRawAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		return ParseAmount(s)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %s", raw)
	}
	return d, nil
}

// flexInt accepts 3, "3" and "03".
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid installment number %s", data)
	}
	*f = flexInt(n)
	return nil
}
