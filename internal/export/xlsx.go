// Package export writes categorized statements to spreadsheet files.
package export

import (
	"fmt"
	"io"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	TransactionsSheet = "Transações"
	SummarySheet      = "Resumo"
)

var transactionHeader = []any{
	"Data", "Descrição", "Valor", "Tipo", "Categoria", "Subcategoria", "Parcela", "UUID",
}

// WriteXLSX renders result as a workbook with one row per transaction and a
// summary sheet, and writes it to w.
func WriteXLSX(w io.Writer, result domain.DocumentResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TransactionsSheet); err != nil {
		return fmt.Errorf("WriteXLSX: renaming sheet: %w", err)
	}
	if err := writeTransactions(f, result.Transactions); err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("WriteXLSX: creating summary sheet: %w", err)
	}
	if err := writeSummary(f, result); err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteXLSX: writing workbook: %w", err)
	}
	return nil
}

func writeTransactions(f *excelize.File, txs []domain.Transaction) error {
	if err := f.SetSheetRow(TransactionsSheet, "A1", &transactionHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, tx := range txs {
		installment := ""
		if tx.Installment != nil {
			installment = fmt.Sprintf("%d/%d", tx.Installment.Current, tx.Installment.Total)
		}
		amount, _ := tx.Amount.Float64()
		row := []any{
			tx.Date.String(),
			tx.Description,
			amount,
			string(tx.Kind),
			tx.Category,
			tx.Subcategory,
			installment,
			tx.UUID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(TransactionsSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, result domain.DocumentResult) error {
	rows := [][]any{
		{"Banco", result.BankName},
		{"Tipo de documento", result.DocumentType},
		{"Transações", result.TransactionsCount},
		{"Mês inicial", result.StartMonth},
		{"Mês final", result.EndMonth},
	}
	if result.ErrorMessage != "" {
		rows = append(rows, []any{"Observações", result.ErrorMessage})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("writing summary row %d: %w", i+1, err)
		}
	}
	return nil
}
