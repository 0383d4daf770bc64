package bulk

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// ExportSheet is the sheet name used for XLSX exports
const ExportSheet = "line_items"

// WriteCSV writes the canonical header followed by one row per item
func WriteCSV(w io.Writer, items []invoice.LineItem) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := cw.Write(invoice.Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, item := range items {
		if err := cw.Write(item.Record()); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the same table as WriteCSV into a single-sheet workbook
func WriteXLSX(w io.Writer, items []invoice.LineItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	if err := writeRow(f, 1, invoice.Columns); err != nil {
		return err
	}
	for i, item := range items {
		if err := writeRow(f, i+2, item.Record()); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing spreadsheet: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("addressing row %d: %w", row, err)
	}
	if err := f.SetSheetRow(ExportSheet, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}
