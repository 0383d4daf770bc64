// Package bulk loads line items and attribute mappings from spreadsheets
// and exports the canonical table.
package bulk

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Delimiter separates CSV fields on import and export
const Delimiter = ';'

// ErrMissingColumn is returned when a required column is not in the header row
var ErrMissingColumn = errors.New("missing column")

var utf8BOM = []byte("\xef\xbb\xbf")

// ReadTable reads a header row plus data rows. Files named *.xlsx are read
// from their first sheet; everything else is parsed as ;-delimited CSV.
func ReadTable(r io.Reader, filename string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return readSheet(r)
	}
	return readCSV(r)
}

func readCSV(r io.Reader) ([][]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	content = bytes.TrimPrefix(content, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(content))
	cr.Comma = Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return rows, nil
}

func readSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("reading spreadsheet rows: %w", err)
	}
	return rows, nil
}

// header indexes a header row by cleaned column name
type header map[string]int

func newHeader(row []string, clean func(string) string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := clean(name)
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func (h header) require(names ...string) error {
	for _, name := range names {
		if _, ok := h[name]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return nil
}

// cell returns the trimmed value of column name in row, and whether it is non-blank
func (h header) cell(row []string, name string) (string, bool) {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[i])
	return v, v != ""
}
