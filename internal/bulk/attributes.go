package bulk

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/normalize"
)

const (
	columnDescription  = "descricao_produto"
	columnGrossWeight  = "peso_bruto"
	columnStandardUnit = "unidade_medida_padrao"
)

var invalidColumnChars = regexp.MustCompile(`[^a-z0-9_]`)

// CleanColumnName lower-cases name, turns spaces into underscores and drops
// anything outside [a-z0-9_]. "unidade_medida" is read as the standard unit.
func CleanColumnName(name string) string {
	cleaned := strings.ReplaceAll(strings.ToLower(name), " ", "_")
	cleaned = invalidColumnChars.ReplaceAllString(cleaned, "")
	if cleaned == "unidade_medida" {
		return columnStandardUnit
	}
	return cleaned
}

// LoadMappings reads attribute mappings from a CSV or XLSX file.
// Rows with a blank description are skipped; an unparseable weight is null.
func LoadMappings(r io.Reader, filename string) ([]invoice.AttributeMapping, error) {
	rows, err := ReadTable(r, filename)
	if err != nil {
		return nil, err
	}
	mappings := make([]invoice.AttributeMapping, 0)
	if len(rows) == 0 {
		return mappings, nil
	}

	h := newHeader(rows[0], CleanColumnName)
	if err := h.require(columnDescription, columnGrossWeight, columnStandardUnit); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	for i, row := range rows[1:] {
		description, ok := h.cell(row, columnDescription)
		if !ok {
			slog.Debug("Skipping attribute row without description", "filename", filename, "row", i+2)
			continue
		}
		weight, _ := h.cell(row, columnGrossWeight)
		unitText, _ := h.cell(row, columnStandardUnit)
		unit, known := invoice.ParseStandardUnit(unitText)
		if !known {
			slog.Warn("Unknown standard unit", "filename", filename, "description", description, "unit", unitText)
		}

		mappings = append(mappings, invoice.AttributeMapping{
			ProductDescription: description,
			GrossWeight:        normalize.ParseDecimal(weight),
			StandardUnit:       unit,
		})
	}
	return mappings, nil
}
