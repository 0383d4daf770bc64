package bulk

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/pipeline"
)

// itemColumns maps the headers of the initial load spreadsheet onto raw fields
var itemColumns = map[string]invoice.Field{
	"Chave de Acesso":   invoice.FieldAccessKey,
	"Emissor":           invoice.FieldIssuerName,
	"CNPJ Emissor":      invoice.FieldIssuerTaxID,
	"data_emissao_nota": invoice.FieldIssueDate,
	"Codigo Produto":    invoice.FieldProductCode,
	"Descricao Produto": invoice.FieldProductDescription,
	"NCM":               invoice.FieldTariffCode,
	"CFOP":              invoice.FieldFiscalOperationCode,
	"Unidade":           invoice.FieldUnitOfMeasure,
	"Quantidade":        invoice.FieldQuantity,
	"Valor Unitario":    invoice.FieldUnitPrice,
	"Valor Total":       invoice.FieldTotalPrice,
}

// LoadResult is the outcome of an initial load
type LoadResult struct {
	Items   []invoice.LineItem
	Dropped int
}

// LoadLineItems reads an initial load spreadsheet into canonical line items
// tagged InitialLoad. Rows without a description, unit price, quantity or
// issue date after normalization are dropped.
func LoadLineItems(r io.Reader, filename string, processed civil.Date) (*LoadResult, error) {
	rows, err := ReadTable(r, filename)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &LoadResult{Items: make([]invoice.LineItem, 0)}, nil
	}

	h := newHeader(rows[0], strings.TrimSpace)
	if err := h.require("Descricao Produto", "Quantidade", "Valor Unitario", "data_emissao_nota"); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	raws := make([]invoice.RawLineItem, 0, len(rows)-1)
	for _, row := range rows[1:] {
		raw := invoice.NewRawLineItem(invoice.OriginInitialLoad)
		for name, field := range itemColumns {
			if v, ok := h.cell(row, name); ok {
				raw.Values[field] = v
			}
		}
		raws = append(raws, raw)
	}

	result := &LoadResult{Items: make([]invoice.LineItem, 0, len(raws))}
	for _, item := range pipeline.Assemble(raws, processed) {
		if item.Description() == "" || !item.UnitPrice.Valid || !item.Quantity.Valid || item.IssueDate == nil {
			result.Dropped++
			continue
		}
		result.Items = append(result.Items, item)
	}

	slog.Info("Initial load read", "filename", filename, "rows", len(result.Items), "dropped", result.Dropped)
	return result, nil
}
