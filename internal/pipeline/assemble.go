package pipeline

import (
	"cloud.google.com/go/civil"

	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/normalize"
)

// Assemble normalizes raw line items into canonical ones, in input order.
// Unparseable values become null; no row is ever rejected.
func Assemble(raws []invoice.RawLineItem, processed civil.Date) []invoice.LineItem {
	items := make([]invoice.LineItem, 0, len(raws))
	for _, raw := range raws {
		items = append(items, assembleOne(raw, processed))
	}
	return items
}

func assembleOne(raw invoice.RawLineItem, processed civil.Date) invoice.LineItem {
	item := invoice.LineItem{
		Issuer:              text(raw, invoice.FieldIssuerName),
		IssuerTaxID:         text(raw, invoice.FieldIssuerTaxID),
		ProductCode:         text(raw, invoice.FieldProductCode),
		TariffCode:          text(raw, invoice.FieldTariffCode),
		FiscalOperationCode: text(raw, invoice.FieldFiscalOperationCode),
		UnitOfMeasure:       text(raw, invoice.FieldUnitOfMeasure),
		ProcessingDate:      processed,
		SourceOrigin:        raw.Origin,
	}

	if v, ok := raw.Get(invoice.FieldAccessKey); ok {
		item.AccessKey = invoice.String(normalize.CleanAccessKey(v))
	}
	if v, ok := raw.Get(invoice.FieldProductDescription); ok {
		item.ProductDescription = invoice.String(normalize.CleanDescription(v))
	}
	if v, ok := raw.Get(invoice.FieldIssueDate); ok {
		item.IssueDate = normalize.ParseDate(v)
	}
	if v, ok := raw.Get(invoice.FieldQuantity); ok {
		item.Quantity = normalize.ParseDecimal(v)
	}
	if v, ok := raw.Get(invoice.FieldUnitPrice); ok {
		item.UnitPrice = normalize.ParseDecimal(v)
	}
	if v, ok := raw.Get(invoice.FieldTotalPrice); ok {
		item.TotalPrice = normalize.ParseDecimal(v)
	}
	return item
}

func text(raw invoice.RawLineItem, f invoice.Field) *string {
	v, ok := raw.Get(f)
	if !ok {
		return nil
	}
	return invoice.String(v)
}
