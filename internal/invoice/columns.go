package invoice

import "cloud.google.com/go/civil"

// Columns is the canonical field order for persistence and export
var Columns = []string{
	"access_key",
	"issuer",
	"issuer_tax_id",
	"issue_date",
	"product_code",
	"product_description",
	"tariff_code",
	"fiscal_operation_code",
	"unit_of_measure",
	"quantity",
	"unit_price",
	"total_price",
	"processing_date",
	"source_origin",
}

// Record renders the item as text cells in Columns order; nulls become ""
func (l LineItem) Record() []string {
	return []string{
		Deref(l.AccessKey),
		Deref(l.Issuer),
		Deref(l.IssuerTaxID),
		formatDate(l.IssueDate),
		Deref(l.ProductCode),
		Deref(l.ProductDescription),
		Deref(l.TariffCode),
		Deref(l.FiscalOperationCode),
		Deref(l.UnitOfMeasure),
		formatDecimal(l.Quantity.Valid, l.Quantity.Decimal.String()),
		formatDecimal(l.UnitPrice.Valid, l.UnitPrice.Decimal.String()),
		formatDecimal(l.TotalPrice.Valid, l.TotalPrice.Decimal.String()),
		l.ProcessingDate.String(),
		string(l.SourceOrigin),
	}
}

func formatDate(d *civil.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatDecimal(valid bool, s string) string {
	if !valid {
		return ""
	}
	return s
}
