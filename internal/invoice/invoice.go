package invoice

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Origin records which ingestion path produced a line item
type Origin string

const (
	OriginXML         Origin = "XML"
	OriginPDF         Origin = "PDF"
	OriginManual      Origin = "Manual"
	OriginInitialLoad Origin = "InitialLoad"
)

// Field names a raw line item value as produced by an extractor
type Field string

const (
	FieldAccessKey           Field = "access_key"
	FieldIssuerName          Field = "issuer_name"
	FieldIssuerTaxID         Field = "issuer_tax_id"
	FieldIssueDate           Field = "issue_date"
	FieldProductCode         Field = "product_code"
	FieldProductDescription  Field = "product_description"
	FieldTariffCode          Field = "tariff_code"
	FieldFiscalOperationCode Field = "fiscal_operation_code"
	FieldUnitOfMeasure       Field = "unit_of_measure"
	FieldQuantity            Field = "quantity"
	FieldUnitPrice           Field = "unit_price"
	FieldTotalPrice          Field = "total_price"
)

// HeaderFields are the document-level values copied onto every line item
var HeaderFields = []Field{
	FieldAccessKey,
	FieldIssuerName,
	FieldIssuerTaxID,
	FieldIssueDate,
}

// ItemFields are the per-line values of a line item
var ItemFields = []Field{
	FieldProductCode,
	FieldProductDescription,
	FieldTariffCode,
	FieldFiscalOperationCode,
	FieldUnitOfMeasure,
	FieldQuantity,
	FieldUnitPrice,
	FieldTotalPrice,
}

// RawLineItem is one extracted product row before normalization.
// A field missing from Values is absent for the source template.
type RawLineItem struct {
	Values map[Field]string
	Origin Origin
}

// NewRawLineItem creates an empty raw line item tagged with origin
func NewRawLineItem(origin Origin) RawLineItem {
	return RawLineItem{Values: make(map[Field]string), Origin: origin}
}

// Get returns the value of f and whether the source supplied it
func (r RawLineItem) Get(f Field) (string, bool) {
	v, ok := r.Values[f]
	return v, ok
}

// LineItem is a canonical, normalized line item as persisted
type LineItem struct {
	ID                  int64               `json:"id"`
	AccessKey           *string             `json:"access_key"`
	Issuer              *string             `json:"issuer"`
	IssuerTaxID         *string             `json:"issuer_tax_id"`
	IssueDate           *civil.Date         `json:"issue_date"`
	ProductCode         *string             `json:"product_code"`
	ProductDescription  *string             `json:"product_description"`
	TariffCode          *string             `json:"tariff_code"`
	FiscalOperationCode *string             `json:"fiscal_operation_code"`
	UnitOfMeasure       *string             `json:"unit_of_measure"`
	Quantity            decimal.NullDecimal `json:"quantity"`
	UnitPrice           decimal.NullDecimal `json:"unit_price"`
	TotalPrice          decimal.NullDecimal `json:"total_price"`
	ProcessingDate      civil.Date          `json:"processing_date"`
	SourceOrigin        Origin              `json:"source_origin"`
}

// Description returns the product description or "" when null
func (l LineItem) Description() string {
	return Deref(l.ProductDescription)
}

// LineItemPatch holds the editable fields of a persisted line item.
// Nil fields are left untouched.
type LineItemPatch struct {
	ProductDescription *string             `json:"product_description,omitempty"`
	UnitOfMeasure      *string             `json:"unit_of_measure,omitempty"`
	UnitPrice          decimal.NullDecimal `json:"unit_price"`
	ProcessingDate     civil.Date          `json:"-"`
}

// Apply writes the patch onto item
func (p LineItemPatch) Apply(item *LineItem) {
	if p.ProductDescription != nil {
		item.ProductDescription = String(*p.ProductDescription)
	}
	if p.UnitOfMeasure != nil {
		item.UnitOfMeasure = String(*p.UnitOfMeasure)
	}
	if p.UnitPrice.Valid {
		item.UnitPrice = p.UnitPrice
	}
	item.ProcessingDate = p.ProcessingDate
}

// AttributeMapping is the reference data for one product description
type AttributeMapping struct {
	ProductDescription string              `json:"product_description"`
	GrossWeight        decimal.NullDecimal `json:"gross_weight"`
	StandardUnit       StandardUnit        `json:"standard_unit"`
}

// Product is a finished good composed of raw materials
type Product struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	CreatedOn civil.Date        `json:"created_on"`
	Materials []ProductMaterial `json:"materials"`
}

// ProductMaterial associates a product with a raw material line item
type ProductMaterial struct {
	ID           int64               `json:"id"`
	ProductID    int64               `json:"product_id"`
	LineItemID   int64               `json:"line_item_id"`
	QuantityUsed decimal.NullDecimal `json:"quantity_used"`
	Unit         string              `json:"unit"`
}

// Document is a registry entry for one uploaded file
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ArchivePath string    `json:"archive_path"`
	ContentType string    `json:"content_type"`
	Route       string    `json:"route"`
	Layout      string    `json:"layout,omitempty"`
	Rows        int       `json:"rows"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// String returns a pointer to s
func String(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "" for nil
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
