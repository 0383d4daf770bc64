package ledger

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/bulk"
	"github.com/zombor/cost-tracker/internal/costing"
	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/normalize"
)

// MaterialCosts computes the cost view from the current line items and mappings
func (s *Service) MaterialCosts(ctx context.Context) ([]costing.MaterialCost, error) {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing attribute mappings: %w", err)
	}
	return costing.View(items, mappings), nil
}

// ListLineItems returns every stored line item
func (s *Service) ListLineItems(ctx context.Context) ([]invoice.LineItem, error) {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return items, nil
}

// UpdateLineItem edits a line item and stamps today's processing date
func (s *Service) UpdateLineItem(ctx context.Context, id int64, patch invoice.LineItemPatch) (*invoice.LineItem, error) {
	if patch.ProductDescription != nil {
		cleaned := normalize.CleanDescription(*patch.ProductDescription)
		if cleaned == "" {
			return nil, invalid("product description cannot be blank")
		}
		patch.ProductDescription = &cleaned
	}
	patch.ProcessingDate = s.today()

	item, err := s.store.UpdateLineItem(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating line item: %w", err)
	}
	return item, nil
}

// DeleteLineItem removes one line item
func (s *Service) DeleteLineItem(ctx context.Context, id int64) error {
	if err := s.store.DeleteLineItem(ctx, id); err != nil {
		return fmt.Errorf("deleting line item: %w", err)
	}
	return nil
}

// DeleteAllLineItems removes every line item
func (s *Service) DeleteAllLineItems(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAllLineItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting line items: %w", err)
	}
	return n, nil
}

// ManualEntry is a line item typed in by hand
type ManualEntry struct {
	Issuer             string              `json:"issuer"`
	IssuerTaxID        string              `json:"issuer_tax_id"`
	ProductCode        string              `json:"product_code"`
	ProductDescription string              `json:"product_description"`
	UnitOfMeasure      string              `json:"unit_of_measure"`
	Quantity           decimal.NullDecimal `json:"quantity"`
	UnitPrice          decimal.NullDecimal `json:"unit_price"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// AddManualEntries stores hand-entered line items issued and processed today.
// Entries without a description are skipped; it returns how many were stored.
func (s *Service) AddManualEntries(ctx context.Context, entries []ManualEntry) (int, error) {
	if len(entries) == 0 {
		return 0, invalid("no entries received")
	}
	today := s.today()

	items := make([]invoice.LineItem, 0, len(entries))
	for _, e := range entries {
		description := normalize.CleanDescription(e.ProductDescription)
		if description == "" {
			continue
		}
		issued := today
		item := invoice.LineItem{
			Issuer:             optional(e.Issuer),
			IssuerTaxID:        optional(e.IssuerTaxID),
			ProductCode:        optional(e.ProductCode),
			ProductDescription: &description,
			UnitOfMeasure:      optional(e.UnitOfMeasure),
			IssueDate:          &issued,
			Quantity:           e.Quantity,
			UnitPrice:          e.UnitPrice,
			ProcessingDate:     today,
			SourceOrigin:       invoice.OriginManual,
		}
		if e.Quantity.Valid && e.UnitPrice.Valid {
			item.TotalPrice = decimal.NewNullDecimal(e.Quantity.Decimal.Mul(e.UnitPrice.Decimal))
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return 0, nil
	}

	saved, err := s.store.AppendLineItems(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("saving manual entries: %w", err)
	}
	return len(saved), nil
}

// UpsertMapping validates and stores an attribute mapping. It reports whether
// the mapping was created rather than replaced.
func (s *Service) UpsertMapping(ctx context.Context, m invoice.AttributeMapping) (bool, error) {
	m.ProductDescription = strings.TrimSpace(m.ProductDescription)
	if m.ProductDescription == "" {
		return false, invalid("product description is required")
	}
	m.StandardUnit, _ = invoice.ParseStandardUnit(string(m.StandardUnit))

	created, err := s.store.UpsertMapping(ctx, m)
	if err != nil {
		return false, fmt.Errorf("saving attribute mapping: %w", err)
	}
	return created, nil
}

// ListMappings returns every attribute mapping
func (s *Service) ListMappings(ctx context.Context) ([]invoice.AttributeMapping, error) {
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing attribute mappings: %w", err)
	}
	return mappings, nil
}

// DeleteMapping removes the mapping for a description
func (s *Service) DeleteMapping(ctx context.Context, description string) error {
	if err := s.store.DeleteMapping(ctx, description); err != nil {
		return fmt.Errorf("deleting attribute mapping: %w", err)
	}
	return nil
}

// IssuerSuggestion is a known issuer and its tax id
type IssuerSuggestion struct {
	Issuer      string `json:"issuer"`
	IssuerTaxID string `json:"issuer_tax_id"`
}

// ProductCodeSuggestion is a known product code
type ProductCodeSuggestion struct {
	ProductCode string `json:"product_code"`
}

// IssuerSuggestions lists the distinct issuers that have both a name and a tax id
func (s *Service) IssuerSuggestions(ctx context.Context) ([]IssuerSuggestion, error) {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}

	seen := make(map[IssuerSuggestion]bool)
	out := make([]IssuerSuggestion, 0)
	for _, item := range items {
		sg := IssuerSuggestion{Issuer: invoice.Deref(item.Issuer), IssuerTaxID: invoice.Deref(item.IssuerTaxID)}
		if sg.Issuer == "" || sg.IssuerTaxID == "" || seen[sg] {
			continue
		}
		seen[sg] = true
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Issuer != out[j].Issuer {
			return out[i].Issuer < out[j].Issuer
		}
		return out[i].IssuerTaxID < out[j].IssuerTaxID
	})
	return out, nil
}

// ProductCodeSuggestions lists the distinct non-empty product codes
func (s *Service) ProductCodeSuggestions(ctx context.Context) ([]ProductCodeSuggestion, error) {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}

	seen := make(map[string]bool)
	out := make([]ProductCodeSuggestion, 0)
	for _, item := range items {
		code := invoice.Deref(item.ProductCode)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, ProductCodeSuggestion{ProductCode: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductCode < out[j].ProductCode })
	return out, nil
}

// ExportFormat selects the export encoding
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// Export writes every line item in canonical column order
func (s *Service) Export(ctx context.Context, w io.Writer, format ExportFormat) error {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return fmt.Errorf("listing line items: %w", err)
	}
	switch format {
	case FormatCSV:
		return bulk.WriteCSV(w, items)
	case FormatXLSX:
		return bulk.WriteXLSX(w, items)
	default:
		return invalid("unknown export format %q", format)
	}
}

// ImportResult summarizes a bulk import
type ImportResult struct {
	Message string `json:"message"`
	Rows    int    `json:"rows"`
	Dropped int    `json:"dropped"`
}

// ImportLineItems appends an initial load spreadsheet
func (s *Service) ImportLineItems(ctx context.Context, r io.Reader, filename string) (*ImportResult, error) {
	loaded, err := bulk.LoadLineItems(r, filename, s.today())
	if err != nil {
		return nil, invalid("%v", err)
	}
	if len(loaded.Items) == 0 {
		return &ImportResult{Message: "no rows to import", Dropped: loaded.Dropped}, nil
	}
	saved, err := s.store.AppendLineItems(ctx, loaded.Items)
	if err != nil {
		return nil, fmt.Errorf("saving imported line items: %w", err)
	}
	return &ImportResult{
		Message: fmt.Sprintf("%d rows imported", len(saved)),
		Rows:    len(saved),
		Dropped: loaded.Dropped,
	}, nil
}

// ImportMappings upserts every mapping of an attribute spreadsheet
func (s *Service) ImportMappings(ctx context.Context, r io.Reader, filename string) (*ImportResult, error) {
	mappings, err := bulk.LoadMappings(r, filename)
	if err != nil {
		return nil, invalid("%v", err)
	}
	for _, m := range mappings {
		if _, err := s.store.UpsertMapping(ctx, m); err != nil {
			return nil, fmt.Errorf("saving attribute mapping %q: %w", m.ProductDescription, err)
		}
	}
	return &ImportResult{
		Message: fmt.Sprintf("%d attribute mappings processed", len(mappings)),
		Rows:    len(mappings),
	}, nil
}
