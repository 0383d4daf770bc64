// Package costing derives comparable material costs from persisted line items.
// Nothing here is stored: every view is recomputed from its inputs.
package costing

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// CostPerStandardUnit applies the unit-cost rule. Unit, meter and kilogram
// prices are already per standard unit; liter prices are divided by a
// positive gross weight; anything else has no cost.
func CostPerStandardUnit(unit invoice.StandardUnit, price, weight decimal.NullDecimal) decimal.NullDecimal {
	if !price.Valid {
		return decimal.NullDecimal{}
	}
	switch unit {
	case invoice.UnitEach, invoice.UnitMeter, invoice.UnitKilogram:
		return price
	case invoice.UnitLiter:
		if weight.Valid && weight.Decimal.IsPositive() {
			return decimal.NewNullDecimal(price.Decimal.Div(weight.Decimal))
		}
	}
	return decimal.NullDecimal{}
}

// newer orders line items by issue date descending, null dates last, then id descending
func newer(a, b invoice.LineItem) bool {
	switch {
	case a.IssueDate == nil && b.IssueDate == nil:
	case a.IssueDate == nil:
		return false
	case b.IssueDate == nil:
		return true
	case *a.IssueDate != *b.IssueDate:
		return a.IssueDate.After(*b.IssueDate)
	}
	return a.ID > b.ID
}

// LatestByDescription keeps the most recently issued line item per product
// description, sorted by description
func LatestByDescription(items []invoice.LineItem) []invoice.LineItem {
	latest := make(map[string]invoice.LineItem)
	for _, item := range items {
		key := item.Description()
		if cur, ok := latest[key]; !ok || newer(item, cur) {
			latest[key] = item
		}
	}

	out := make([]invoice.LineItem, 0, len(latest))
	for _, item := range latest {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Description() < out[j].Description() })
	return out
}

// MaterialCost is one row of the derived cost view
type MaterialCost struct {
	ID                  int64                 `json:"id"`
	IssueDate           *civil.Date           `json:"issue_date"`
	ProductCode         *string               `json:"product_code"`
	ProductDescription  string                `json:"product_description"`
	UnitOfMeasure       *string               `json:"unit_of_measure"`
	UnitPrice           decimal.NullDecimal   `json:"unit_price"`
	GrossWeight         decimal.NullDecimal   `json:"gross_weight"`
	StandardUnit        *invoice.StandardUnit `json:"standard_unit"`
	CostPerStandardUnit decimal.NullDecimal   `json:"cost_per_standard_unit"`
}

// View joins the latest line item of each description with its attribute mapping
func View(items []invoice.LineItem, mappings []invoice.AttributeMapping) []MaterialCost {
	byDescription := make(map[string]invoice.AttributeMapping, len(mappings))
	for _, m := range mappings {
		byDescription[m.ProductDescription] = m
	}

	latest := LatestByDescription(items)
	rows := make([]MaterialCost, 0, len(latest))
	for _, item := range latest {
		row := MaterialCost{
			ID:                 item.ID,
			IssueDate:          item.IssueDate,
			ProductCode:        item.ProductCode,
			ProductDescription: item.Description(),
			UnitOfMeasure:      item.UnitOfMeasure,
			UnitPrice:          item.UnitPrice,
		}
		if m, ok := byDescription[row.ProductDescription]; ok {
			unit := m.StandardUnit
			row.GrossWeight = m.GrossWeight
			row.StandardUnit = &unit
			row.CostPerStandardUnit = CostPerStandardUnit(unit, item.UnitPrice, m.GrossWeight)
		}
		rows = append(rows, row)
	}
	return rows
}
