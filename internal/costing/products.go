package costing

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// MaterialLine is a product material priced at its latest cost
type MaterialLine struct {
	invoice.ProductMaterial
	ProductDescription  string                `json:"product_description"`
	StandardUnit        *invoice.StandardUnit `json:"standard_unit"`
	CostPerStandardUnit decimal.NullDecimal   `json:"cost_per_standard_unit"`
	TotalCost           decimal.Decimal       `json:"total_cost"`
}

// ProductCost is a product with its materials priced
type ProductCost struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Materials     []MaterialLine  `json:"materials"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

// Pricer resolves material costs against one snapshot of the cost view
type Pricer struct {
	items map[int64]invoice.LineItem
	view  map[string]MaterialCost
}

// NewPricer indexes line items by id and view rows by description
func NewPricer(items []invoice.LineItem, view []MaterialCost) *Pricer {
	p := &Pricer{
		items: make(map[int64]invoice.LineItem, len(items)),
		view:  make(map[string]MaterialCost, len(view)),
	}
	for _, item := range items {
		p.items[item.ID] = item
	}
	for _, row := range view {
		p.view[row.ProductDescription] = row
	}
	return p
}

// Price rolls up a product. A material whose line item is gone, or whose
// description has no cost, contributes zero.
func (p *Pricer) Price(product invoice.Product) ProductCost {
	out := ProductCost{
		ID:        product.ID,
		Name:      product.Name,
		Materials: make([]MaterialLine, 0, len(product.Materials)),
	}

	for _, m := range product.Materials {
		line := MaterialLine{ProductMaterial: m}
		if item, ok := p.items[m.LineItemID]; ok {
			line.ProductDescription = item.Description()
			if row, ok := p.view[line.ProductDescription]; ok {
				line.StandardUnit = row.StandardUnit
				line.CostPerStandardUnit = row.CostPerStandardUnit
			}
		}

		quantity := m.QuantityUsed.Decimal
		if !m.QuantityUsed.Valid {
			quantity = decimal.Zero
		}
		cost := decimal.Zero
		if line.CostPerStandardUnit.Valid {
			cost = line.CostPerStandardUnit.Decimal
		}
		line.TotalCost = quantity.Mul(cost)

		out.TotalQuantity = out.TotalQuantity.Add(quantity)
		out.TotalCost = out.TotalCost.Add(line.TotalCost)
		out.Materials = append(out.Materials, line)
	}
	return out
}
