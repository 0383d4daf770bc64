package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/costing"
	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/store"
)

// ProductSummary is one row of the product list
type ProductSummary struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

func (s *Service) pricer(ctx context.Context) (*costing.Pricer, error) {
	items, err := s.store.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing attribute mappings: %w", err)
	}
	return costing.NewPricer(items, costing.View(items, mappings)), nil
}

// checkMaterial rejects materials that point at no line item
func (s *Service) checkMaterial(ctx context.Context, m invoice.ProductMaterial) error {
	if m.LineItemID <= 0 {
		return invalid("line_item_id is required")
	}
	if _, err := s.store.GetLineItem(ctx, m.LineItemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("line item %d does not exist", m.LineItemID)
		}
		return fmt.Errorf("checking line item: %w", err)
	}
	return nil
}

// CreateProduct stores a named product with its materials
func (s *Service) CreateProduct(ctx context.Context, name string, materials []invoice.ProductMaterial) (*invoice.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("product name is required")
	}
	for _, m := range materials {
		if err := s.checkMaterial(ctx, m); err != nil {
			return nil, err
		}
	}

	p, err := s.store.CreateProduct(ctx, invoice.Product{
		Name:      name,
		CreatedOn: s.today(),
		Materials: materials,
	})
	if err != nil {
		return nil, fmt.Errorf("creating product: %w", err)
	}
	return p, nil
}

// ListProducts returns every product with its totals at current costs
func (s *Service) ListProducts(ctx context.Context) ([]ProductSummary, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	pricer, err := s.pricer(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		cost := pricer.Price(p)
		out = append(out, ProductSummary{
			ID:            cost.ID,
			Name:          cost.Name,
			TotalQuantity: cost.TotalQuantity,
			TotalCost:     cost.TotalCost,
		})
	}
	return out, nil
}

// GetProduct returns a product with every material priced
func (s *Service) GetProduct(ctx context.Context, id int64) (*costing.ProductCost, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	pricer, err := s.pricer(ctx)
	if err != nil {
		return nil, err
	}
	cost := pricer.Price(*p)
	return &cost, nil
}

// RenameProduct changes a product's name
func (s *Service) RenameProduct(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("product name is required")
	}
	if err := s.store.RenameProduct(ctx, id, name); err != nil {
		return fmt.Errorf("renaming product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product and its materials
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	return nil
}

// AddMaterial attaches a material to a product
func (s *Service) AddMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) (*invoice.ProductMaterial, error) {
	if err := s.checkMaterial(ctx, m); err != nil {
		return nil, err
	}
	added, err := s.store.AddMaterial(ctx, productID, m)
	if err != nil {
		return nil, fmt.Errorf("adding material: %w", err)
	}
	return added, nil
}

// UpdateMaterial replaces one material of a product
func (s *Service) UpdateMaterial(ctx context.Context, productID, materialID int64, m invoice.ProductMaterial) error {
	if err := s.checkMaterial(ctx, m); err != nil {
		return err
	}
	m.ID = materialID
	if err := s.store.UpdateMaterial(ctx, productID, m); err != nil {
		return fmt.Errorf("updating material: %w", err)
	}
	return nil
}

// RemoveMaterial detaches one material from a product
func (s *Service) RemoveMaterial(ctx context.Context, productID, materialID int64) error {
	if err := s.store.RemoveMaterial(ctx, productID, materialID); err != nil {
		return fmt.Errorf("removing material: %w", err)
	}
	return nil
}

// RemoveAllMaterials detaches every material of a product. A product with
// no materials is reported as not found.
func (s *Service) RemoveAllMaterials(ctx context.Context, productID int64) (int, error) {
	n, err := s.store.RemoveAllMaterials(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("removing materials: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("materials of product %d: %w", productID, store.ErrNotFound)
	}
	return n, nil
}
