// Package store persists canonical line items and their reference data.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// Store defines the persistence operations the ledger needs
type Store interface {
	// AppendLineItems inserts items in one transaction and returns them with ids
	AppendLineItems(ctx context.Context, items []invoice.LineItem) ([]invoice.LineItem, error)

	// GetLineItem retrieves a line item by id
	GetLineItem(ctx context.Context, id int64) (*invoice.LineItem, error)

	// ListLineItems returns every line item in id order
	ListLineItems(ctx context.Context) ([]invoice.LineItem, error)

	// UpdateLineItem applies a patch and returns the updated item
	UpdateLineItem(ctx context.Context, id int64, patch invoice.LineItemPatch) (*invoice.LineItem, error)

	// DeleteLineItem removes one line item
	DeleteLineItem(ctx context.Context, id int64) error

	// DeleteAllLineItems removes every line item and returns how many there were
	DeleteAllLineItems(ctx context.Context) (int, error)

	// UpsertMapping inserts or replaces the mapping for a description.
	// It reports whether the mapping is new.
	UpsertMapping(ctx context.Context, m invoice.AttributeMapping) (bool, error)

	// GetMapping retrieves the mapping for a description
	GetMapping(ctx context.Context, description string) (*invoice.AttributeMapping, error)

	// ListMappings returns every mapping ordered by description
	ListMappings(ctx context.Context) ([]invoice.AttributeMapping, error)

	// DeleteMapping removes the mapping for a description
	DeleteMapping(ctx context.Context, description string) error

	// CreateProduct stores a product with its materials and assigns ids
	CreateProduct(ctx context.Context, p invoice.Product) (*invoice.Product, error)

	// GetProduct retrieves a product with its materials
	GetProduct(ctx context.Context, id int64) (*invoice.Product, error)

	// ListProducts returns every product with its materials in id order
	ListProducts(ctx context.Context) ([]invoice.Product, error)

	// RenameProduct changes a product's name
	RenameProduct(ctx context.Context, id int64, name string) error

	// DeleteProduct removes a product and its materials
	DeleteProduct(ctx context.Context, id int64) error

	// AddMaterial attaches a material to a product
	AddMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) (*invoice.ProductMaterial, error)

	// UpdateMaterial replaces a material of a product, matched by m.ID
	UpdateMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) error

	// RemoveMaterial detaches one material from a product
	RemoveMaterial(ctx context.Context, productID, materialID int64) error

	// RemoveAllMaterials detaches every material of a product and returns how many there were
	RemoveAllMaterials(ctx context.Context, productID int64) (int, error)

	// SaveDocument registers an uploaded document
	SaveDocument(ctx context.Context, d invoice.Document) error

	// GetDocument retrieves a registered document
	GetDocument(ctx context.Context, id string) (*invoice.Document, error)

	// ListDocuments returns registered documents, newest first
	ListDocuments(ctx context.Context) ([]invoice.Document, error)

	// Close closes the underlying database
	Close() error
}

// Open opens the named backend at path: "bolt" or "sqlite"
func Open(backend, path string) (Store, error) {
	switch backend {
	case "bolt", "":
		return NewBoltStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q (valid: bolt, sqlite)", backend)
	}
}
