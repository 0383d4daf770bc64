package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	_ "modernc.org/sqlite"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// Decimals are TEXT so that NUMERIC affinity never rounds them through float64
const schema = `
CREATE TABLE IF NOT EXISTS line_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	access_key TEXT,
	issuer TEXT,
	issuer_tax_id TEXT,
	issue_date TEXT,
	product_code TEXT,
	product_description TEXT,
	tariff_code TEXT,
	fiscal_operation_code TEXT,
	unit_of_measure TEXT,
	quantity TEXT,
	unit_price TEXT,
	total_price TEXT,
	processing_date TEXT NOT NULL,
	source_origin TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS line_items_description ON line_items (product_description, issue_date);

CREATE TABLE IF NOT EXISTS attribute_mappings (
	product_description TEXT PRIMARY KEY,
	gross_weight TEXT,
	standard_unit TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	created_on TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_materials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products (id) ON DELETE CASCADE,
	line_item_id INTEGER NOT NULL,
	quantity_used TEXT,
	unit TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	archive_path TEXT NOT NULL,
	content_type TEXT NOT NULL,
	route TEXT NOT NULL,
	layout TEXT NOT NULL,
	rows INTEGER NOT NULL,
	uploaded_at TEXT NOT NULL
);
`

const lineItemColumns = `id, access_key, issuer, issuer_tax_id, issue_date, product_code,
	product_description, tariff_code, fiscal_operation_code, unit_of_measure,
	quantity, unit_price, total_price, processing_date, source_origin`

// SQLiteStore implements Store on SQLite through database/sql
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps pragmas and transactions on the same handle
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func dateValue(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDate(s sql.NullString) *civil.Date {
	if !s.Valid {
		return nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLineItem(row scanner) (*invoice.LineItem, error) {
	var (
		item      invoice.LineItem
		issueDate sql.NullString
		processed sql.NullString
		origin    string
	)
	err := row.Scan(
		&item.ID, &item.AccessKey, &item.Issuer, &item.IssuerTaxID, &issueDate, &item.ProductCode,
		&item.ProductDescription, &item.TariffCode, &item.FiscalOperationCode, &item.UnitOfMeasure,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice, &processed, &origin,
	)
	if err != nil {
		return nil, err
	}
	item.IssueDate = parseDate(issueDate)
	if d := parseDate(processed); d != nil {
		item.ProcessingDate = *d
	}
	item.SourceOrigin = invoice.Origin(origin)
	return &item, nil
}

// AppendLineItems inserts items in one transaction
func (s *SQLiteStore) AppendLineItems(ctx context.Context, items []invoice.LineItem) ([]invoice.LineItem, error) {
	saved := make([]invoice.LineItem, len(items))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO line_items (
			access_key, issuer, issuer_tax_id, issue_date, product_code, product_description,
			tariff_code, fiscal_operation_code, unit_of_measure, quantity, unit_price,
			total_price, processing_date, source_origin
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for i, item := range items {
			res, err := stmt.ExecContext(ctx,
				item.AccessKey, item.Issuer, item.IssuerTaxID, dateValue(item.IssueDate), item.ProductCode,
				item.ProductDescription, item.TariffCode, item.FiscalOperationCode, item.UnitOfMeasure,
				item.Quantity, item.UnitPrice, item.TotalPrice, item.ProcessingDate.String(), string(item.SourceOrigin),
			)
			if err != nil {
				return fmt.Errorf("inserting line item: %w", err)
			}
			if item.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("reading line item id: %w", err)
			}
			saved[i] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// GetLineItem retrieves a line item by id
func (s *SQLiteStore) GetLineItem(ctx context.Context, id int64) (*invoice.LineItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lineItemColumns+` FROM line_items WHERE id = ?`, id)
	item, err := scanLineItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("line item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	return item, nil
}

// ListLineItems returns every line item in id order
func (s *SQLiteStore) ListLineItems(ctx context.Context) ([]invoice.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lineItemColumns+` FROM line_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	defer rows.Close()

	items := make([]invoice.LineItem, 0)
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateLineItem applies a patch to a stored line item
func (s *SQLiteStore) UpdateLineItem(ctx context.Context, id int64, patch invoice.LineItemPatch) (*invoice.LineItem, error) {
	var item *invoice.LineItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		item, err = scanLineItem(tx.QueryRowContext(ctx, `SELECT `+lineItemColumns+` FROM line_items WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("line item", id)
		}
		if err != nil {
			return fmt.Errorf("getting line item: %w", err)
		}

		patch.Apply(item)
		_, err = tx.ExecContext(ctx,
			`UPDATE line_items SET product_description = ?, unit_of_measure = ?, unit_price = ?, processing_date = ? WHERE id = ?`,
			item.ProductDescription, item.UnitOfMeasure, item.UnitPrice, item.ProcessingDate.String(), id,
		)
		if err != nil {
			return fmt.Errorf("updating line item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func affected(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// DeleteLineItem removes one line item
func (s *SQLiteStore) DeleteLineItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting line item: %w", err)
	}
	return affected(res, "line item", id)
}

// DeleteAllLineItems removes every line item
func (s *SQLiteStore) DeleteAllLineItems(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM line_items`)
	if err != nil {
		return 0, fmt.Errorf("deleting line items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpsertMapping inserts or replaces the mapping for a description
func (s *SQLiteStore) UpsertMapping(ctx context.Context, m invoice.AttributeMapping) (bool, error) {
	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attribute_mappings WHERE product_description = ?`, m.ProductDescription).Scan(&n); err != nil {
			return fmt.Errorf("checking attribute mapping: %w", err)
		}
		created = n == 0
		_, err := tx.ExecContext(ctx, `INSERT INTO attribute_mappings (product_description, gross_weight, standard_unit)
			VALUES (?, ?, ?)
			ON CONFLICT (product_description) DO UPDATE SET gross_weight = excluded.gross_weight, standard_unit = excluded.standard_unit`,
			m.ProductDescription, m.GrossWeight, string(m.StandardUnit),
		)
		if err != nil {
			return fmt.Errorf("upserting attribute mapping: %w", err)
		}
		return nil
	})
	return created, err
}

func scanMapping(row scanner) (*invoice.AttributeMapping, error) {
	var (
		m    invoice.AttributeMapping
		unit string
	)
	if err := row.Scan(&m.ProductDescription, &m.GrossWeight, &unit); err != nil {
		return nil, err
	}
	m.StandardUnit = invoice.StandardUnit(unit)
	return &m, nil
}

// GetMapping retrieves the mapping for a description
func (s *SQLiteStore) GetMapping(ctx context.Context, description string) (*invoice.AttributeMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT product_description, gross_weight, standard_unit FROM attribute_mappings WHERE product_description = ?`, description)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("attribute mapping", description)
	}
	if err != nil {
		return nil, fmt.Errorf("getting attribute mapping: %w", err)
	}
	return m, nil
}

// ListMappings returns every mapping ordered by description
func (s *SQLiteStore) ListMappings(ctx context.Context) ([]invoice.AttributeMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_description, gross_weight, standard_unit FROM attribute_mappings ORDER BY product_description`)
	if err != nil {
		return nil, fmt.Errorf("listing attribute mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]invoice.AttributeMapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attribute mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// DeleteMapping removes the mapping for a description
func (s *SQLiteStore) DeleteMapping(ctx context.Context, description string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attribute_mappings WHERE product_description = ?`, description)
	if err != nil {
		return fmt.Errorf("deleting attribute mapping: %w", err)
	}
	return affected(res, "attribute mapping", description)
}

func insertMaterial(ctx context.Context, tx *sql.Tx, productID int64, m invoice.ProductMaterial) (invoice.ProductMaterial, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO product_materials (product_id, line_item_id, quantity_used, unit) VALUES (?, ?, ?, ?)`,
		productID, m.LineItemID, m.QuantityUsed, m.Unit,
	)
	if err != nil {
		return m, fmt.Errorf("inserting product material: %w", err)
	}
	m.ProductID = productID
	if m.ID, err = res.LastInsertId(); err != nil {
		return m, fmt.Errorf("reading product material id: %w", err)
	}
	return m, nil
}

// CreateProduct stores a product with its materials
func (s *SQLiteStore) CreateProduct(ctx context.Context, p invoice.Product) (*invoice.Product, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO products (name, created_on) VALUES (?, ?)`, p.Name, p.CreatedOn.String())
		if err != nil {
			return fmt.Errorf("inserting product: %w", err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading product id: %w", err)
		}

		materials := make([]invoice.ProductMaterial, 0, len(p.Materials))
		for _, m := range p.Materials {
			saved, err := insertMaterial(ctx, tx, p.ID, m)
			if err != nil {
				return err
			}
			materials = append(materials, saved)
		}
		p.Materials = materials
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) materials(ctx context.Context) (map[int64][]invoice.ProductMaterial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, product_id, line_item_id, quantity_used, unit FROM product_materials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing product materials: %w", err)
	}
	defer rows.Close()

	byProduct := make(map[int64][]invoice.ProductMaterial)
	for rows.Next() {
		var m invoice.ProductMaterial
		if err := rows.Scan(&m.ID, &m.ProductID, &m.LineItemID, &m.QuantityUsed, &m.Unit); err != nil {
			return nil, fmt.Errorf("scanning product material: %w", err)
		}
		byProduct[m.ProductID] = append(byProduct[m.ProductID], m)
	}
	return byProduct, rows.Err()
}

func scanProduct(row scanner) (*invoice.Product, error) {
	var (
		p       invoice.Product
		created sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &created); err != nil {
		return nil, err
	}
	if d := parseDate(created); d != nil {
		p.CreatedOn = *d
	}
	return &p, nil
}

// GetProduct retrieves a product with its materials
func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*invoice.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT id, name, created_on FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}

	materials, err := s.materials(ctx)
	if err != nil {
		return nil, err
	}
	p.Materials = materials[id]
	if p.Materials == nil {
		p.Materials = make([]invoice.ProductMaterial, 0)
	}
	return p, nil
}

// ListProducts returns every product with its materials in id order
func (s *SQLiteStore) ListProducts(ctx context.Context) ([]invoice.Product, error) {
	materials, err := s.materials(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_on FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	products := make([]invoice.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		p.Materials = materials[p.ID]
		if p.Materials == nil {
			p.Materials = make([]invoice.ProductMaterial, 0)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// RenameProduct changes a product's name
func (s *SQLiteStore) RenameProduct(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("renaming product: %w", err)
	}
	return affected(res, "product", id)
}

// DeleteProduct removes a product; its materials cascade
func (s *SQLiteStore) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	return affected(res, "product", id)
}

// AddMaterial attaches a material to a product
func (s *SQLiteStore) AddMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) (*invoice.ProductMaterial, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, productID).Scan(&n); err != nil {
			return fmt.Errorf("checking product: %w", err)
		}
		if n == 0 {
			return notFound("product", productID)
		}
		var err error
		m, err = insertMaterial(ctx, tx, productID, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMaterial replaces a material of a product
func (s *SQLiteStore) UpdateMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_materials SET line_item_id = ?, quantity_used = ?, unit = ? WHERE product_id = ? AND id = ?`,
		m.LineItemID, m.QuantityUsed, m.Unit, productID, m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating product material: %w", err)
	}
	return affected(res, "product material", m.ID)
}

// RemoveMaterial detaches one material from a product
func (s *SQLiteStore) RemoveMaterial(ctx context.Context, productID, materialID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_materials WHERE product_id = ? AND id = ?`, productID, materialID)
	if err != nil {
		return fmt.Errorf("removing product material: %w", err)
	}
	return affected(res, "product material", materialID)
}

// RemoveAllMaterials detaches every material of a product
func (s *SQLiteStore) RemoveAllMaterials(ctx context.Context, productID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_materials WHERE product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("removing product materials: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SaveDocument registers an uploaded document
func (s *SQLiteStore) SaveDocument(ctx context.Context, d invoice.Document) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO documents
		(id, filename, archive_path, content_type, route, layout, rows, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, d.ArchivePath, d.ContentType, d.Route, d.Layout, d.Rows, d.UploadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func scanDocument(row scanner) (*invoice.Document, error) {
	var (
		d        invoice.Document
		uploaded string
	)
	if err := row.Scan(&d.ID, &d.Filename, &d.ArchivePath, &d.ContentType, &d.Route, &d.Layout, &d.Rows, &uploaded); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, uploaded)
	if err != nil {
		return nil, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	d.UploadedAt = t
	return &d, nil
}

const documentColumns = `id, filename, archive_path, content_type, route, layout, rows, uploaded_at`

// GetDocument retrieves a registered document
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*invoice.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return d, nil
}

// ListDocuments returns registered documents, newest first
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]invoice.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := make([]invoice.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
