package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/cost-tracker/internal/invoice"
)

var (
	lineItemsBucket = []byte("line_items")
	mappingsBucket  = []byte("attribute_mappings")
	productsBucket  = []byte("products")
	materialsBucket = []byte("product_materials")
	documentsBucket = []byte("documents")
)

// BoltStore implements Store using BoltDB. Values are JSON; integer keys are
// big-endian so cursor order is id order.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates a BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{lineItemsBucket, mappingsBucket, productsBucket, materialsBucket, documentsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (b *BoltStore) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(fn)
}

func (b *BoltStore) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(fn)
}

func put(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}
	return bucket.Put(key, data)
}

// AppendLineItems inserts items in one transaction
func (b *BoltStore) AppendLineItems(ctx context.Context, items []invoice.LineItem) ([]invoice.LineItem, error) {
	saved := make([]invoice.LineItem, len(items))
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineItemsBucket)
		for i, item := range items {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating line item id: %w", err)
			}
			item.ID = int64(seq)
			if err := put(bucket, itob(item.ID), item); err != nil {
				return err
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

func getLineItem(tx *bbolt.Tx, id int64) (*invoice.LineItem, error) {
	data := tx.Bucket(lineItemsBucket).Get(itob(id))
	if data == nil {
		return nil, notFound("line item", id)
	}
	var item invoice.LineItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling line item: %w", err)
	}
	return &item, nil
}

// GetLineItem retrieves a line item by id
func (b *BoltStore) GetLineItem(ctx context.Context, id int64) (*invoice.LineItem, error) {
	var item *invoice.LineItem
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		item, err = getLineItem(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListLineItems returns every line item in id order
func (b *BoltStore) ListLineItems(ctx context.Context) ([]invoice.LineItem, error) {
	items := make([]invoice.LineItem, 0)
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(lineItemsBucket).ForEach(func(k, v []byte) error {
			var item invoice.LineItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateLineItem applies a patch to a stored line item
func (b *BoltStore) UpdateLineItem(ctx context.Context, id int64, patch invoice.LineItemPatch) (*invoice.LineItem, error) {
	var item *invoice.LineItem
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		var err error
		item, err = getLineItem(tx, id)
		if err != nil {
			return err
		}
		patch.Apply(item)
		return put(tx.Bucket(lineItemsBucket), itob(id), item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteLineItem removes one line item
func (b *BoltStore) DeleteLineItem(ctx context.Context, id int64) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineItemsBucket)
		if bucket.Get(itob(id)) == nil {
			return notFound("line item", id)
		}
		return bucket.Delete(itob(id))
	})
}

// DeleteAllLineItems empties the line item bucket. Ids keep increasing afterwards.
func (b *BoltStore) DeleteAllLineItems(ctx context.Context) (int, error) {
	var n int
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(lineItemsBucket)
		seq := bucket.Sequence()
		n = bucket.Stats().KeyN
		if err := tx.DeleteBucket(lineItemsBucket); err != nil {
			return err
		}
		fresh, err := tx.CreateBucket(lineItemsBucket)
		if err != nil {
			return err
		}
		return fresh.SetSequence(seq)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpsertMapping inserts or replaces the mapping for a description
func (b *BoltStore) UpsertMapping(ctx context.Context, m invoice.AttributeMapping) (bool, error) {
	var created bool
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(mappingsBucket)
		key := []byte(m.ProductDescription)
		created = bucket.Get(key) == nil
		return put(bucket, key, m)
	})
	return created, err
}

// GetMapping retrieves the mapping for a description
func (b *BoltStore) GetMapping(ctx context.Context, description string) (*invoice.AttributeMapping, error) {
	var m invoice.AttributeMapping
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		data := tx.Bucket(mappingsBucket).Get([]byte(description))
		if data == nil {
			return notFound("attribute mapping", description)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMappings returns every mapping ordered by description
func (b *BoltStore) ListMappings(ctx context.Context) ([]invoice.AttributeMapping, error) {
	mappings := make([]invoice.AttributeMapping, 0)
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(mappingsBucket).ForEach(func(k, v []byte) error {
			var m invoice.AttributeMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshaling attribute mapping: %w", err)
			}
			mappings = append(mappings, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// DeleteMapping removes the mapping for a description
func (b *BoltStore) DeleteMapping(ctx context.Context, description string) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(mappingsBucket)
		if bucket.Get([]byte(description)) == nil {
			return notFound("attribute mapping", description)
		}
		return bucket.Delete([]byte(description))
	})
}

// putProduct stores p without its materials, which live in their own bucket
func putProduct(tx *bbolt.Tx, p invoice.Product) error {
	p.Materials = nil
	return put(tx.Bucket(productsBucket), itob(p.ID), p)
}

func getProduct(tx *bbolt.Tx, id int64) (*invoice.Product, error) {
	data := tx.Bucket(productsBucket).Get(itob(id))
	if data == nil {
		return nil, notFound("product", id)
	}
	var p invoice.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling product: %w", err)
	}
	materials, err := materialsOf(tx, id)
	if err != nil {
		return nil, err
	}
	p.Materials = materials
	return &p, nil
}

func materialsOf(tx *bbolt.Tx, productID int64) ([]invoice.ProductMaterial, error) {
	materials := make([]invoice.ProductMaterial, 0)
	err := tx.Bucket(materialsBucket).ForEach(func(k, v []byte) error {
		var m invoice.ProductMaterial
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("unmarshaling product material: %w", err)
		}
		if m.ProductID == productID {
			materials = append(materials, m)
		}
		return nil
	})
	return materials, err
}

func addMaterial(tx *bbolt.Tx, productID int64, m invoice.ProductMaterial) (invoice.ProductMaterial, error) {
	bucket := tx.Bucket(materialsBucket)
	seq, err := bucket.NextSequence()
	if err != nil {
		return m, fmt.Errorf("allocating material id: %w", err)
	}
	m.ID = int64(seq)
	m.ProductID = productID
	return m, put(bucket, itob(m.ID), m)
}

// CreateProduct stores a product with its materials
func (b *BoltStore) CreateProduct(ctx context.Context, p invoice.Product) (*invoice.Product, error) {
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(productsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating product id: %w", err)
		}
		p.ID = int64(seq)
		if err := putProduct(tx, p); err != nil {
			return err
		}

		materials := make([]invoice.ProductMaterial, 0, len(p.Materials))
		for _, m := range p.Materials {
			saved, err := addMaterial(tx, p.ID, m)
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

// GetProduct retrieves a product with its materials
func (b *BoltStore) GetProduct(ctx context.Context, id int64) (*invoice.Product, error) {
	var p *invoice.Product
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		p, err = getProduct(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns every product with its materials in id order
func (b *BoltStore) ListProducts(ctx context.Context) ([]invoice.Product, error) {
	products := make([]invoice.Product, 0)
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(productsBucket).ForEach(func(k, v []byte) error {
			p, err := getProduct(tx, int64(binary.BigEndian.Uint64(k)))
			if err != nil {
				return err
			}
			products = append(products, *p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// RenameProduct changes a product's name
func (b *BoltStore) RenameProduct(ctx context.Context, id int64, name string) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		p, err := getProduct(tx, id)
		if err != nil {
			return err
		}
		p.Name = name
		return putProduct(tx, *p)
	})
}

// DeleteProduct removes a product and its materials
func (b *BoltStore) DeleteProduct(ctx context.Context, id int64) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		if _, err := getProduct(tx, id); err != nil {
			return err
		}
		if _, err := removeMaterials(tx, id); err != nil {
			return err
		}
		return tx.Bucket(productsBucket).Delete(itob(id))
	})
}

// removeMaterials deletes every material of a product
func removeMaterials(tx *bbolt.Tx, productID int64) (int, error) {
	materials, err := materialsOf(tx, productID)
	if err != nil {
		return 0, err
	}
	bucket := tx.Bucket(materialsBucket)
	n := 0
	for _, m := range materials {
		if err := bucket.Delete(itob(m.ID)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// AddMaterial attaches a material to a product
func (b *BoltStore) AddMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) (*invoice.ProductMaterial, error) {
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		if tx.Bucket(productsBucket).Get(itob(productID)) == nil {
			return notFound("product", productID)
		}
		var err error
		m, err = addMaterial(tx, productID, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getMaterial(tx *bbolt.Tx, productID, materialID int64) (*invoice.ProductMaterial, error) {
	data := tx.Bucket(materialsBucket).Get(itob(materialID))
	if data == nil {
		return nil, notFound("product material", materialID)
	}
	var m invoice.ProductMaterial
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling product material: %w", err)
	}
	if m.ProductID != productID {
		return nil, notFound("product material", materialID)
	}
	return &m, nil
}

// UpdateMaterial replaces a material of a product
func (b *BoltStore) UpdateMaterial(ctx context.Context, productID int64, m invoice.ProductMaterial) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		if _, err := getMaterial(tx, productID, m.ID); err != nil {
			return err
		}
		m.ProductID = productID
		return put(tx.Bucket(materialsBucket), itob(m.ID), m)
	})
}

// RemoveMaterial detaches one material from a product
func (b *BoltStore) RemoveMaterial(ctx context.Context, productID, materialID int64) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		if _, err := getMaterial(tx, productID, materialID); err != nil {
			return err
		}
		return tx.Bucket(materialsBucket).Delete(itob(materialID))
	})
}

// RemoveAllMaterials detaches every material of a product
func (b *BoltStore) RemoveAllMaterials(ctx context.Context, productID int64) (int, error) {
	var n int
	err := b.update(ctx, func(tx *bbolt.Tx) error {
		var err error
		n, err = removeMaterials(tx, productID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SaveDocument registers an uploaded document
func (b *BoltStore) SaveDocument(ctx context.Context, d invoice.Document) error {
	return b.update(ctx, func(tx *bbolt.Tx) error {
		return put(tx.Bucket(documentsBucket), []byte(d.ID), d)
	})
}

// GetDocument retrieves a registered document
func (b *BoltStore) GetDocument(ctx context.Context, id string) (*invoice.Document, error) {
	var d invoice.Document
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get([]byte(id))
		if data == nil {
			return notFound("document", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns registered documents, newest first
func (b *BoltStore) ListDocuments(ctx context.Context) ([]invoice.Document, error) {
	docs := make([]invoice.Document, 0)
	err := b.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(k, v []byte) error {
			var d invoice.Document
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			docs = append(docs, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
