// product_repository.go implements ProductRepository, providing database queries for
// the billable products and services that time entries reference. Products are never
// hard-deleted once created because historical time entries keep pointing at them;
// deletion is a soft tombstone.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// ProductRepository handles product database operations
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// CreateProduct creates a new product
func (r *ProductRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO products (
			id, name, unit, price, vat_rate, article_number,
			deleted_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.db.ExecContext(ctx, query,
		product.ID, product.Name, product.Unit, product.Price, product.VATRate,
		product.ArticleNumber, product.DeletedAt, product.CreatedAt, product.UpdatedAt,
	)
	return err
}

// GetProduct retrieves a product by ID. Soft-deleted products are returned with
// DeletedAt set so callers can tell a tombstone from a missing row.
func (r *ProductRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	query := `SELECT * FROM products WHERE id = $1`
	err := r.db.GetContext(ctx, &product, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts lists non-deleted products ordered by name
func (r *ProductRepository) ListProducts(ctx context.Context) ([]*models.Product, error) {
	query := `SELECT * FROM products WHERE deleted_at IS NULL ORDER BY name`

	products := make([]*models.Product, 0)
	err := r.db.SelectContext(ctx, &products, query)
	return products, err
}

// UpdateProduct updates a product's editable fields
func (r *ProductRepository) UpdateProduct(ctx context.Context, product *models.Product) error {
	product.UpdatedAt = time.Now()

	query := `
		UPDATE products
		SET name = $2, unit = $3, price = $4, vat_rate = $5, updated_at = $6
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		product.ID, product.Name, product.Unit, product.Price, product.VATRate,
		product.UpdatedAt,
	)
	return err
}

// SetArticleNumber records the article number assigned by the accounting provider
// so later exports reuse the same article instead of creating duplicates.
func (r *ProductRepository) SetArticleNumber(ctx context.Context, id uuid.UUID, articleNumber string) error {
	query := `UPDATE products SET article_number = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, articleNumber, time.Now())
	return err
}

// DeleteProduct soft-deletes a product. Existing time entries keep their reference;
// new entries and exports must not use it.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE products SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}
