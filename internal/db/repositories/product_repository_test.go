package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newProductRepo(t *testing.T) (*ProductRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProductRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var productCols = []string{
	"id", "name", "unit", "price", "vat_rate", "article_number",
	"deleted_at", "created_at", "updated_at",
}

func sampleProductRow() *sqlmock.Rows {
	return sqlmock.NewRows(productCols).
		AddRow(uuid.New(), "Consulting", "h", 950.0, 25, nil,
			nil, time.Now(), time.Now())
}

func deletedProductRow() *sqlmock.Rows {
	deletedAt := time.Now().Add(-time.Hour)
	return sqlmock.NewRows(productCols).
		AddRow(uuid.New(), "Old service", "h", 700.0, 25, nil,
			deletedAt, time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// CreateProduct
// ---------------------------------------------------------------------------

func TestCreateProduct_Success(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectExec("INSERT INTO products").
		WillReturnResult(sqlmock.NewResult(1, 1))

	product := &models.Product{Name: "Consulting", Unit: "h", Price: 950, VATRate: 25}
	if err := repo.CreateProduct(context.Background(), product); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID == uuid.Nil {
		t.Error("expected generated ID")
	}
}

func TestCreateProduct_DBError(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectExec("INSERT INTO products").
		WillReturnError(errDB)

	product := &models.Product{Name: "Consulting"}
	if err := repo.CreateProduct(context.Background(), product); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetProduct
// ---------------------------------------------------------------------------

func TestGetProduct_Found(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectQuery("SELECT.*FROM products.*WHERE id").
		WillReturnRows(sampleProductRow())

	product, err := repo.GetProduct(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product == nil {
		t.Fatal("expected product, got nil")
	}
	if product.Deleted() {
		t.Error("expected live product")
	}
}

func TestGetProduct_ReturnsTombstone(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectQuery("SELECT.*FROM products.*WHERE id").
		WillReturnRows(deletedProductRow())

	product, err := repo.GetProduct(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product == nil {
		t.Fatal("expected tombstone row, got nil")
	}
	if !product.Deleted() {
		t.Error("expected Deleted() to report true")
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectQuery("SELECT.*FROM products.*WHERE id").
		WillReturnRows(sqlmock.NewRows(productCols))

	product, err := repo.GetProduct(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product != nil {
		t.Errorf("expected nil, got %v", product)
	}
}

// ---------------------------------------------------------------------------
// ListProducts
// ---------------------------------------------------------------------------

func TestListProducts_ExcludesDeleted(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectQuery("SELECT.*FROM products.*WHERE deleted_at IS NULL").
		WillReturnRows(sampleProductRow())

	products, err := repo.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Errorf("len = %d, want 1", len(products))
	}
}

// ---------------------------------------------------------------------------
// SetArticleNumber
// ---------------------------------------------------------------------------

func TestSetArticleNumber_Success(t *testing.T) {
	repo, mock := newProductRepo(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE products SET article_number").
		WithArgs(id, "1756000000000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetArticleNumber(context.Background(), id, "1756000000000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// DeleteProduct
// ---------------------------------------------------------------------------

func TestDeleteProduct_SoftDeletes(t *testing.T) {
	repo, mock := newProductRepo(t)
	mock.ExpectExec("UPDATE products SET deleted_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteProduct(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
