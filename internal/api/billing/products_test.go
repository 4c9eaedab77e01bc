package billing

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/db/repositories"
)

// newProductRouter creates a gin router with all ProductHandlers routes registered.
func newProductRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	mock, sqlxDB := newBillingDB(t)
	h := NewProductHandlers(repositories.NewProductRepository(sqlxDB))

	r := withUser(adminUser(), func(r *gin.Engine) {
		r.GET("/products", h.ListProducts)
		r.GET("/products/:id", h.GetProduct)
		r.POST("/products", h.CreateProduct)
		r.PUT("/products/:id", h.UpdateProduct)
		r.DELETE("/products/:id", h.DeleteProduct)
	})
	return mock, r
}

// ---------------------------------------------------------------------------
// ListProducts
// ---------------------------------------------------------------------------

func TestListProducts_Success(t *testing.T) {
	mock, r := newProductRouter(t)

	mock.ExpectQuery("SELECT (.+) FROM products WHERE deleted_at IS NULL").
		WillReturnRows(productRow(uuid.New(), nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/products", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["products"] == nil {
		t.Error("response missing 'products' key")
	}
}

func TestListProducts_DBError(t *testing.T) {
	mock, r := newProductRouter(t)

	mock.ExpectQuery("SELECT").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/products", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetProduct
// ---------------------------------------------------------------------------

func TestGetProduct_Success(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(productRow(id, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/products/"+id.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestGetProduct_InvalidID(t *testing.T) {
	_, r := newProductRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/products/abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(productSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/products/"+id.String(), nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateProduct
// ---------------------------------------------------------------------------

func TestCreateProduct_Success(t *testing.T) {
	mock, r := newProductRouter(t)

	mock.ExpectExec("INSERT INTO products").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/products",
		jsonBody(map[string]interface{}{"name": "Consulting", "unit": "h", "price": 950, "vat_rate": 25})))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["product"] == nil {
		t.Error("response missing 'product' key")
	}
}

func TestCreateProduct_MissingRequiredFields(t *testing.T) {
	_, r := newProductRouter(t)

	// Missing unit and price
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/products",
		jsonBody(map[string]string{"name": "Consulting"})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// UpdateProduct
// ---------------------------------------------------------------------------

func TestUpdateProduct_Success(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(productRow(id, nil))
	mock.ExpectExec("UPDATE products").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/products/"+id.String(),
		jsonBody(map[string]interface{}{"name": "Consulting", "unit": "h", "price": 1050, "vat_rate": 25})))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateProduct_Deleted(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()
	deletedAt := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(productRow(id, &deletedAt))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/products/"+id.String(),
		jsonBody(map[string]interface{}{"name": "Consulting", "unit": "h", "price": 1050})))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateProduct_NotFound(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(productSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/products/"+id.String(),
		jsonBody(map[string]interface{}{"name": "X", "unit": "h", "price": 1})))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DeleteProduct
// ---------------------------------------------------------------------------

func TestDeleteProduct_Success(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(productRow(id, nil))
	mock.ExpectExec("UPDATE products SET deleted_at").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/products/"+id.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteProduct_NotFound(t *testing.T) {
	mock, r := newProductRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(productSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/products/"+id.String(), nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
