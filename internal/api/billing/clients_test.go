package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test setup helpers (shared by all billing handler tests)
// ---------------------------------------------------------------------------

// clientSQLCols are the columns returned by client SELECT queries.
var clientSQLCols = []string{
	"id", "name", "org_number", "email", "hourly_rate",
	"customer_number", "archived", "created_at", "updated_at",
}

// productSQLCols are the columns returned by product SELECT queries.
var productSQLCols = []string{
	"id", "name", "unit", "price", "vat_rate", "article_number",
	"deleted_at", "created_at", "updated_at",
}

// entrySQLCols are the columns returned by time entry SELECT queries.
var entrySQLCols = []string{
	"id", "client_id", "product_id", "user_id", "description",
	"started_at", "ended_at", "quantity", "price_override",
	"invoiced", "invoice_id", "created_at", "updated_at",
}

// invoiceSQLCols are the columns returned by invoice SELECT queries.
var invoiceSQLCols = []string{
	"id", "client_id", "external_number", "invoice_date",
	"total", "currency", "entry_count", "created_at",
}

func clientRow(id uuid.UUID, archived bool) *sqlmock.Rows {
	return sqlmock.NewRows(clientSQLCols).
		AddRow(id, "Acme AB", "556016-0680", nil, 950.0, nil, archived, time.Now(), time.Now())
}

func productRow(id uuid.UUID, deletedAt *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(productSQLCols).
		AddRow(id, "Consulting", "h", 950.0, 25, nil, deletedAt, time.Now(), time.Now())
}

func adminUser() *models.User {
	return &models.User{ID: uuid.New(), Email: "admin@example.com", Name: "Admin", Role: models.RoleAdmin}
}

func memberUser() *models.User {
	return &models.User{ID: uuid.New(), Email: "member@example.com", Name: "Member", Role: models.RoleMember}
}

// newBillingDB creates a sqlmock-backed sqlx handle.
func newBillingDB(t *testing.T) (sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, sqlx.NewDb(db, "postgres")
}

// withUser builds a router whose requests carry the given session user, the
// way the auth middleware would.
func withUser(user *models.User, register func(r *gin.Engine)) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	})
	register(r)
	return r
}

func jsonBody(v interface{}) *bytes.Buffer {
	b, _ := json.Marshal(v)
	return bytes.NewBuffer(b)
}

func getJSON(resp *httptest.ResponseRecorder) map[string]interface{} {
	var m map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &m)
	return m
}

// errDB is a sentinel error for DB failures in tests.
var errDB = &dbError{"database error"}

type dbError struct{ msg string }

func (e *dbError) Error() string { return e.msg }

// newClientRouter creates a gin router with all ClientHandlers routes registered.
func newClientRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	mock, sqlxDB := newBillingDB(t)
	h := NewClientHandlers(repositories.NewClientRepository(sqlxDB))

	r := withUser(adminUser(), func(r *gin.Engine) {
		r.GET("/clients", h.ListClients)
		r.GET("/clients/:id", h.GetClient)
		r.POST("/clients", h.CreateClient)
		r.PUT("/clients/:id", h.UpdateClient)
		r.DELETE("/clients/:id", h.ArchiveClient)
	})
	return mock, r
}

// ---------------------------------------------------------------------------
// ListClients
// ---------------------------------------------------------------------------

func TestListClients_Success(t *testing.T) {
	mock, r := newClientRouter(t)

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE archived").
		WillReturnRows(clientRow(uuid.New(), false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["clients"] == nil {
		t.Error("response missing 'clients' key")
	}
}

func TestListClients_IncludeArchived(t *testing.T) {
	mock, r := newClientRouter(t)

	// Without the archived filter the query has no WHERE clause
	mock.ExpectQuery("SELECT (.+) FROM clients ORDER BY name").
		WillReturnRows(clientRow(uuid.New(), true))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients?include_archived=true", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestListClients_DBError(t *testing.T) {
	mock, r := newClientRouter(t)

	mock.ExpectQuery("SELECT").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetClient
// ---------------------------------------------------------------------------

func TestGetClient_Success(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(clientRow(id, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients/"+id.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["client"] == nil {
		t.Error("response missing 'client' key")
	}
}

func TestGetClient_InvalidID(t *testing.T) {
	_, r := newClientRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients/not-a-uuid", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(clientSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/clients/"+id.String(), nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateClient
// ---------------------------------------------------------------------------

func TestCreateClient_Success(t *testing.T) {
	mock, r := newClientRouter(t)

	mock.ExpectExec("INSERT INTO clients").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/clients",
		jsonBody(map[string]interface{}{"name": "Acme AB", "org_number": "556016-0680", "hourly_rate": 950})))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["client"] == nil {
		t.Error("response missing 'client' key")
	}
}

func TestCreateClient_MissingRequiredFields(t *testing.T) {
	_, r := newClientRouter(t)

	// Missing org_number
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/clients",
		jsonBody(map[string]string{"name": "Acme AB"})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateClient_InvalidJSON(t *testing.T) {
	_, r := newClientRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/clients", bytes.NewBufferString("{bad json")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateClient_InvalidOrgNumber(t *testing.T) {
	_, r := newClientRouter(t)

	// Wrong length and failing check digit are both rejected before any DB work
	for _, orgNumber := range []string{"123", "556016-0681"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("POST", "/clients",
			jsonBody(map[string]interface{}{"name": "Acme AB", "org_number": orgNumber})))

		if w.Code != http.StatusBadRequest {
			t.Errorf("org_number %q: status = %d, want 400", orgNumber, w.Code)
		}
	}
}

func TestCreateClient_NormalizesOrgNumber(t *testing.T) {
	mock, r := newClientRouter(t)

	mock.ExpectExec("INSERT INTO clients").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/clients",
		jsonBody(map[string]interface{}{"name": "Acme AB", "org_number": "556016-0680"})))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	client := getJSON(w)["client"].(map[string]interface{})
	if got := client["org_number"]; got != "5560160680" {
		t.Errorf("stored org_number = %v, want bare form 5560160680", got)
	}
}

// ---------------------------------------------------------------------------
// UpdateClient
// ---------------------------------------------------------------------------

func TestUpdateClient_Success(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(clientRow(id, false))
	mock.ExpectExec("UPDATE clients").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/clients/"+id.String(),
		jsonBody(map[string]interface{}{"name": "Acme Renamed", "org_number": "556016-0680", "hourly_rate": 1100})))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateClient_NotFound(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(clientSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/clients/"+id.String(),
		jsonBody(map[string]interface{}{"name": "X", "org_number": "5560160680"})))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ArchiveClient
// ---------------------------------------------------------------------------

func TestArchiveClient_Success(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(clientRow(id, false))
	mock.ExpectExec("UPDATE clients SET archived").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/clients/"+id.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestArchiveClient_NotFound(t *testing.T) {
	mock, r := newClientRouter(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM clients WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(clientSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/clients/"+id.String(), nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
