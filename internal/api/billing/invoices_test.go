package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
	"github.com/chronobill/chronobill/internal/services"
)

// fakeExporter is an ExporterInterface stub so handler tests can exercise the
// error mapping without a wired pipeline.
type fakeExporter struct {
	invoice *models.Invoice
	err     error
	calls   int
	lastReq services.ExportRequest
}

func (f *fakeExporter) Export(_ context.Context, req services.ExportRequest) (*models.Invoice, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.invoice, nil
}

func invoiceRow(id, clientID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(invoiceSQLCols).
		AddRow(id, clientID, "1042", time.Now(), 4750.0, "SEK", 3, time.Now())
}

// newInvoiceRouter creates a gin router with all InvoiceHandlers routes registered.
func newInvoiceRouter(t *testing.T, exporter ExporterInterface) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	mock, sqlxDB := newBillingDB(t)
	h := NewInvoiceHandlers(repositories.NewInvoiceRepository(sqlxDB), exporter)

	r := withUser(adminUser(), func(r *gin.Engine) {
		r.GET("/invoices", h.ListInvoices)
		r.GET("/invoices/:id", h.GetInvoice)
		r.POST("/invoices/export", h.ExportInvoice)
	})
	return mock, r
}

// ---------------------------------------------------------------------------
// ListInvoices
// ---------------------------------------------------------------------------

func TestListInvoices_Success(t *testing.T) {
	mock, r := newInvoiceRouter(t, &fakeExporter{})

	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WillReturnRows(invoiceRow(uuid.New(), uuid.New()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/invoices", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["invoices"] == nil {
		t.Error("response missing 'invoices' key")
	}
}

func TestListInvoices_ClientFilter(t *testing.T) {
	mock, r := newInvoiceRouter(t, &fakeExporter{})
	clientID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WillReturnRows(invoiceRow(uuid.New(), clientID))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/invoices?client_id="+clientID.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestListInvoices_InvalidClientFilter(t *testing.T) {
	_, r := newInvoiceRouter(t, &fakeExporter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/invoices?client_id=nope", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetInvoice
// ---------------------------------------------------------------------------

func TestGetInvoice_Success(t *testing.T) {
	mock, r := newInvoiceRouter(t, &fakeExporter{})
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id").WithArgs(id).
		WillReturnRows(invoiceRow(id, uuid.New()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/invoices/"+id.String(), nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
}

func TestGetInvoice_NotFound(t *testing.T) {
	mock, r := newInvoiceRouter(t, &fakeExporter{})
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(invoiceSQLCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/invoices/"+id.String(), nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ExportInvoice
// ---------------------------------------------------------------------------

func TestExportInvoice_Success(t *testing.T) {
	clientID := uuid.New()
	entryID := uuid.New()
	exp := &fakeExporter{invoice: &models.Invoice{
		ID:             uuid.New(),
		ClientID:       clientID,
		ExternalNumber: "1042",
		Total:          4750,
		Currency:       "SEK",
		EntryCount:     1,
	}}
	_, r := newInvoiceRouter(t, exp)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/invoices/export",
		jsonBody(map[string]interface{}{
			"client_id":      clientID.String(),
			"time_entry_ids": []string{entryID.String()},
		})))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	if exp.calls != 1 {
		t.Errorf("exporter calls = %d, want 1", exp.calls)
	}
	if exp.lastReq.ClientID != clientID {
		t.Errorf("exporter got client %s, want %s", exp.lastReq.ClientID, clientID)
	}
	if len(exp.lastReq.TimeEntryIDs) != 1 || exp.lastReq.TimeEntryIDs[0] != entryID {
		t.Errorf("exporter got entry ids %v, want [%s]", exp.lastReq.TimeEntryIDs, entryID)
	}
	resp := getJSON(w)
	if resp["invoice"] == nil {
		t.Error("response missing 'invoice' key")
	}
}

func TestExportInvoice_MalformedBody(t *testing.T) {
	exp := &fakeExporter{}
	_, r := newInvoiceRouter(t, exp)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/invoices/export", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: body=%s", w.Code, w.Body.String())
	}
	if exp.calls != 0 {
		t.Errorf("exporter calls = %d, want 0", exp.calls)
	}
}

// Each failure class the pipeline can produce must surface as a distinct
// status and machine-readable code, because the client decides retry
// behavior from them.
func TestExportInvoice_ErrorMapping(t *testing.T) {
	entryID := uuid.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"rejected request",
			&services.InvalidExportRequestError{Reason: "time entries belong to a different client"},
			http.StatusBadRequest,
			"invalid_request",
		},
		{
			"not connected",
			accounting.ErrNotConnected,
			http.StatusConflict,
			"not_connected",
		},
		{
			"reauthorization required",
			services.ErrReauthorizationRequired,
			http.StatusConflict,
			"reauthorization_required",
		},
		{
			"provider validation",
			&accounting.ValidationError{Code: 2001265, Message: "Ogiltigt artikelnummer"},
			http.StatusUnprocessableEntity,
			"provider_validation",
		},
		{
			"reconciliation failure",
			&services.ReconciliationError{ExternalNumber: "1042", EntryIDs: []uuid.UUID{entryID}, Err: errDB},
			http.StatusInternalServerError,
			"reconciliation_failed",
		},
		{
			"transport failure",
			errors.New("connect: connection refused"),
			http.StatusBadGateway,
			"provider_error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, r := newInvoiceRouter(t, &fakeExporter{err: tc.err})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("POST", "/invoices/export",
				jsonBody(map[string]interface{}{
					"client_id":      uuid.New().String(),
					"time_entry_ids": []string{entryID.String()},
				})))

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
			resp := getJSON(w)
			if code, _ := resp["code"].(string); code != tc.wantCode {
				t.Errorf("code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

// A reconciliation failure response carries the provider invoice number and
// the affected entries so an operator can repair by hand.
func TestExportInvoice_ReconciliationDetails(t *testing.T) {
	entryID := uuid.New()
	_, r := newInvoiceRouter(t, &fakeExporter{err: &services.ReconciliationError{
		ExternalNumber: "1077",
		EntryIDs:       []uuid.UUID{entryID},
		Err:            errDB,
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/invoices/export",
		jsonBody(map[string]interface{}{
			"client_id":      uuid.New().String(),
			"time_entry_ids": []string{entryID.String()},
		})))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["external_number"] != "1077" {
		t.Errorf("external_number = %v, want 1077", resp["external_number"])
	}
	ids, ok := resp["entry_ids"].([]interface{})
	if !ok || len(ids) != 1 {
		t.Fatalf("entry_ids = %v, want one entry", resp["entry_ids"])
	}
	if ids[0] != entryID.String() {
		t.Errorf("entry_ids[0] = %v, want %s", ids[0], entryID)
	}
}
