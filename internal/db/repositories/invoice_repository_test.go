package repositories

import (
	"context"
	"strings"
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

func newInvoiceRepo(t *testing.T) (*InvoiceRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewInvoiceRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var invoiceCols = []string{
	"id", "client_id", "external_number", "invoice_date",
	"total", "currency", "entry_count", "created_at",
}

func sampleInvoiceRow() *sqlmock.Rows {
	return sqlmock.NewRows(invoiceCols).
		AddRow(uuid.New(), uuid.New(), "10117", time.Now(),
			2375.0, "SEK", 2, time.Now())
}

func sampleInvoice() *models.Invoice {
	return &models.Invoice{
		ClientID:       uuid.New(),
		ExternalNumber: "10117",
		InvoiceDate:    time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		Total:          2375,
		Currency:       "SEK",
	}
}

// ---------------------------------------------------------------------------
// CreateInvoiceWithEntries
// ---------------------------------------------------------------------------

func TestCreateInvoiceWithEntries_Success(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	entryIDs := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE time_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE time_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	invoice := sampleInvoice()
	if err := repo.CreateInvoiceWithEntries(context.Background(), invoice, entryIDs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoice.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", invoice.EntryCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateInvoiceWithEntries_EntryAlreadyInvoiced(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	entryIDs := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE time_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second entry was grabbed by a concurrent export; zero rows updated.
	mock.ExpectExec("UPDATE time_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CreateInvoiceWithEntries(context.Background(), sampleInvoice(), entryIDs)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "already invoiced") {
		t.Errorf("err = %v, want mention of already invoiced", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateInvoiceWithEntries_InsertError(t *testing.T) {
	repo, mock := newInvoiceRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnError(errDB)
	mock.ExpectRollback()

	err := repo.CreateInvoiceWithEntries(context.Background(), sampleInvoice(), []uuid.UUID{uuid.New()})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateInvoiceWithEntries_BeginError(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	mock.ExpectBegin().WillReturnError(errDB)

	err := repo.CreateInvoiceWithEntries(context.Background(), sampleInvoice(), []uuid.UUID{uuid.New()})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetInvoice
// ---------------------------------------------------------------------------

func TestGetInvoice_Found(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	mock.ExpectQuery("SELECT.*FROM invoices.*WHERE id").
		WillReturnRows(sampleInvoiceRow())

	invoice, err := repo.GetInvoice(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoice == nil {
		t.Fatal("expected invoice, got nil")
	}
	if invoice.ExternalNumber != "10117" {
		t.Errorf("ExternalNumber = %s, want 10117", invoice.ExternalNumber)
	}
}

func TestGetInvoice_NotFound(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	mock.ExpectQuery("SELECT.*FROM invoices.*WHERE id").
		WillReturnRows(sqlmock.NewRows(invoiceCols))

	invoice, err := repo.GetInvoice(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoice != nil {
		t.Errorf("expected nil, got %v", invoice)
	}
}

// ---------------------------------------------------------------------------
// ListInvoices
// ---------------------------------------------------------------------------

func TestListInvoices_All(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	mock.ExpectQuery("SELECT.*FROM invoices.*ORDER BY created_at DESC").
		WillReturnRows(sampleInvoiceRow())

	invoices, err := repo.ListInvoices(context.Background(), nil, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invoices) != 1 {
		t.Errorf("len = %d, want 1", len(invoices))
	}
}

func TestListInvoices_ForClient(t *testing.T) {
	repo, mock := newInvoiceRepo(t)
	mock.ExpectQuery("SELECT.*FROM invoices.*WHERE client_id").
		WillReturnRows(sqlmock.NewRows(invoiceCols))

	clientID := uuid.New()
	invoices, err := repo.ListInvoices(context.Background(), &clientID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invoices) != 0 {
		t.Errorf("len = %d, want 0", len(invoices))
	}
}
