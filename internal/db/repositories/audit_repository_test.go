package repositories

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

var auditCols = []string{
	"id", "user_id", "action",
	"resource_type", "resource_id", "metadata", "ip_address", "created_at",
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func auditRow(action string, metadata []byte) *sqlmock.Rows {
	return sqlmock.NewRows(auditCols).
		AddRow("log-1", "user-1", action, "invoice", "invoice-1", metadata, "1.2.3.4", time.Now())
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// CreateAuditLog
// ---------------------------------------------------------------------------

func TestCreateAuditLog(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{
		UserID:       strPtr("user-1"),
		Action:       "integration.connect",
		ResourceType: strPtr("integration"),
		ResourceID:   strPtr("fortnox"),
		IPAddress:    strPtr("1.2.3.4"),
	}
	if err := repo.CreateAuditLog(context.Background(), log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.ID == "" {
		t.Error("CreateAuditLog left ID unset")
	}
	if log.CreatedAt.IsZero() {
		t.Error("CreateAuditLog left CreatedAt unset")
	}
}

func TestCreateAuditLog_MarshalsMetadata(t *testing.T) {
	repo, mock := newAuditRepo(t)
	// Bind order follows the named parameters: id, user_id, action,
	// resource_type, resource_id, metadata, ip_address, created_at.
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "invoice.export", "invoice", nil,
			[]byte(`{"external_number":"10117"}`), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{
		UserID:       strPtr("user-1"),
		Action:       "invoice.export",
		ResourceType: strPtr("invoice"),
		Metadata:     map[string]interface{}{"external_number": "10117"},
	}
	if err := repo.CreateAuditLog(context.Background(), log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAuditLog_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errDB)

	log := &models.AuditLog{Action: "integration.connect"}
	if err := repo.CreateAuditLog(context.Background(), log); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListAuditLogs
// ---------------------------------------------------------------------------

func TestListAuditLogs_NoFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM audit_logs`).
		WithArgs(10, 0).
		WillReturnRows(auditRow("invoice.export", []byte(`{"external_number":"10117"}`)))

	logs, total, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	if got := logs[0].Metadata["external_number"]; got != "10117" {
		t.Errorf("Metadata[external_number] = %v, want 10117", got)
	}
}

func TestListAuditLogs_FieldFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	// Each set filter claims the next positional parameter; limit and offset
	// come after the filter args.
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs WHERE user_id = .* AND action = .* AND resource_type =").
		WithArgs("user-1", "invoice.export", "invoice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM audit_logs WHERE user_id = .* AND action = .* AND resource_type =`).
		WithArgs("user-1", "invoice.export", "invoice", 10, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	logs, total, err := repo.ListAuditLogs(context.Background(), AuditFilters{
		UserID:       strPtr("user-1"),
		Action:       strPtr("invoice.export"),
		ResourceType: strPtr("invoice"),
	}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(logs) != 0 {
		t.Errorf("total = %d, len = %d, want 0 and 0", total, len(logs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListAuditLogs_DateWindow(t *testing.T) {
	repo, mock := newAuditRepo(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs WHERE created_at >= .* AND created_at <=").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM audit_logs WHERE created_at >= .* AND created_at <=`).
		WithArgs(start, end, 50, 0).
		WillReturnRows(auditRow("auth.login", nil))

	logs, _, err := repo.ListAuditLogs(context.Background(), AuditFilters{
		StartDate: &start,
		EndDate:   &end,
	}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	if logs[0].Metadata != nil {
		t.Errorf("Metadata = %v for a NULL column, want nil", logs[0].Metadata)
	}
}

func TestListAuditLogs_BadMetadata(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM audit_logs`).
		WillReturnRows(auditRow("invoice.export", []byte(`{broken`)))

	_, _, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 10, 0)
	if err == nil {
		t.Fatal("expected error for undecodable metadata, got nil")
	}
	if !strings.Contains(err.Error(), "decoding audit metadata") {
		t.Errorf("err = %v, want a metadata decoding error", err)
	}
}

func TestListAuditLogs_CountError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").WillReturnError(errDB)

	if _, _, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 10, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListAuditLogs_QueryError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM audit_logs`).WillReturnError(errDB)

	if _, _, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 10, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// DeleteOlderThan
// ---------------------------------------------------------------------------

func TestDeleteOlderThan(t *testing.T) {
	repo, mock := newAuditRepo(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM audit_logs WHERE created_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	pruned, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pruned != 42 {
		t.Errorf("pruned = %d, want 42", pruned)
	}
}

func TestDeleteOlderThan_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("DELETE FROM audit_logs").WillReturnError(errDB)

	if _, err := repo.DeleteOlderThan(context.Background(), time.Now()); err == nil {
		t.Error("expected error, got nil")
	}
}
