// invoice_repository.go implements InvoiceRepository, providing database queries for
// exported invoices. Recording an export is a single transaction that inserts the
// invoice row and marks every billed time entry, so the local books either fully
// reflect the external invoice or not at all.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository creates a new InvoiceRepository
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateInvoiceWithEntries records an exported invoice and marks the billed time
// entries in one transaction. Fails without writing anything if any entry was
// already invoiced by a concurrent export.
func (r *InvoiceRepository) CreateInvoiceWithEntries(ctx context.Context, invoice *models.Invoice, entryIDs []uuid.UUID) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	invoice.CreatedAt = time.Now()
	invoice.EntryCount = len(entryIDs)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertQuery := `
		INSERT INTO invoices (
			id, client_id, external_number, invoice_date,
			total, currency, entry_count, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	if _, err := tx.ExecContext(ctx, insertQuery,
		invoice.ID, invoice.ClientID, invoice.ExternalNumber, invoice.InvoiceDate,
		invoice.Total, invoice.Currency, invoice.EntryCount, invoice.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	markQuery := `
		UPDATE time_entries
		SET invoiced = TRUE, invoice_id = $1, updated_at = $2
		WHERE id = $3 AND invoiced = FALSE`

	now := time.Now()
	for _, entryID := range entryIDs {
		result, err := tx.ExecContext(ctx, markQuery, invoice.ID, now, entryID)
		if err != nil {
			return fmt.Errorf("failed to mark entry %s invoiced: %w", entryID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("entry %s is missing or already invoiced", entryID)
		}
	}

	return tx.Commit()
}

// GetInvoice retrieves an invoice by ID
func (r *InvoiceRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	query := `SELECT * FROM invoices WHERE id = $1`
	err := r.db.GetContext(ctx, &invoice, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListInvoices retrieves invoices newest first, optionally for a single client
func (r *InvoiceRepository) ListInvoices(ctx context.Context, clientID *uuid.UUID, limit, offset int) ([]*models.Invoice, error) {
	invoices := make([]*models.Invoice, 0)

	if clientID != nil {
		query := `
			SELECT * FROM invoices
			WHERE client_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		err := r.db.SelectContext(ctx, &invoices, query, *clientID, limit, offset)
		return invoices, err
	}

	query := `
		SELECT * FROM invoices
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &invoices, query, limit, offset)
	return invoices, err
}
