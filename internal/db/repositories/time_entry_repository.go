// time_entry_repository.go implements TimeEntryRepository, providing database queries
// for tracked work. Entries are immutable once invoiced; the export flow flips the
// invoiced flag inside the invoice transaction, not here.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// TimeEntryRepository handles time entry database operations
type TimeEntryRepository struct {
	db *sqlx.DB
}

// NewTimeEntryRepository creates a new TimeEntryRepository
func NewTimeEntryRepository(db *sqlx.DB) *TimeEntryRepository {
	return &TimeEntryRepository{db: db}
}

// TimeEntryFilters contains filters for querying time entries
type TimeEntryFilters struct {
	ClientID  *uuid.UUID
	UserID    *uuid.UUID
	Invoiced  *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateTimeEntry creates a new time entry
func (r *TimeEntryRepository) CreateTimeEntry(ctx context.Context, entry *models.TimeEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	query := `
		INSERT INTO time_entries (
			id, client_id, product_id, user_id, description,
			started_at, ended_at, quantity, price_override,
			invoiced, invoice_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.ClientID, entry.ProductID, entry.UserID, entry.Description,
		entry.StartedAt, entry.EndedAt, entry.Quantity, entry.PriceOverride,
		entry.Invoiced, entry.InvoiceID, entry.CreatedAt, entry.UpdatedAt,
	)
	return err
}

// GetTimeEntry retrieves a time entry by ID
func (r *TimeEntryRepository) GetTimeEntry(ctx context.Context, id uuid.UUID) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	query := `SELECT * FROM time_entries WHERE id = $1`
	err := r.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListTimeEntries retrieves time entries with optional filters, newest first
func (r *TimeEntryRepository) ListTimeEntries(ctx context.Context, filters TimeEntryFilters, limit, offset int) ([]*models.TimeEntry, error) {
	query := `SELECT * FROM time_entries WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.ClientID != nil {
		query += fmt.Sprintf(` AND client_id = $%d`, paramIndex)
		args = append(args, *filters.ClientID)
		paramIndex++
	}

	if filters.UserID != nil {
		query += fmt.Sprintf(` AND user_id = $%d`, paramIndex)
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if filters.Invoiced != nil {
		query += fmt.Sprintf(` AND invoiced = $%d`, paramIndex)
		args = append(args, *filters.Invoiced)
		paramIndex++
	}

	if filters.StartDate != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	entries := make([]*models.TimeEntry, 0)
	err := r.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

// ListTimeEntriesByIDs retrieves the given entries in one query. The result may be
// shorter than ids when some of them do not exist; callers validating an export
// check the count.
func (r *TimeEntryRepository) ListTimeEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.TimeEntry, error) {
	if len(ids) == 0 {
		return []*models.TimeEntry{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT * FROM time_entries WHERE id IN (%s) ORDER BY created_at`,
		strings.Join(placeholders, ", "),
	)

	entries := make([]*models.TimeEntry, 0, len(ids))
	err := r.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

// UpdateTimeEntry updates an entry's editable fields. Callers must not update
// entries that have already been invoiced.
func (r *TimeEntryRepository) UpdateTimeEntry(ctx context.Context, entry *models.TimeEntry) error {
	entry.UpdatedAt = time.Now()

	query := `
		UPDATE time_entries
		SET client_id = $2, product_id = $3, description = $4,
		    started_at = $5, ended_at = $6, quantity = $7, price_override = $8,
		    updated_at = $9
		WHERE id = $1 AND invoiced = FALSE`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.ClientID, entry.ProductID, entry.Description,
		entry.StartedAt, entry.EndedAt, entry.Quantity, entry.PriceOverride,
		entry.UpdatedAt,
	)
	return err
}

// DeleteTimeEntry deletes an entry unless it has been invoiced
func (r *TimeEntryRepository) DeleteTimeEntry(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM time_entries WHERE id = $1 AND invoiced = FALSE`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
