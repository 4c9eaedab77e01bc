// client_repository.go implements ClientRepository, providing database queries for
// the customers that time is tracked against and invoices are issued to.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// ClientRepository handles client database operations
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a new ClientRepository
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// CreateClient creates a new client
func (r *ClientRepository) CreateClient(ctx context.Context, client *models.Client) error {
	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	query := `
		INSERT INTO clients (
			id, name, org_number, email, hourly_rate,
			customer_number, archived, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.db.ExecContext(ctx, query,
		client.ID, client.Name, client.OrgNumber, client.Email, client.HourlyRate,
		client.CustomerNumber, client.Archived, client.CreatedAt, client.UpdatedAt,
	)
	return err
}

// GetClient retrieves a client by ID
func (r *ClientRepository) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var client models.Client
	query := `SELECT * FROM clients WHERE id = $1`
	err := r.db.GetContext(ctx, &client, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// ListClients lists clients ordered by name. Archived clients are excluded unless
// includeArchived is set.
func (r *ClientRepository) ListClients(ctx context.Context, includeArchived bool) ([]*models.Client, error) {
	query := `SELECT * FROM clients ORDER BY name`
	if !includeArchived {
		query = `SELECT * FROM clients WHERE archived = FALSE ORDER BY name`
	}

	clients := make([]*models.Client, 0)
	err := r.db.SelectContext(ctx, &clients, query)
	return clients, err
}

// UpdateClient updates a client's editable fields
func (r *ClientRepository) UpdateClient(ctx context.Context, client *models.Client) error {
	client.UpdatedAt = time.Now()

	query := `
		UPDATE clients
		SET name = $2, org_number = $3, email = $4, hourly_rate = $5,
		    archived = $6, updated_at = $7
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		client.ID, client.Name, client.OrgNumber, client.Email, client.HourlyRate,
		client.Archived, client.UpdatedAt,
	)
	return err
}

// SetCustomerNumber records the customer number assigned by the accounting provider
// so later exports reuse the same customer instead of searching again.
func (r *ClientRepository) SetCustomerNumber(ctx context.Context, id uuid.UUID, customerNumber string) error {
	query := `UPDATE clients SET customer_number = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, customerNumber, time.Now())
	return err
}

// ArchiveClient hides a client from listings without deleting its history
func (r *ClientRepository) ArchiveClient(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE clients SET archived = TRUE, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}
