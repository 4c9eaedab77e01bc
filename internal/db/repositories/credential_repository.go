// credential_repository.go implements CredentialRepository, providing database queries
// for the accounting integration's stored OAuth credential. The table holds at most one
// row per provider; writes that race a concurrent refresh are rejected via an
// updated_at guard so the caller can re-read instead of clobbering a newer token.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// ErrCredentialModified is returned by UpdateCredential when the stored row changed
// after it was read. The caller should reload and re-evaluate whether its write is
// still needed.
var ErrCredentialModified = errors.New("credential was modified concurrently")

// CredentialRepository handles integration credential database operations
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetCredential retrieves the credential row for a provider.
// Returns nil when the integration has never been connected.
func (r *CredentialRepository) GetCredential(ctx context.Context, provider string) (*models.IntegrationCredential, error) {
	var cred models.IntegrationCredential
	query := `SELECT * FROM integration_credentials WHERE provider = $1`
	err := r.db.GetContext(ctx, &cred, query, provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// UpsertCredential stores the credential row for a provider, replacing any existing
// row wholesale. Used on connect, where a fresh grant supersedes whatever was stored.
func (r *CredentialRepository) UpsertCredential(ctx context.Context, cred *models.IntegrationCredential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	// Postgres stores microseconds; keeping the in-memory value at the same
	// precision lets it be used verbatim in the updated_at guard later.
	now := time.Now().Truncate(time.Microsecond)
	cred.CreatedAt = now
	cred.UpdatedAt = now

	query := `
		INSERT INTO integration_credentials (
			id, provider, client_id, client_secret_encrypted,
			access_token_encrypted, refresh_token_encrypted,
			expires_at_ms, refresh_expires_at_ms,
			legacy, refresh_fail_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (provider) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret_encrypted = EXCLUDED.client_secret_encrypted,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			expires_at_ms = EXCLUDED.expires_at_ms,
			refresh_expires_at_ms = EXCLUDED.refresh_expires_at_ms,
			legacy = EXCLUDED.legacy,
			refresh_fail_count = EXCLUDED.refresh_fail_count,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		cred.ID, cred.Provider, cred.ClientID, cred.ClientSecretEncrypted,
		cred.AccessTokenEncrypted, cred.RefreshTokenEncrypted,
		cred.ExpiresAtMS, cred.RefreshExpiresAtMS,
		cred.Legacy, cred.RefreshFailCount, cred.CreatedAt, cred.UpdatedAt,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// UpdateCredential writes the token fields back, guarded by the updated_at value the
// row carried when it was read. Returns ErrCredentialModified when another writer got
// there first, in which case nothing was written.
func (r *CredentialRepository) UpdateCredential(ctx context.Context, cred *models.IntegrationCredential) error {
	readAt := cred.UpdatedAt
	cred.UpdatedAt = time.Now().Truncate(time.Microsecond)

	query := `
		UPDATE integration_credentials
		SET access_token_encrypted = $1,
		    refresh_token_encrypted = $2,
		    expires_at_ms = $3,
		    refresh_expires_at_ms = $4,
		    legacy = $5,
		    refresh_fail_count = $6,
		    updated_at = $7
		WHERE provider = $8 AND updated_at = $9`

	result, err := r.db.ExecContext(ctx, query,
		cred.AccessTokenEncrypted, cred.RefreshTokenEncrypted,
		cred.ExpiresAtMS, cred.RefreshExpiresAtMS,
		cred.Legacy, cred.RefreshFailCount, cred.UpdatedAt,
		cred.Provider, readAt,
	)
	if err != nil {
		cred.UpdatedAt = readAt
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		cred.UpdatedAt = readAt
		return ErrCredentialModified
	}

	return nil
}

// DeleteCredential removes the credential row for a provider, disconnecting the
// integration entirely.
func (r *CredentialRepository) DeleteCredential(ctx context.Context, provider string) error {
	query := `DELETE FROM integration_credentials WHERE provider = $1`
	_, err := r.db.ExecContext(ctx, query, provider)
	return err
}
