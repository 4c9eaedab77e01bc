// Package repositories is the data access layer. Each repository owns the SQL
// for one domain entity, and everything above this layer goes through a
// repository rather than issuing queries itself, which keeps query logic
// testable in isolation.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// UserRepository owns all queries against the users table.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new account, generating an ID and stamping timestamps
// when the caller left them unset.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, name, password_hash, role, oidc_sub, created_at, updated_at)
		VALUES (:id, :email, :name, :password_hash, :role, :oidc_sub, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, user)
	return err
}

// getUser runs a single-row lookup. A missing row comes back as (nil, nil) so
// callers can distinguish "no such user" from a failing database.
func (r *UserRepository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID looks a user up by primary key
func (r *UserRepository) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE id = $1`, userID)
}

// GetUserByEmail looks a user up by email, the password-login identifier
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE email = $1`, email)
}

// GetUserByOIDCSub looks a user up by the immutable subject claim the SSO
// provider issues for them
func (r *UserRepository) GetUserByOIDCSub(ctx context.Context, oidcSub string) (*models.User, error) {
	return r.getUser(ctx, `SELECT * FROM users WHERE oidc_sub = $1`, oidcSub)
}

// UpdateUser writes a user's editable fields and refreshes UpdatedAt
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = :email, name = :name, password_hash = :password_hash,
		    role = :role, oidc_sub = :oidc_sub, updated_at = :updated_at
		WHERE id = :id`

	_, err := r.db.NamedExecContext(ctx, query, user)
	return err
}

// DeleteUser removes an account permanently
func (r *UserRepository) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// ListUsers returns one page of users, newest first, along with the total
// account count for pagination.
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	users := make([]*models.User, 0)
	query := `SELECT * FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Count returns the number of user accounts
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`)
	return total, err
}

// GetOrCreateUserFromOIDC resolves an SSO login to a local account, keyed by
// the provider's subject claim. Email and name are mirrored from the ID token
// on every login so directory changes propagate. New accounts start as
// members; an admin promotes them afterwards.
func (r *UserRepository) GetOrCreateUserFromOIDC(ctx context.Context, oidcSub, email, name string) (*models.User, error) {
	user, err := r.GetUserByOIDCSub(ctx, oidcSub)
	if err != nil {
		return nil, err
	}

	if user == nil {
		user = &models.User{
			Email:   email,
			Name:    name,
			Role:    models.RoleMember,
			OIDCSub: &oidcSub,
		}
		if err := r.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	if user.Email != email || user.Name != name {
		user.Email = email
		user.Name = name
		if err := r.UpdateUser(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}
