// Package models - user.go defines the User model for application accounts with
// email/password or OIDC login and a coarse admin/member role.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Admins manage clients, products, the accounting integration and
// exports; members only log their own time.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents an application account
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	OIDCSub      *string   `db:"oidc_sub" json:"-"` // OIDC subject identifier when SSO is used
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin returns true when the user may manage billing and the integration.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
