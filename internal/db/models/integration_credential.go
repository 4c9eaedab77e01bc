// Package models - integration_credential.go defines the persistence row for
// the accounting integration's OAuth credential. At most one row exists per
// provider (enforced by a unique index); token values are stored encrypted and
// never serialized. Expiries are absolute UTC epoch milliseconds so validity
// math never depends on wall-clock day boundaries or timezones.
package models

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationCredential is the stored form of the accounting OAuth credential.
type IntegrationCredential struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	Provider              string    `db:"provider" json:"provider"`
	ClientID              string    `db:"client_id" json:"client_id"`
	ClientSecretEncrypted string    `db:"client_secret_encrypted" json:"-"`
	AccessTokenEncrypted  *string   `db:"access_token_encrypted" json:"-"`
	RefreshTokenEncrypted *string   `db:"refresh_token_encrypted" json:"-"`
	ExpiresAtMS           int64     `db:"expires_at_ms" json:"expires_at_ms"`
	RefreshExpiresAtMS    int64     `db:"refresh_expires_at_ms" json:"refresh_expires_at_ms"`
	Legacy                bool      `db:"legacy" json:"legacy"`
	RefreshFailCount      int       `db:"refresh_fail_count" json:"refresh_fail_count"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// AccessTokenExpiry returns the access token expiry as a time.Time.
func (c *IntegrationCredential) AccessTokenExpiry() time.Time {
	return time.UnixMilli(c.ExpiresAtMS).UTC()
}

// RefreshTokenExpiry returns the refresh token expiry as a time.Time.
func (c *IntegrationCredential) RefreshTokenExpiry() time.Time {
	return time.UnixMilli(c.RefreshExpiresAtMS).UTC()
}
