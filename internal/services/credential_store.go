// credential_store.go defines the persistence surface the credential manager
// depends on and its database-backed implementation. The manager never touches
// the repository or the cipher directly; everything it sees is decrypted.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/crypto"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// CredentialStore hands out the stored integration credential in decrypted
// form and accepts plaintext writes; encryption at rest is an implementation
// concern. Load returns (nil, nil) when no credential is stored. Save replaces
// the row wholesale (connect, migrate). Update performs an optimistic
// compare-and-swap keyed on the credential's UpdatedAt and returns
// ErrStaleCredential when another writer rotated the row first; on success it
// advances UpdatedAt in place so the caller can keep writing.
type CredentialStore interface {
	Load(ctx context.Context) (*accounting.Credential, error)
	Save(ctx context.Context, cred *accounting.Credential) error
	Update(ctx context.Context, cred *accounting.Credential) error
	Clear(ctx context.Context) error
}

// DBCredentialStore implements CredentialStore over the credential repository,
// sealing token material with the AES-GCM cipher on the way in and opening it
// on the way out.
type DBCredentialStore struct {
	repo     *repositories.CredentialRepository
	cipher   *crypto.TokenCipher
	provider string
}

// NewDBCredentialStore creates a store bound to one provider's credential row.
func NewDBCredentialStore(repo *repositories.CredentialRepository, cipher *crypto.TokenCipher, provider string) *DBCredentialStore {
	return &DBCredentialStore{repo: repo, cipher: cipher, provider: provider}
}

func (s *DBCredentialStore) Load(ctx context.Context) (*accounting.Credential, error) {
	row, err := s.repo.GetCredential(ctx, s.provider)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return s.open(row)
}

func (s *DBCredentialStore) Save(ctx context.Context, cred *accounting.Credential) error {
	row, err := s.seal(cred)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertCredential(ctx, row); err != nil {
		return err
	}
	cred.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *DBCredentialStore) Update(ctx context.Context, cred *accounting.Credential) error {
	row, err := s.seal(cred)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateCredential(ctx, row); err != nil {
		if errors.Is(err, repositories.ErrCredentialModified) {
			return ErrStaleCredential
		}
		return err
	}
	cred.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *DBCredentialStore) Clear(ctx context.Context) error {
	return s.repo.DeleteCredential(ctx, s.provider)
}

// seal builds the encrypted persistence row from a plaintext credential.
func (s *DBCredentialStore) seal(cred *accounting.Credential) (*models.IntegrationCredential, error) {
	secret, err := s.cipher.Seal(cred.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt client secret: %w", err)
	}
	access, err := s.cipher.Seal(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Seal(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	row := &models.IntegrationCredential{
		Provider:              s.provider,
		ClientID:              cred.ClientID,
		ClientSecretEncrypted: secret,
		ExpiresAtMS:           cred.ExpiresAt,
		RefreshExpiresAtMS:    cred.RefreshExpiresAt,
		Legacy:                cred.Legacy,
		RefreshFailCount:      cred.RefreshFailCount,
		UpdatedAt:             cred.UpdatedAt,
	}
	if access != "" {
		row.AccessTokenEncrypted = &access
	}
	if refresh != "" {
		row.RefreshTokenEncrypted = &refresh
	}
	return row, nil
}

// open decrypts a persistence row into the in-memory credential.
func (s *DBCredentialStore) open(row *models.IntegrationCredential) (*accounting.Credential, error) {
	secret, err := s.cipher.Open(row.ClientSecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt client secret: %w", err)
	}

	cred := &accounting.Credential{
		ClientID:         row.ClientID,
		ClientSecret:     secret,
		ExpiresAt:        row.ExpiresAtMS,
		RefreshExpiresAt: row.RefreshExpiresAtMS,
		Legacy:           row.Legacy,
		RefreshFailCount: row.RefreshFailCount,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.AccessTokenEncrypted != nil {
		if cred.AccessToken, err = s.cipher.Open(*row.AccessTokenEncrypted); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
	}
	if row.RefreshTokenEncrypted != nil {
		if cred.RefreshToken, err = s.cipher.Open(*row.RefreshTokenEncrypted); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return cred, nil
}
