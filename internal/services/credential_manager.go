// Package services implements higher-level business logic that coordinates across repositories and external systems.
// The credential manager, for example, owns the whole lifecycle of the accounting OAuth credential: connecting, deriving
// its status, refreshing it before resource calls and on a schedule, migrating legacy tokens and tearing it down.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/telemetry"
)

// IntegrationStatus is the derived state of the stored accounting credential.
type IntegrationStatus string

const (
	// StatusDisconnected: no credential, or no access token, or the app
	// credentials are missing.
	StatusDisconnected IntegrationStatus = "disconnected"
	// StatusConnectedLegacy: a pre-OAuth access token with no refresh token.
	// Usable until the provider retires it, but it cannot be renewed.
	StatusConnectedLegacy IntegrationStatus = "connected_legacy"
	// StatusConnected: access token valid and outside the proactive window.
	StatusConnected IntegrationStatus = "connected"
	// StatusExpiring: access token valid but inside the proactive window.
	StatusExpiring IntegrationStatus = "expiring"
	// StatusExpiredRecoverable: access token expired, refresh token still live.
	StatusExpiredRecoverable IntegrationStatus = "expired_recoverable"
	// StatusExpiredUnrecoverable: the refresh token itself has expired. Only a
	// full reconnect can revive the integration.
	StatusExpiredUnrecoverable IntegrationStatus = "expired_unrecoverable"
)

const (
	// proactiveRefreshWindow is how long before access token expiry the
	// credential counts as expiring. Wide enough to ride out a multi-day
	// provider outage without the access token lapsing.
	proactiveRefreshWindow = 7 * 24 * time.Hour

	// minRemainingLife is the floor under the window for deployments that
	// configure short-lived tokens.
	minRemainingLife = 30 * time.Minute
)

// Refresh trigger labels for telemetry.TokenRefreshesTotal.
const (
	triggerScheduled         = "scheduled"
	triggerOnDemand          = "on_demand"
	triggerUnauthorizedRetry = "unauthorized_retry"
)

func needsProactiveRefresh(remaining time.Duration) bool {
	return remaining <= proactiveRefreshWindow || remaining < minRemainingLife
}

// DeriveStatus classifies a credential at the given instant. Pure function;
// it never touches storage or the provider.
func DeriveStatus(cred *accounting.Credential, now time.Time) IntegrationStatus {
	if cred == nil || cred.ClientID == "" || cred.ClientSecret == "" || !cred.HasAccessToken() {
		return StatusDisconnected
	}
	if cred.Legacy || !cred.HasRefreshToken() {
		return StatusConnectedLegacy
	}
	if cred.RefreshTokenTTL(now) <= 0 {
		return StatusExpiredUnrecoverable
	}
	accessTTL := cred.AccessTokenTTL(now)
	if accessTTL <= 0 {
		return StatusExpiredRecoverable
	}
	if needsProactiveRefresh(accessTTL) {
		return StatusExpiring
	}
	return StatusConnected
}

// CredentialManager owns the accounting credential lifecycle. It is the only
// writer of token material; everything else asks it for a valid credential and
// never caches what it gets back.
type CredentialManager struct {
	store  CredentialStore
	tokens accounting.TokenClient
	logger *slog.Logger
}

// NewCredentialManager creates a credential manager.
func NewCredentialManager(store CredentialStore, tokens accounting.TokenClient, logger *slog.Logger) *CredentialManager {
	return &CredentialManager{
		store:  store,
		tokens: tokens,
		logger: logger.With("component", "credential_manager"),
	}
}

// ConnectParams carries the OAuth callback inputs. ClientID and ClientSecret
// may be blank when BeginConnect stored them earlier.
type ConnectParams struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

// MigrateParams carries legacy migration inputs. Blank fields fall back to the
// stored credential, so migrating a stored legacy token is MigrateParams{}.
type MigrateParams struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
}

// BeginConnect stores the provider app credentials ahead of the OAuth
// authorization redirect, so the callback can complete the exchange without
// the admin re-entering them. Existing tokens are kept; they stay usable until
// the new grant replaces them.
func (m *CredentialManager) BeginConnect(ctx context.Context, clientID, clientSecret string) error {
	if clientID == "" || clientSecret == "" {
		return errors.New("client id and client secret are required")
	}
	cred, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		cred = &accounting.Credential{}
	}
	cred.ClientID = clientID
	cred.ClientSecret = clientSecret
	return m.store.Save(ctx, cred)
}

// Connect completes the authorization-code flow and replaces whatever grant
// was stored before.
func (m *CredentialManager) Connect(ctx context.Context, p ConnectParams) error {
	if p.ClientID == "" || p.ClientSecret == "" {
		stored, err := m.store.Load(ctx)
		if err != nil {
			return err
		}
		if stored != nil {
			if p.ClientID == "" {
				p.ClientID = stored.ClientID
			}
			if p.ClientSecret == "" {
				p.ClientSecret = stored.ClientSecret
			}
		}
	}
	if p.ClientID == "" || p.ClientSecret == "" {
		return errors.New("connect requires the provider client id and client secret")
	}

	ts, err := m.tokens.ExchangeCode(ctx, p.ClientID, p.ClientSecret, p.Code, p.RedirectURI)
	if err != nil {
		return err
	}

	cred := &accounting.Credential{
		ClientID:         p.ClientID,
		ClientSecret:     p.ClientSecret,
		AccessToken:      ts.AccessToken,
		RefreshToken:     ts.RefreshToken,
		ExpiresAt:        ts.ExpiresAt,
		RefreshExpiresAt: ts.RefreshExpiresAt,
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	m.logger.Info("accounting integration connected",
		"access_expires", time.UnixMilli(ts.ExpiresAt).UTC().Format(time.RFC3339),
		"refresh_expires", time.UnixMilli(ts.RefreshExpiresAt).UTC().Format(time.RFC3339))
	return nil
}

// Status reports the derived integration state together with the credential it
// was derived from (nil when disconnected). The credential still carries token
// material; callers expose expiries and the fail count, never the tokens.
func (m *CredentialManager) Status(ctx context.Context) (IntegrationStatus, *accounting.Credential, error) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return "", nil, err
	}
	return DeriveStatus(cred, time.Now()), cred, nil
}

// ValidCredential returns a credential whose access token can be sent to the
// provider right now, refreshing first when it is expiring or expired.
// (nil, nil) means disconnected. When a refresh fails but the current token
// still has life left, the stale-but-valid credential is returned and the
// failure only logged; exports keep working through provider auth outages.
// When nothing valid remains the caller gets the refresh error, and a dead
// refresh token additionally clears the stored tokens so the status honestly
// reads disconnected afterwards.
func (m *CredentialManager) ValidCredential(ctx context.Context) (*accounting.Credential, error) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	switch DeriveStatus(cred, now) {
	case StatusDisconnected:
		return nil, nil
	case StatusConnectedLegacy, StatusConnected:
		return cred, nil
	case StatusExpiredUnrecoverable:
		m.logger.Error("refresh token has expired, the integration must be reconnected")
		if err := m.clearTokens(ctx, cred); err != nil {
			m.logger.Error("failed to clear expired tokens", "error", err)
		}
		return nil, ErrReauthorizationRequired
	}

	// Expiring or expired with a live refresh token: renew before handing out.
	fresh, err := m.refresh(ctx, cred, triggerOnDemand)
	if err != nil {
		if errors.Is(err, ErrReauthorizationRequired) {
			return nil, err
		}
		if ttl := cred.AccessTokenTTL(now); ttl > 0 {
			m.logger.Warn("token refresh failed, serving the still-valid access token",
				"remaining", ttl.Round(time.Second).String(), "error", err)
			return cred, nil
		}
		return nil, fmt.Errorf("credential expired and refresh failed: %w", err)
	}
	if fresh == nil {
		return nil, nil
	}
	return fresh, nil
}

// Refresh renews the credential with the provider and persists the result.
// The returned credential is the one now stored, which is not necessarily the
// one built from this renewal: when a concurrent writer rotated the row first,
// their grant wins and ours is discarded, because replaying an already-spent
// refresh token can never succeed. A nil credential with nil error means the
// integration was disconnected concurrently.
func (m *CredentialManager) Refresh(ctx context.Context, cred *accounting.Credential) (*accounting.Credential, error) {
	return m.refresh(ctx, cred, triggerOnDemand)
}

func (m *CredentialManager) refresh(ctx context.Context, cred *accounting.Credential, trigger string) (*accounting.Credential, error) {
	ts, err := m.tokens.Renew(ctx, cred.ClientID, cred.ClientSecret, cred.RefreshToken)
	if err != nil {
		var rerr *accounting.RefreshError
		if errors.As(err, &rerr) && rerr.Permanent {
			telemetry.TokenRefreshesTotal.WithLabelValues(trigger, "permanent_failure").Inc()
			m.logger.Error("provider rejected the refresh token, the integration must be reconnected",
				"code", rerr.Code, "error", err)
			if clearErr := m.clearTokens(ctx, cred); clearErr != nil {
				m.logger.Error("failed to clear rejected tokens", "error", clearErr)
			}
			return nil, ErrReauthorizationRequired
		}
		telemetry.TokenRefreshesTotal.WithLabelValues(trigger, "transient_failure").Inc()
		return nil, err
	}

	cred.AccessToken = ts.AccessToken
	cred.RefreshToken = ts.RefreshToken
	cred.ExpiresAt = ts.ExpiresAt
	cred.RefreshExpiresAt = ts.RefreshExpiresAt
	cred.Legacy = false
	cred.RefreshFailCount = 0

	if err := m.store.Update(ctx, cred); err != nil {
		if errors.Is(err, ErrStaleCredential) {
			telemetry.TokenRefreshesTotal.WithLabelValues(trigger, "conflict").Inc()
			m.logger.Warn("credential was rotated by another process during refresh, using theirs")
			return m.store.Load(ctx)
		}
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	telemetry.TokenRefreshesTotal.WithLabelValues(trigger, "success").Inc()
	return cred, nil
}

// CheckAndRefresh is the scheduled sweep. It renews the credential when the
// access token is inside the proactive window and never returns an error:
// failures are logged, counted on the credential for operator display and
// retried on the next tick.
func (m *CredentialManager) CheckAndRefresh(ctx context.Context) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("scheduled refresh could not load the credential", "error", err)
		return
	}
	status := DeriveStatus(cred, time.Now())
	if status != StatusExpiring && status != StatusExpiredRecoverable {
		return
	}

	if _, err := m.refresh(ctx, cred, triggerScheduled); err != nil {
		var rerr *accounting.RefreshError
		if errors.As(err, &rerr) && !rerr.Permanent {
			m.bumpFailCount(ctx, cred)
		}
		m.logger.Error("scheduled token refresh failed",
			"status", string(status), "fail_count", cred.RefreshFailCount, "error", err)
		return
	}
	m.logger.Info("scheduled token refresh succeeded", "status_was", string(status))
}

// MigrateLegacy converts a pre-OAuth access token into a refreshable grant.
// One-shot: the provider forgets the legacy token on success, so the result is
// persisted before this returns. Rejected when the stored credential is
// already refreshable.
func (m *CredentialManager) MigrateLegacy(ctx context.Context, p MigrateParams) error {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		cred = &accounting.Credential{}
	}
	if cred.HasRefreshToken() && !cred.Legacy {
		return ErrAlreadyMigrated
	}
	if p.ClientID == "" {
		p.ClientID = cred.ClientID
	}
	if p.ClientSecret == "" {
		p.ClientSecret = cred.ClientSecret
	}
	if p.AccessToken == "" {
		p.AccessToken = cred.AccessToken
	}
	if p.ClientID == "" || p.ClientSecret == "" || p.AccessToken == "" {
		return errors.New("legacy migration requires a client id, client secret and access token")
	}

	ts, err := m.tokens.MigrateLegacyToken(ctx, p.ClientID, p.ClientSecret, p.AccessToken)
	if err != nil {
		return err
	}

	cred.ClientID = p.ClientID
	cred.ClientSecret = p.ClientSecret
	cred.AccessToken = ts.AccessToken
	cred.RefreshToken = ts.RefreshToken
	cred.ExpiresAt = ts.ExpiresAt
	cred.RefreshExpiresAt = ts.RefreshExpiresAt
	cred.Legacy = false
	cred.RefreshFailCount = 0
	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("store migrated credential: %w", err)
	}
	m.logger.Info("legacy token migrated to a refreshable grant")
	return nil
}

// Disconnect deletes the stored credential.
func (m *CredentialManager) Disconnect(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.logger.Info("accounting integration disconnected")
	return nil
}

// Token implements accounting.TokenSource.
func (m *CredentialManager) Token(ctx context.Context) (string, error) {
	cred, err := m.ValidCredential(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", accounting.ErrNotConnected
	}
	return cred.AccessToken, nil
}

// ForceRefresh implements accounting.TokenSource. The provider just rejected
// the current token, so handing back a stale one is useless: legacy
// credentials fail here instead of degrading.
func (m *CredentialManager) ForceRefresh(ctx context.Context) (string, error) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil || !cred.HasAccessToken() {
		return "", accounting.ErrNotConnected
	}
	if cred.Legacy || !cred.HasRefreshToken() {
		return "", errors.New("the stored access token was rejected and cannot be refreshed, migrate or reconnect the integration")
	}
	fresh, err := m.refresh(ctx, cred, triggerUnauthorizedRetry)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "", accounting.ErrNotConnected
	}
	return fresh.AccessToken, nil
}

// clearTokens strips the token material but keeps the app credentials so a
// reconnect does not need the client id and secret re-entered. A concurrent
// writer beating the update is left alone; their state wins.
func (m *CredentialManager) clearTokens(ctx context.Context, cred *accounting.Credential) error {
	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.ExpiresAt = 0
	cred.RefreshExpiresAt = 0
	cred.Legacy = false
	if err := m.store.Update(ctx, cred); err != nil {
		if errors.Is(err, ErrStaleCredential) {
			return nil
		}
		return err
	}
	return nil
}

// bumpFailCount records one more consecutive scheduled-refresh failure. The
// counter is display only; a lost increment is not worth a retry.
func (m *CredentialManager) bumpFailCount(ctx context.Context, cred *accounting.Credential) {
	cred.RefreshFailCount++
	if err := m.store.Update(ctx, cred); err != nil {
		m.logger.Debug("could not persist refresh fail count", "error", err)
	}
}
