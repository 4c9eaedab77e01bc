// Package integration implements HTTP handlers for the accounting provider
// connection: the OAuth connect flow, status reporting, on-demand refresh,
// legacy token migration and disconnect.
package integration

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/accounting/fortnox"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/services"
)

// stateTTL bounds how long the admin's browser may take between the redirect
// to the provider and the callback.
const stateTTL = 5 * time.Minute

// Handlers handles accounting integration endpoints
type Handlers struct {
	cfg     *config.Config
	manager *services.CredentialManager
	oauth   *fortnox.OAuthClient

	mu     sync.Mutex
	states map[string]time.Time // In-memory for MVP; use Redis in production
}

// NewHandlers creates a new integration Handlers instance
func NewHandlers(cfg *config.Config, manager *services.CredentialManager, oauth *fortnox.OAuthClient) *Handlers {
	return &Handlers{
		cfg:     cfg,
		manager: manager,
		oauth:   oauth,
		states:  make(map[string]time.Time),
	}
}

// redirectURI is the callback URL registered with the provider. It must match
// on both the authorization redirect and the code exchange.
func (h *Handlers) redirectURI() string {
	return h.cfg.Fortnox.GetRedirectURL(&h.cfg.Server)
}

func (h *Handlers) newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)

	h.mu.Lock()
	defer h.mu.Unlock()
	for s, created := range h.states {
		if time.Since(created) > stateTTL {
			delete(h.states, s)
		}
	}
	h.states[state] = time.Now()
	return state, nil
}

// consumeState validates and removes a state. States are single-use.
func (h *Handlers) consumeState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	created, exists := h.states[state]
	if !exists {
		return false
	}
	delete(h.states, state)
	return time.Since(created) <= stateTTL
}

// statusResponse renders the derived integration state without token material.
func statusResponse(status services.IntegrationStatus, cred *accounting.Credential) gin.H {
	resp := gin.H{
		"status":                   string(status),
		"access_token_expires_at":  nil,
		"refresh_token_expires_at": nil,
		"legacy":                   false,
		"refresh_fail_count":       0,
	}
	if cred == nil {
		return resp
	}
	if cred.ExpiresAt > 0 {
		resp["access_token_expires_at"] = time.UnixMilli(cred.ExpiresAt).UTC().Format(time.RFC3339)
	}
	if cred.RefreshExpiresAt > 0 {
		resp["refresh_token_expires_at"] = time.UnixMilli(cred.RefreshExpiresAt).UTC().Format(time.RFC3339)
	}
	resp["legacy"] = cred.Legacy
	resp["refresh_fail_count"] = cred.RefreshFailCount
	return resp
}

// @Summary      Integration status
// @Description  Returns the accounting integration state, token expiry times and the consecutive refresh failure count. Token material is never exposed.
// @Tags         Integration
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, access_token_expires_at, refresh_token_expires_at, legacy, refresh_fail_count"
// @Failure      500  {object}  map[string]interface{}  "Failed to load the stored credential"
// @Router       /api/v1/integration/status [get]
// Status reports the derived integration state
// GET /api/v1/integration/status
func (h *Handlers) Status(c *gin.Context) {
	status, cred, err := h.manager.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load integration status: " + err.Error()})
		return
	}

	resp := statusResponse(status, cred)
	resp["provider"] = h.cfg.Integration.Provider
	c.JSON(http.StatusOK, resp)
}

// connectRequest carries the provider app credentials for the OAuth flow
type connectRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// @Summary      Begin provider connection
// @Description  Stores the provider app credentials and returns the authorization URL the admin's browser should visit. The flow completes at the callback endpoint.
// @Tags         Integration
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  object  true  "client_id and client_secret of the provider app"
// @Success      200  {object}  map[string]interface{}  "authorization_url, state"
// @Failure      400  {object}  map[string]interface{}  "Missing client credentials"
// @Failure      500  {object}  map[string]interface{}  "Failed to store credentials or generate state"
// @Router       /api/v1/integration/connect [post]
// Connect starts the OAuth authorization flow
// POST /api/v1/integration/connect
func (h *Handlers) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id and client_secret are required"})
		return
	}

	if err := h.manager.BeginConnect(c.Request.Context(), req.ClientID, req.ClientSecret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store provider credentials: " + err.Error()})
		return
	}

	state, err := h.newState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
		return
	}

	authURL := h.oauth.AuthorizationURL(req.ClientID, h.redirectURI(), state, h.cfg.Fortnox.Scopes)
	c.JSON(http.StatusOK, gin.H{
		"authorization_url": authURL,
		"state":             state,
	})
}

// @Summary      Provider OAuth callback
// @Description  Completes the authorization code flow. The provider redirects the admin's browser here; the one-time state parameter authenticates the request.
// @Tags         Integration
// @Produce      json
// @Param        code   query  string  true   "Authorization code from the provider"
// @Param        state  query  string  true   "State issued by the connect endpoint"
// @Param        error  query  string  false  "Error code when the admin denied authorization"
// @Success      200  {object}  map[string]interface{}  "status: connected"
// @Failure      400  {object}  map[string]interface{}  "Denied authorization, invalid state or rejected code"
// @Failure      502  {object}  map[string]interface{}  "Provider unreachable"
// @Router       /api/v1/integration/callback [get]
// Callback completes the OAuth authorization flow
// GET /api/v1/integration/callback?code=...&state=...
func (h *Handlers) Callback(c *gin.Context) {
	if errCode := c.Query("error"); errCode != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization was not granted: " + errCode})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
		return
	}
	if !h.consumeState(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired state parameter. Start the connect flow again."})
		return
	}

	err := h.manager.Connect(c.Request.Context(), services.ConnectParams{
		Code:        code,
		RedirectURI: h.redirectURI(),
	})
	if err != nil {
		var exchangeErr *accounting.AuthExchangeError
		if errors.As(err, &exchangeErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "The provider rejected the authorization code: " + exchangeErr.Message})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to complete the connection: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// @Summary      Refresh provider tokens
// @Description  Forces a token renewal outside the scheduled sweep. Legacy credentials cannot be refreshed and must be migrated first.
// @Tags         Integration
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "Updated integration status"
// @Failure      409  {object}  map[string]interface{}  "Not connected, legacy credential, or reauthorization required"
// @Failure      502  {object}  map[string]interface{}  "Provider unreachable"
// @Router       /api/v1/integration/refresh [post]
// Refresh renews the stored grant on demand
// POST /api/v1/integration/refresh
func (h *Handlers) Refresh(c *gin.Context) {
	ctx := c.Request.Context()

	status, cred, err := h.manager.Status(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load integration status: " + err.Error()})
		return
	}
	switch status {
	case services.StatusDisconnected:
		c.JSON(http.StatusConflict, gin.H{"error": "The accounting integration is not connected"})
		return
	case services.StatusConnectedLegacy:
		c.JSON(http.StatusConflict, gin.H{"error": "Legacy tokens cannot be refreshed. Migrate the integration first."})
		return
	case services.StatusExpiredUnrecoverable:
		c.JSON(http.StatusConflict, gin.H{"error": "The refresh token has expired. Reconnect the integration."})
		return
	}

	fresh, err := h.manager.Refresh(ctx, cred)
	if err != nil {
		if errors.Is(err, services.ErrReauthorizationRequired) {
			c.JSON(http.StatusConflict, gin.H{"error": "The provider rejected the refresh token. Reconnect the integration."})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Token refresh failed: " + err.Error()})
		return
	}
	if fresh == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "The accounting integration is not connected"})
		return
	}

	resp := statusResponse(services.DeriveStatus(fresh, time.Now()), fresh)
	resp["provider"] = h.cfg.Integration.Provider
	c.JSON(http.StatusOK, resp)
}

// migrateRequest carries legacy migration inputs. All fields are optional;
// blanks fall back to the stored credential.
type migrateRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccessToken  string `json:"access_token"`
}

// @Summary      Migrate a legacy token
// @Description  Converts a pre-OAuth access token into a refreshable grant. The provider invalidates the legacy token on success, so this is one-shot.
// @Tags         Integration
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  object  false  "client_id, client_secret and access_token; omitted fields fall back to the stored credential"
// @Success      200  {object}  map[string]interface{}  "status: connected"
// @Failure      400  {object}  map[string]interface{}  "Missing inputs"
// @Failure      409  {object}  map[string]interface{}  "Credential already migrated"
// @Failure      422  {object}  map[string]interface{}  "Provider permanently rejected the legacy token"
// @Failure      502  {object}  map[string]interface{}  "Provider unreachable"
// @Router       /api/v1/integration/migrate [post]
// Migrate upgrades a legacy access token to a refreshable grant
// POST /api/v1/integration/migrate
func (h *Handlers) Migrate(c *gin.Context) {
	var req migrateRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
			return
		}
	}

	err := h.manager.MigrateLegacy(c.Request.Context(), services.MigrateParams{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		AccessToken:  req.AccessToken,
	})
	if err != nil {
		if errors.Is(err, services.ErrAlreadyMigrated) {
			c.JSON(http.StatusConflict, gin.H{"error": "The integration already uses a refreshable grant"})
			return
		}
		var migErr *accounting.MigrationError
		if errors.As(err, &migErr) {
			if migErr.Terminal {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "The provider rejected the legacy token: " + migErr.Message})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "Migration failed: " + migErr.Message})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// @Summary      Disconnect the integration
// @Description  Deletes the stored credential. Existing exported invoices are unaffected.
// @Tags         Integration
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: disconnected"
// @Failure      500  {object}  map[string]interface{}  "Failed to delete the stored credential"
// @Router       /api/v1/integration [delete]
// Disconnect removes the stored provider credential
// DELETE /api/v1/integration
func (h *Handlers) Disconnect(c *gin.Context) {
	if err := h.manager.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
