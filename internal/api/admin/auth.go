// Package admin implements the administrative HTTP surface: password and
// OIDC single sign-on login, session introspection and audit trail reads.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/auth"
	"github.com/chronobill/chronobill/internal/auth/oidc"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// stateTTL bounds how long a login attempt may sit between the redirect to
// the identity provider and the callback.
const stateTTL = 5 * time.Minute

// AuthHandlers serves password login, the OIDC single sign-on flow and
// session introspection.
type AuthHandlers struct {
	cfg      *config.Config
	tokens   *auth.TokenManager
	userRepo *repositories.UserRepository
	sso      *oidc.Authenticator // nil when OIDC is disabled

	mu      sync.Mutex
	pending map[string]time.Time // login states awaiting the IdP callback
}

// NewAuthHandlers wires the authentication endpoints. When OIDC is enabled
// this runs issuer discovery, so the identity provider must be reachable at
// startup.
func NewAuthHandlers(cfg *config.Config, tokens *auth.TokenManager, userRepo *repositories.UserRepository) (*AuthHandlers, error) {
	h := &AuthHandlers{
		cfg:      cfg,
		tokens:   tokens,
		userRepo: userRepo,
		pending:  make(map[string]time.Time),
	}

	if cfg.Auth.OIDC.Enabled {
		sso, err := oidc.NewAuthenticator(context.Background(), &cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("initializing single sign-on: %w", err)
		}
		h.sso = sso
	}

	return h, nil
}

// newState returns a 256-bit random CSRF token for the login round-trip.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// storeState records a pending login and sweeps expired ones so abandoned
// attempts cannot pile up.
func (h *AuthHandlers) storeState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s, started := range h.pending {
		if time.Since(started) > stateTTL {
			delete(h.pending, s)
		}
	}
	h.pending[state] = time.Now()
}

// consumeState redeems a login state. Each state works exactly once, and
// only within stateTTL of being issued.
func (h *AuthHandlers) consumeState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	started, ok := h.pending[state]
	if !ok {
		return false
	}
	delete(h.pending, state)
	return time.Since(started) <= stateTTL
}

// issueSession answers a successful authentication with a signed session
// token and the user profile.
func (h *AuthHandlers) issueSession(c *gin.Context, user *models.User) {
	token, expiresAt, err := h.tokens.Issue(user.ID.String(), user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate session token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user":       user,
	})
}

// loginRequest is the password login payload
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Password login
// @Description  Authenticates a user by email and password and returns a session token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        credentials  body  object  true  "email and password"
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      400  {object}  map[string]interface{}  "Malformed request body"
// @Failure      401  {object}  map[string]interface{}  "Invalid email or password"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates a local (password) user
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
			return
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up user"})
			return
		}

		// Unknown email, SSO-only account and wrong password all answer the
		// same way, so the endpoint cannot be used to probe for accounts.
		if user == nil || user.PasswordHash == "" || !auth.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}

		h.issueSession(c, user)
	}
}

// @Summary      Current user
// @Description  Returns the authenticated user's profile.
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/me [get]
// MeHandler returns the session's user
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userVal, exists := c.Get("user")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		user, ok := userVal.(*models.User)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user in context"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// @Summary      Initiate OIDC login
// @Description  Redirects the browser to the configured identity provider to begin single sign-on.
// @Tags         Authentication
// @Produce      json
// @Success      302  {object}  string  "Redirect to the identity provider"
// @Failure      400  {object}  map[string]interface{}  "OIDC is not configured"
// @Router       /api/v1/auth/oidc/login [get]
// OIDCLoginHandler starts the OIDC login flow
// GET /api/v1/auth/oidc/login
func (h *AuthHandlers) OIDCLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sso == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "OIDC is not configured"})
			return
		}

		state, err := newState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate state"})
			return
		}
		h.storeState(state)

		c.Redirect(http.StatusFound, h.sso.AuthCodeURL(state))
	}
}

// @Summary      OIDC callback
// @Description  Completes single sign-on: verifies the ID token, provisions the user and returns a session token.
// @Tags         Authentication
// @Produce      json
// @Param        code   query  string  true  "Authorization code from the identity provider"
// @Param        state  query  string  true  "State echoed back from the login redirect"
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      400  {object}  map[string]interface{}  "Invalid or expired state"
// @Failure      401  {object}  map[string]interface{}  "Code exchange or ID token verification failed"
// @Router       /api/v1/auth/oidc/callback [get]
// OIDCCallbackHandler completes the OIDC login flow
// GET /api/v1/auth/oidc/callback?code=...&state=...
func (h *AuthHandlers) OIDCCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sso == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "OIDC is not configured"})
			return
		}

		if !h.consumeState(c.Query("state")) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired login state. Please try again."})
			return
		}

		ctx := c.Request.Context()
		idToken, err := h.sso.Authenticate(ctx, c.Query("code"))
		if err != nil {
			slog.Warn("single sign-on callback rejected", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Single sign-on failed"})
			return
		}

		ident, err := h.sso.ExtractIdentity(idToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "The ID token is missing required claims"})
			return
		}

		user, err := h.userRepo.GetOrCreateUserFromOIDC(ctx, ident.Subject, ident.Email, ident.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up or create your account"})
			return
		}

		// Group-based role mapping only runs when admin_groups is configured.
		// A nil slice means the IdP omitted the claim entirely; the stored
		// role is left alone rather than demoted on missing data.
		if len(h.cfg.Auth.OIDC.AdminGroups) > 0 {
			if groups := h.sso.Groups(idToken, h.cfg.Auth.OIDC.GroupClaimName); groups != nil {
				if role := h.roleForGroups(groups); role != user.Role {
					user.Role = role
					if err := h.userRepo.UpdateUser(ctx, user); err != nil {
						c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user role"})
						return
					}
				}
			}
		}

		h.issueSession(c, user)
	}
}

// roleForGroups maps IdP group membership onto a role: membership in any
// configured admin group grants admin, everything else is a regular member.
func (h *AuthHandlers) roleForGroups(groups []string) string {
	for _, g := range groups {
		if slices.Contains(h.cfg.Auth.OIDC.AdminGroups, g) {
			return models.RoleAdmin
		}
	}
	return models.RoleMember
}
