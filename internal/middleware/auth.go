// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Roles → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user identity; role checks read from that context.
// Audit logging runs after the role check so only successfully authorized
// mutations are recorded as successful actions.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/auth"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// bearerToken extracts the session token from the Authorization header. ok is
// false when the header is absent, carries another scheme, or holds nothing
// after the scheme.
func bearerToken(c *gin.Context) (string, bool) {
	raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found {
		return "", false
	}
	token := strings.TrimSpace(raw)
	return token, token != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// AuthMiddleware validates the session token and loads the account behind it.
//
// ChronoBill sessions are always JWTs issued by our own TokenManager, whether
// the user logged in with a password or through OIDC. The user row is loaded
// on every request so a deleted or demoted account loses access immediately,
// not when its token expires.
func AuthMiddleware(tokens *auth.TokenManager, userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "A bearer session token is required")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			unauthorized(c, "Invalid credentials")
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			unauthorized(c, "Invalid credentials")
			return
		}

		user, err := userRepo.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			unauthorized(c, "User not found")
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}
