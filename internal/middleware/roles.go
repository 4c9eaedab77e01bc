// Package middleware (roles.go) implements role-based authorization.
//
// The role is read from the user row loaded by AuthMiddleware, not from the
// JWT claim. When an admin demotes an account, the change takes effect on the
// user's next request without needing to invalidate or reissue their token.

package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/db/models"
)

// contextUser returns the user row AuthMiddleware stored on the request.
func contextUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get("user")
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// RequireRole lets the request through when the authenticated user holds any
// of the given roles, and answers 403 otherwise.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := contextUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Authentication required",
			})
			return
		}
		if !slices.Contains(roles, user.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient role",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin restricts the route to administrator accounts. Integration
// management and user administration sit behind this gate.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}
