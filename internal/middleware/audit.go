// audit.go provides Gin middleware that records authenticated write operations to the audit
// log, with optional shipping to external audit destinations.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/audit"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// auditWriteTimeout bounds the background database write and external
// shipping for a single request's trail entry.
const auditWriteTimeout = 5 * time.Second

// AuditMiddleware records successful write operations to the database trail
// only, with no external shipping. Minimal mode for deployments without an
// audit section in their config.
func AuditMiddleware(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil, nil)
}

// AuditMiddlewareWithShipper records requests to the database trail and, when
// a shipper is supplied, forwards each record to the configured external
// destinations. Persistence happens off the request goroutine, so a slow
// trail never slows responses.
func AuditMiddlewareWithShipper(auditRepo *repositories.AuditRepository, shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}
		status := c.Writer.Status()
		if !shouldRecord(auditCfg, c.Request.Method, status) {
			return
		}

		action, resource := classify(c.Request.Method, c.Request.URL.Path)
		ip := c.ClientIP()

		record := &models.AuditLog{
			Action:    action,
			IPAddress: &ip,
			CreatedAt: time.Now(),
			Metadata:  map[string]any{"status_code": status},
		}
		if resource != "" {
			record.ResourceType = &resource
		}

		var userID string
		if v, ok := c.Get("user_id"); ok {
			if uid, ok := v.(uuid.UUID); ok && uid != uuid.Nil {
				userID = uid.String()
				record.UserID = &userID
			}
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()

			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, record); err != nil {
					slog.Error("audit trail write failed", "action", record.Action, "error", err)
				}
			}

			if shipper != nil {
				entry := &audit.LogEntry{
					Timestamp:    record.CreatedAt,
					Action:       record.Action,
					UserID:       userID,
					ResourceType: resource,
					IPAddress:    ip,
					StatusCode:   status,
					Metadata:     record.Metadata,
				}
				if err := shipper.Ship(ctx, entry); err != nil {
					slog.Warn("audit shipping failed", "action", record.Action, "error", err)
				}
			}
		}()
	}
}

// shouldRecord decides whether a finished request belongs in the audit
// trail. Write operations are always recorded once an audit config exists,
// failures included, since attempted writes are exactly what auditors ask
// about. Reads are recorded only when configured, and failed reads
// additionally require LogFailedRequests. Without a config only successful
// writes are kept.
func shouldRecord(cfg *config.AuditConfig, method string, status int) bool {
	isRead := method == http.MethodGet
	failed := status >= 400

	if cfg == nil {
		return !isRead && !failed
	}
	if isRead {
		if !cfg.LogReadOperations {
			return false
		}
		if failed && !cfg.LogFailedRequests {
			return false
		}
	}
	return true
}

// resourceFamilies maps a path fragment to the audited resource type. First
// match wins.
var resourceFamilies = []struct {
	fragment string
	resource string
}{
	{"/integration", "integration"},
	{"/invoices", "invoice"},
	{"/clients", "client"},
	{"/products", "product"},
	{"/time-entries", "time_entry"},
	{"/users", "user"},
	{"/auth", "session"},
}

// classify names the audited action and resource for a request. Most
// requests keep the generic "METHOD /path" form; the lifecycle steps that
// auditors search for by name (logins, integration changes, invoice exports)
// get stable identifiers instead.
func classify(method, path string) (action, resource string) {
	action = method + " " + path

	for _, rf := range resourceFamilies {
		if strings.Contains(path, rf.fragment) {
			resource = rf.resource
			break
		}
	}

	switch resource {
	case "integration":
		switch {
		case strings.Contains(path, "/connect"):
			action = "integration.connect"
		case strings.Contains(path, "/callback"):
			action = "integration.callback"
		case strings.Contains(path, "/refresh"):
			action = "integration.refresh_triggered"
		case strings.Contains(path, "/migrate"):
			action = "integration.migrate"
		case method == http.MethodDelete:
			action = "integration.disconnect"
		}
	case "invoice":
		if method == http.MethodPost && strings.Contains(path, "/export") {
			action = "invoice.export"
		}
	case "session":
		if method == http.MethodPost && strings.Contains(path, "/login") {
			action = "auth.login"
		}
	}
	return action, resource
}
