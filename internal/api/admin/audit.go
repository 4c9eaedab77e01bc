// audit.go implements the admin endpoint for reading the audit trail. The
// trail itself is written by the audit middleware; this is the only way to
// get it back out over HTTP.

package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/db/repositories"
)

// AuditHandlers handles audit trail endpoints
type AuditHandlers struct {
	auditRepo *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(auditRepo *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{auditRepo: auditRepo}
}

// @Summary      List audit log entries
// @Description  Lists recorded audit events newest first with optional filters. Admin only.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id        query  string  false  "Filter by acting user"
// @Param        action         query  string  false  "Filter by action, e.g. invoice.export"
// @Param        resource_type  query  string  false  "Filter by resource type"
// @Param        start_date     query  string  false  "Only events at or after this RFC3339 timestamp"
// @Param        end_date       query  string  false  "Only events at or before this RFC3339 timestamp"
// @Param        limit          query  int     false  "Page size (default 50, max 200)"
// @Param        offset         query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "audit_logs, total"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter value"
// @Router       /api/v1/audit-logs [get]
// ListAuditLogs lists audit trail entries
// GET /api/v1/audit-logs
func (h *AuditHandlers) ListAuditLogs(c *gin.Context) {
	var filters repositories.AuditFilters

	if v := c.Query("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be an RFC3339 timestamp"})
			return
		}
		filters.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be an RFC3339 timestamp"})
			return
		}
		filters.EndDate = &t
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be zero or positive"})
		return
	}

	logs, total, err := h.auditRepo.ListAuditLogs(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_logs": logs, "total": total})
}
