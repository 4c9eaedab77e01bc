// time_entries.go implements handlers for logged work. Members manage their
// own entries; admins manage everyone's. Invoiced entries are immutable.
package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
)

// TimeEntryHandlers handles time entry endpoints
type TimeEntryHandlers struct {
	entryRepo   *repositories.TimeEntryRepository
	clientRepo  *repositories.ClientRepository
	productRepo *repositories.ProductRepository
}

// NewTimeEntryHandlers creates a new TimeEntryHandlers instance
func NewTimeEntryHandlers(entryRepo *repositories.TimeEntryRepository, clientRepo *repositories.ClientRepository, productRepo *repositories.ProductRepository) *TimeEntryHandlers {
	return &TimeEntryHandlers{
		entryRepo:   entryRepo,
		clientRepo:  clientRepo,
		productRepo: productRepo,
	}
}

// currentUser returns the session user placed in the context by the auth
// middleware.
func currentUser(c *gin.Context) *models.User {
	userVal, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, ok := userVal.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// validateEntryShape checks the timed-or-itemized rule. An entry is either a
// started/ended pair or a quantity, never both, never neither. Returns an
// empty string when valid.
func validateEntryShape(input *models.TimeEntryInput) string {
	if (input.StartedAt != nil) != (input.EndedAt != nil) {
		return "started_at and ended_at must be set together"
	}
	timed := input.StartedAt != nil && input.EndedAt != nil
	if timed && input.Quantity != nil {
		return "set either started_at/ended_at or quantity, not both"
	}
	if !timed && input.Quantity == nil {
		return "either started_at/ended_at or quantity is required"
	}
	if timed && !input.EndedAt.After(*input.StartedAt) {
		return "ended_at must be after started_at"
	}
	if input.Quantity != nil && *input.Quantity <= 0 {
		return "quantity must be positive"
	}
	return ""
}

// checkReferences verifies the client and product an entry points at are
// usable: both exist, the client is not archived and the product is not
// deleted. Returns an error message or an empty string.
func (h *TimeEntryHandlers) checkReferences(c *gin.Context, clientID, productID uuid.UUID) (string, error) {
	client, err := h.clientRepo.GetClient(c.Request.Context(), clientID)
	if err != nil {
		return "", err
	}
	if client == nil {
		return "Unknown client", nil
	}
	if client.Archived {
		return "Client is archived", nil
	}

	product, err := h.productRepo.GetProduct(c.Request.Context(), productID)
	if err != nil {
		return "", err
	}
	if product == nil {
		return "Unknown product", nil
	}
	if product.Deleted() {
		return "Product has been deleted", nil
	}
	return "", nil
}

// @Summary      List time entries
// @Description  Lists time entries newest first with optional filters.
// @Tags         TimeEntries
// @Security     Bearer
// @Produce      json
// @Param        client_id   query  string  false  "Filter by client"
// @Param        user_id     query  string  false  "Filter by user"
// @Param        invoiced    query  bool    false  "Filter by invoiced flag"
// @Param        start_date  query  string  false  "Only entries created at or after this RFC3339 timestamp"
// @Param        end_date    query  string  false  "Only entries created at or before this RFC3339 timestamp"
// @Param        limit       query  int     false  "Page size (default 50, max 200)"
// @Param        offset      query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "time_entries"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter value"
// @Router       /api/v1/time-entries [get]
// ListTimeEntries lists time entries
// GET /api/v1/time-entries
func (h *TimeEntryHandlers) ListTimeEntries(c *gin.Context) {
	var filters repositories.TimeEntryFilters

	if v := c.Query("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client_id filter"})
			return
		}
		filters.ClientID = &id
	}
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id filter"})
			return
		}
		filters.UserID = &id
	}
	if v := c.Query("invoiced"); v != "" {
		invoiced, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoiced filter"})
			return
		}
		filters.Invoiced = &invoiced
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

	entries, err := h.entryRepo.ListTimeEntries(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list time entries: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"time_entries": entries})
}

// @Summary      Get time entry
// @Description  Retrieves a single time entry by ID.
// @Tags         TimeEntries
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Time entry ID"
// @Success      200  {object}  map[string]interface{}  "time_entry"
// @Failure      400  {object}  map[string]interface{}  "Invalid time entry ID"
// @Failure      404  {object}  map[string]interface{}  "Time entry not found"
// @Router       /api/v1/time-entries/{id} [get]
// GetTimeEntry retrieves one time entry
// GET /api/v1/time-entries/:id
func (h *TimeEntryHandlers) GetTimeEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time entry ID"})
		return
	}

	entry, err := h.entryRepo.GetTimeEntry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get time entry: " + err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Time entry not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"time_entry": entry})
}

// @Summary      Create time entry
// @Description  Logs work for the session user. Either started_at/ended_at or quantity must be set, not both.
// @Tags         TimeEntries
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  models.TimeEntryInput  true  "Time entry fields"
// @Success      201  {object}  map[string]interface{}  "time_entry"
// @Failure      400  {object}  map[string]interface{}  "Invalid body, unknown client or product"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/time-entries [post]
// CreateTimeEntry logs work for the session user
// POST /api/v1/time-entries
func (h *TimeEntryHandlers) CreateTimeEntry(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.TimeEntryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := validateEntryShape(&input); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	msg, err := h.checkReferences(c, input.ClientID, input.ProductID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate references: " + err.Error()})
		return
	}
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	entry := &models.TimeEntry{
		ClientID:      input.ClientID,
		ProductID:     input.ProductID,
		UserID:        user.ID,
		Description:   input.Description,
		StartedAt:     input.StartedAt,
		EndedAt:       input.EndedAt,
		Quantity:      input.Quantity,
		PriceOverride: input.PriceOverride,
	}
	if err := h.entryRepo.CreateTimeEntry(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create time entry: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"time_entry": entry})
}

// @Summary      Update time entry
// @Description  Updates an un-invoiced time entry. Members may only update their own entries; admins may update anyone's.
// @Tags         TimeEntries
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                 true  "Time entry ID"
// @Param        body  body  models.TimeEntryInput  true  "Time entry fields"
// @Success      200  {object}  map[string]interface{}  "time_entry"
// @Failure      400  {object}  map[string]interface{}  "Invalid ID or body"
// @Failure      403  {object}  map[string]interface{}  "Not the entry's owner"
// @Failure      404  {object}  map[string]interface{}  "Time entry not found"
// @Failure      409  {object}  map[string]interface{}  "Entry has been invoiced"
// @Router       /api/v1/time-entries/{id} [put]
// UpdateTimeEntry updates an un-invoiced entry
// PUT /api/v1/time-entries/:id
func (h *TimeEntryHandlers) UpdateTimeEntry(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time entry ID"})
		return
	}

	var input models.TimeEntryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := validateEntryShape(&input); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	entry, err := h.entryRepo.GetTimeEntry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get time entry: " + err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Time entry not found"})
		return
	}
	if entry.Invoiced {
		c.JSON(http.StatusConflict, gin.H{"error": "Time entry has been invoiced and can no longer be changed"})
		return
	}
	if !user.IsAdmin() && entry.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only modify your own time entries"})
		return
	}

	msg, err := h.checkReferences(c, input.ClientID, input.ProductID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate references: " + err.Error()})
		return
	}
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	entry.ClientID = input.ClientID
	entry.ProductID = input.ProductID
	entry.Description = input.Description
	entry.StartedAt = input.StartedAt
	entry.EndedAt = input.EndedAt
	entry.Quantity = input.Quantity
	entry.PriceOverride = input.PriceOverride

	if err := h.entryRepo.UpdateTimeEntry(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update time entry: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"time_entry": entry})
}

// @Summary      Delete time entry
// @Description  Deletes an un-invoiced time entry. Members may only delete their own entries; admins may delete anyone's.
// @Tags         TimeEntries
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Time entry ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid time entry ID"
// @Failure      403  {object}  map[string]interface{}  "Not the entry's owner"
// @Failure      404  {object}  map[string]interface{}  "Time entry not found"
// @Failure      409  {object}  map[string]interface{}  "Entry has been invoiced"
// @Router       /api/v1/time-entries/{id} [delete]
// DeleteTimeEntry deletes an un-invoiced entry
// DELETE /api/v1/time-entries/:id
func (h *TimeEntryHandlers) DeleteTimeEntry(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time entry ID"})
		return
	}

	entry, err := h.entryRepo.GetTimeEntry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get time entry: " + err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Time entry not found"})
		return
	}
	if entry.Invoiced {
		c.JSON(http.StatusConflict, gin.H{"error": "Time entry has been invoiced and can no longer be deleted"})
		return
	}
	if !user.IsAdmin() && entry.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own time entries"})
		return
	}

	if err := h.entryRepo.DeleteTimeEntry(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete time entry: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Time entry deleted successfully"})
}
