// Package billing implements HTTP handlers for the billing domain: the
// clients time is tracked against, the product catalog, logged time entries
// and the invoice export pipeline.
package billing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
	"github.com/chronobill/chronobill/internal/validation"
)

// ClientHandlers handles client endpoints
type ClientHandlers struct {
	clientRepo *repositories.ClientRepository
}

// NewClientHandlers creates a new ClientHandlers instance
func NewClientHandlers(clientRepo *repositories.ClientRepository) *ClientHandlers {
	return &ClientHandlers{clientRepo: clientRepo}
}

// @Summary      List clients
// @Description  Lists clients ordered by name. Archived clients are excluded unless include_archived=true.
// @Tags         Clients
// @Security     Bearer
// @Produce      json
// @Param        include_archived  query  bool  false  "Include archived clients"
// @Success      200  {object}  map[string]interface{}  "clients"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/clients [get]
// ListClients lists clients
// GET /api/v1/clients
func (h *ClientHandlers) ListClients(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"

	clients, err := h.clientRepo.ListClients(c.Request.Context(), includeArchived)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list clients: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// @Summary      Get client
// @Description  Retrieves a single client by ID.
// @Tags         Clients
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Client ID"
// @Success      200  {object}  map[string]interface{}  "client"
// @Failure      400  {object}  map[string]interface{}  "Invalid client ID"
// @Failure      404  {object}  map[string]interface{}  "Client not found"
// @Router       /api/v1/clients/{id} [get]
// GetClient retrieves one client
// GET /api/v1/clients/:id
func (h *ClientHandlers) GetClient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID"})
		return
	}

	client, err := h.clientRepo.GetClient(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get client: " + err.Error()})
		return
	}
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"client": client})
}

// @Summary      Create client
// @Description  Creates a new client. Requires the admin role.
// @Tags         Clients
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  models.ClientInput  true  "Client fields"
// @Success      201  {object}  map[string]interface{}  "client"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/clients [post]
// CreateClient creates a client
// POST /api/v1/clients
func (h *ClientHandlers) CreateClient(c *gin.Context) {
	var input models.ClientInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The org number keys provider customer lookups during export, so it is
	// normalised to the bare ten-digit form before it ever hits the database.
	orgNumber, err := validation.NormalizeOrgNumber(input.OrgNumber)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organisation number: " + err.Error()})
		return
	}

	client := &models.Client{
		Name:       input.Name,
		OrgNumber:  orgNumber,
		Email:      input.Email,
		HourlyRate: input.HourlyRate,
	}
	if err := h.clientRepo.CreateClient(c.Request.Context(), client); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create client: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"client": client})
}

// @Summary      Update client
// @Description  Updates a client's editable fields. The provider customer number and the archived flag are managed elsewhere. Requires the admin role.
// @Tags         Clients
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string              true  "Client ID"
// @Param        body  body  models.ClientInput  true  "Client fields"
// @Success      200  {object}  map[string]interface{}  "client"
// @Failure      400  {object}  map[string]interface{}  "Invalid ID or request body"
// @Failure      404  {object}  map[string]interface{}  "Client not found"
// @Router       /api/v1/clients/{id} [put]
// UpdateClient updates a client
// PUT /api/v1/clients/:id
func (h *ClientHandlers) UpdateClient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID"})
		return
	}

	var input models.ClientInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orgNumber, err := validation.NormalizeOrgNumber(input.OrgNumber)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organisation number: " + err.Error()})
		return
	}

	client, err := h.clientRepo.GetClient(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get client: " + err.Error()})
		return
	}
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}

	client.Name = input.Name
	client.OrgNumber = orgNumber
	client.Email = input.Email
	client.HourlyRate = input.HourlyRate

	if err := h.clientRepo.UpdateClient(c.Request.Context(), client); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update client: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"client": client})
}

// @Summary      Archive client
// @Description  Hides a client from listings without deleting its history. Existing invoices and time entries are kept. Requires the admin role.
// @Tags         Clients
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Client ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid client ID"
// @Failure      404  {object}  map[string]interface{}  "Client not found"
// @Router       /api/v1/clients/{id} [delete]
// ArchiveClient archives a client
// DELETE /api/v1/clients/:id
func (h *ClientHandlers) ArchiveClient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID"})
		return
	}

	client, err := h.clientRepo.GetClient(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get client: " + err.Error()})
		return
	}
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}

	if err := h.clientRepo.ArchiveClient(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive client: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Client archived successfully"})
}
