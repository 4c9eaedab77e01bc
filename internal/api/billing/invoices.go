// invoices.go implements handlers for the local invoice mirror and the export
// pipeline. Export failures map onto distinct response codes so the caller
// can tell a retryable failure from one that needs a reconnect or manual
// repair.
package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/db/repositories"
	"github.com/chronobill/chronobill/internal/services"
)

// ExporterInterface defines the interface for running invoice exports
type ExporterInterface interface {
	Export(ctx context.Context, req services.ExportRequest) (*models.Invoice, error)
}

// InvoiceHandlers handles invoice endpoints
type InvoiceHandlers struct {
	invoiceRepo *repositories.InvoiceRepository
	exporter    ExporterInterface
}

// NewInvoiceHandlers creates a new InvoiceHandlers instance
func NewInvoiceHandlers(invoiceRepo *repositories.InvoiceRepository, exporter ExporterInterface) *InvoiceHandlers {
	return &InvoiceHandlers{
		invoiceRepo: invoiceRepo,
		exporter:    exporter,
	}
}

// @Summary      List invoices
// @Description  Lists exported invoices newest first, optionally for a single client.
// @Tags         Invoices
// @Security     Bearer
// @Produce      json
// @Param        client_id  query  string  false  "Filter by client"
// @Param        limit      query  int     false  "Page size (default 50, max 200)"
// @Param        offset     query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "invoices"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter value"
// @Router       /api/v1/invoices [get]
// ListInvoices lists exported invoices
// GET /api/v1/invoices
func (h *InvoiceHandlers) ListInvoices(c *gin.Context) {
	var clientID *uuid.UUID
	if v := c.Query("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client_id filter"})
			return
		}
		clientID = &id
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

	invoices, err := h.invoiceRepo.ListInvoices(c.Request.Context(), clientID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invoices: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// @Summary      Get invoice
// @Description  Retrieves a single exported invoice by ID.
// @Tags         Invoices
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Invoice ID"
// @Success      200  {object}  map[string]interface{}  "invoice"
// @Failure      400  {object}  map[string]interface{}  "Invalid invoice ID"
// @Failure      404  {object}  map[string]interface{}  "Invoice not found"
// @Router       /api/v1/invoices/{id} [get]
// GetInvoice retrieves one invoice
// GET /api/v1/invoices/:id
func (h *InvoiceHandlers) GetInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID"})
		return
	}

	invoice, err := h.invoiceRepo.GetInvoice(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get invoice: " + err.Error()})
		return
	}
	if invoice == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": invoice})
}

// @Summary      Export an invoice
// @Description  Turns a set of un-invoiced time entries into a provider invoice and records the local mirror. A reconciliation failure means the provider invoice exists; do not retry it, repair the local books instead. Requires the admin role.
// @Tags         Invoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.ExportRequest  true  "client_id and time_entry_ids"
// @Success      201  {object}  map[string]interface{}  "invoice"
// @Failure      400  {object}  map[string]interface{}  "Invalid request: unknown, foreign or already-invoiced entries"
// @Failure      409  {object}  map[string]interface{}  "Integration not connected or reauthorization required"
// @Failure      422  {object}  map[string]interface{}  "Provider rejected the invoice payload"
// @Failure      500  {object}  map[string]interface{}  "Reconciliation failed; provider invoice exists"
// @Failure      502  {object}  map[string]interface{}  "Provider unreachable or returned an unexpected error"
// @Router       /api/v1/invoices/export [post]
// ExportInvoice runs the invoice export pipeline
// POST /api/v1/invoices/export
func (h *InvoiceHandlers) ExportInvoice(c *gin.Context) {
	var req services.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Malformed request body: " + err.Error(),
			"code":  "invalid_request",
		})
		return
	}

	invoice, err := h.exporter.Export(c.Request.Context(), req)
	if err != nil {
		h.exportError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"invoice": invoice})
}

// exportError maps pipeline failures onto response codes. The one that must
// never be retried blindly is the reconciliation failure: the provider
// invoice exists, only the local mirror write failed.
func (h *InvoiceHandlers) exportError(c *gin.Context, err error) {
	var invalidErr *services.InvalidExportRequestError
	if errors.As(err, &invalidErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": invalidErr.Reason,
			"code":  "invalid_request",
		})
		return
	}

	if errors.Is(err, accounting.ErrNotConnected) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "The accounting integration is not connected",
			"code":  "not_connected",
		})
		return
	}

	if errors.Is(err, services.ErrReauthorizationRequired) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "The accounting authorization is no longer valid. Reconnect the integration.",
			"code":  "reauthorization_required",
		})
		return
	}

	var validationErr *accounting.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "The provider rejected the invoice: " + validationErr.Message,
			"code":  "provider_validation",
		})
		return
	}

	var reconErr *services.ReconciliationError
	if errors.As(err, &reconErr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":           "The provider invoice was created but recording it locally failed. Do not retry this export; repair the local records instead.",
			"code":            "reconciliation_failed",
			"external_number": reconErr.ExternalNumber,
			"entry_ids":       reconErr.EntryIDs,
		})
		return
	}

	c.JSON(http.StatusBadGateway, gin.H{
		"error": "Export failed at the provider: " + err.Error(),
		"code":  "provider_error",
	})
}
