// invoice_exporter.go runs the export pipeline: selected billing records go in,
// a provider invoice comes out, and every external identifier resolved along
// the way is persisted back so repeated exports reuse remote customers and
// articles instead of duplicating them.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/db/models"
	"github.com/chronobill/chronobill/internal/telemetry"
	"github.com/chronobill/chronobill/internal/validation"
)

const defaultCurrency = "SEK"

// ClientStore is the slice of the client repository the exporter needs.
type ClientStore interface {
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	SetCustomerNumber(ctx context.Context, id uuid.UUID, customerNumber string) error
}

// ProductStore is the slice of the product repository the exporter needs.
type ProductStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	SetArticleNumber(ctx context.Context, id uuid.UUID, articleNumber string) error
}

// TimeEntryStore is the slice of the time entry repository the exporter needs.
type TimeEntryStore interface {
	ListTimeEntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.TimeEntry, error)
}

// InvoiceStore persists the local invoice mirror and flips the entries it
// covers to invoiced, atomically.
type InvoiceStore interface {
	CreateInvoiceWithEntries(ctx context.Context, invoice *models.Invoice, entryIDs []uuid.UUID) error
}

// ExportArchive snapshots what was sent to and received from the provider.
// RecordReconciliationFailure captures everything a manual repair needs when
// the remote invoice exists but the local mirror write failed.
type ExportArchive interface {
	RecordExport(ctx context.Context, externalNumber string, submitted, response interface{}) (string, error)
	RecordReconciliationFailure(ctx context.Context, externalNumber string, entryIDs []uuid.UUID, cause error) (string, error)
}

// InvoiceExporter converts unbilled time entries into a provider invoice. The
// steps run strictly in order: validate, resolve customer, resolve articles,
// format, submit, archive, reconcile. There is no partial success; any failure
// before submission leaves local records untouched.
type InvoiceExporter struct {
	clients  ClientStore
	products ProductStore
	entries  TimeEntryStore
	invoices InvoiceStore
	provider accounting.Client
	archive  ExportArchive
	logger   *slog.Logger
	currency string
}

// NewInvoiceExporter creates an invoice exporter. archive may be nil when the
// export archive is disabled.
func NewInvoiceExporter(clients ClientStore, products ProductStore, entries TimeEntryStore, invoices InvoiceStore, provider accounting.Client, archive ExportArchive, logger *slog.Logger) *InvoiceExporter {
	return &InvoiceExporter{
		clients:  clients,
		products: products,
		entries:  entries,
		invoices: invoices,
		provider: provider,
		archive:  archive,
		logger:   logger.With("component", "invoice_exporter"),
		currency: defaultCurrency,
	}
}

// ExportRequest selects the unbilled entries of one client for export.
type ExportRequest struct {
	ClientID     uuid.UUID   `json:"client_id"`
	TimeEntryIDs []uuid.UUID `json:"time_entry_ids"`
}

// Export runs the pipeline and returns the local invoice mirror on success.
// A ReconciliationError means the provider invoice WAS created; callers must
// not retry the export, or the client gets billed twice.
func (e *InvoiceExporter) Export(ctx context.Context, req ExportRequest) (*models.Invoice, error) {
	start := time.Now()
	invoice, err := e.export(ctx, req)
	telemetry.InvoiceExportDuration.Observe(time.Since(start).Seconds())
	telemetry.InvoiceExportsTotal.WithLabelValues(exportOutcome(err)).Inc()
	return invoice, err
}

func (e *InvoiceExporter) export(ctx context.Context, req ExportRequest) (*models.Invoice, error) {
	client, entries, products, err := e.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	customerNumber, err := e.ensureCustomer(ctx, client)
	if err != nil {
		return nil, err
	}

	articleNumbers, err := e.ensureArticles(ctx, entries, products)
	if err != nil {
		return nil, err
	}

	draft := &accounting.InvoiceDraft{
		CustomerNumber: customerNumber,
		InvoiceDate:    time.Now().UTC().Truncate(24 * time.Hour),
		Currency:       e.currency,
		Lines:          buildLines(entries, products, articleNumbers),
	}

	created, err := e.submit(ctx, draft)
	if err != nil {
		return nil, err
	}

	// Snapshot before touching local state. Losing the snapshot is logged,
	// not fatal: the invoice already exists remotely either way.
	if e.archive != nil {
		if ref, err := e.archive.RecordExport(ctx, created.DocumentNumber, draft, created); err != nil {
			e.logger.Error("failed to archive export snapshot",
				"external_number", created.DocumentNumber, "error", err)
		} else {
			e.logger.Debug("export snapshot archived", "ref", ref)
		}
	}

	entryIDs := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		entryIDs[i] = entry.ID
	}
	invoice := &models.Invoice{
		ID:             uuid.New(),
		ClientID:       client.ID,
		ExternalNumber: created.DocumentNumber,
		InvoiceDate:    draft.InvoiceDate,
		Total:          created.Total,
		Currency:       draft.Currency,
		EntryCount:     len(entries),
	}
	if err := e.invoices.CreateInvoiceWithEntries(ctx, invoice, entryIDs); err != nil {
		recErr := &ReconciliationError{
			ExternalNumber: created.DocumentNumber,
			EntryIDs:       entryIDs,
			Err:            err,
		}
		e.logger.Error("invoice exists at the provider but local reconciliation failed, manual repair required",
			"external_number", created.DocumentNumber,
			"client_id", client.ID,
			"entry_ids", entryIDs,
			"error", err)
		if e.archive != nil {
			if _, aerr := e.archive.RecordReconciliationFailure(ctx, created.DocumentNumber, entryIDs, err); aerr != nil {
				e.logger.Error("failed to archive reconciliation failure", "error", aerr)
			}
		}
		return nil, recErr
	}

	e.logger.Info("invoice exported",
		"external_number", created.DocumentNumber,
		"client_id", client.ID,
		"entries", len(entries),
		"total", created.Total)
	return invoice, nil
}

// validate loads and checks everything the pipeline will touch before the
// first provider call: the client, every selected entry and every referenced
// product. Any mismatch fails the whole request.
func (e *InvoiceExporter) validate(ctx context.Context, req ExportRequest) (*models.Client, []*models.TimeEntry, map[uuid.UUID]*models.Product, error) {
	if len(req.TimeEntryIDs) == 0 {
		return nil, nil, nil, &InvalidExportRequestError{Reason: "no time entries selected"}
	}

	seen := make(map[uuid.UUID]bool, len(req.TimeEntryIDs))
	ids := make([]uuid.UUID, 0, len(req.TimeEntryIDs))
	for _, id := range req.TimeEntryIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	client, err := e.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load client: %w", err)
	}
	if client == nil {
		return nil, nil, nil, &InvalidExportRequestError{Reason: fmt.Sprintf("client %s not found", req.ClientID)}
	}

	entries, err := e.entries.ListTimeEntriesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load time entries: %w", err)
	}
	if len(entries) != len(ids) {
		return nil, nil, nil, &InvalidExportRequestError{
			Reason: fmt.Sprintf("%d of %d selected time entries do not exist", len(ids)-len(entries), len(ids)),
		}
	}

	products := make(map[uuid.UUID]*models.Product)
	for _, entry := range entries {
		if entry.ClientID != client.ID {
			return nil, nil, nil, &InvalidExportRequestError{
				Reason: fmt.Sprintf("time entry %s belongs to a different client", entry.ID),
			}
		}
		if entry.Invoiced {
			return nil, nil, nil, &InvalidExportRequestError{
				Reason: fmt.Sprintf("time entry %s is already invoiced", entry.ID),
			}
		}
		if _, ok := products[entry.ProductID]; ok {
			continue
		}
		product, err := e.products.GetProduct(ctx, entry.ProductID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load product: %w", err)
		}
		if product == nil {
			return nil, nil, nil, &InvalidExportRequestError{
				Reason: fmt.Sprintf("product %s not found", entry.ProductID),
			}
		}
		if product.Deleted() {
			return nil, nil, nil, &InvalidExportRequestError{
				Reason: fmt.Sprintf("product %q has been deleted", product.Name),
			}
		}
		products[entry.ProductID] = product
	}
	return client, entries, products, nil
}

// ensureCustomer resolves the provider customer number for the client: the
// cached number when present, else a search by organisation number, else a
// freshly created customer. Whichever number is used gets persisted back onto
// the client so the next export skips the lookup.
func (e *InvoiceExporter) ensureCustomer(ctx context.Context, client *models.Client) (string, error) {
	if client.CustomerNumber != nil && *client.CustomerNumber != "" {
		return *client.CustomerNumber, nil
	}

	var number string
	customer, err := e.provider.FindCustomerByOrgNumber(ctx, client.OrgNumber)
	switch {
	case err == nil:
		number = customer.Number
		e.logger.Info("matched provider customer by organisation number",
			"customer_number", number, "client_id", client.ID)
	case errors.Is(err, accounting.ErrNotFound):
		email := ""
		if client.Email != nil {
			email = *client.Email
		}
		created, err := e.provider.CreateCustomer(ctx, &accounting.Customer{
			Name:               client.Name,
			OrganisationNumber: client.OrgNumber,
			Email:              email,
		})
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		number = created.Number
		e.logger.Info("created provider customer", "customer_number", number, "client_id", client.ID)
	default:
		return "", fmt.Errorf("search customer by organisation number: %w", err)
	}

	if err := e.clients.SetCustomerNumber(ctx, client.ID, number); err != nil {
		return "", fmt.Errorf("persist customer number: %w", err)
	}
	return number, nil
}

// ensureArticles resolves a provider article number for every distinct product
// on the entries, in first-appearance order.
func (e *InvoiceExporter) ensureArticles(ctx context.Context, entries []*models.TimeEntry, products map[uuid.UUID]*models.Product) (map[uuid.UUID]string, error) {
	numbers := make(map[uuid.UUID]string, len(products))
	for _, entry := range entries {
		if _, ok := numbers[entry.ProductID]; ok {
			continue
		}
		number, err := e.ensureArticle(ctx, products[entry.ProductID])
		if err != nil {
			return nil, err
		}
		numbers[entry.ProductID] = number
	}
	return numbers, nil
}

// ensureArticle resolves one product's article number. A cached number is
// verified remotely; when the article has vanished it is recreated under the
// same number so human-chosen numbering stays stable. Products without a
// number get a synthesized numeric one, which the provider accepts as-is.
func (e *InvoiceExporter) ensureArticle(ctx context.Context, product *models.Product) (string, error) {
	description := validation.SanitizeDescription(product.Name)

	if product.ArticleNumber != nil && *product.ArticleNumber != "" {
		number := *product.ArticleNumber
		_, err := e.provider.GetArticle(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, accounting.ErrNotFound) {
			return "", fmt.Errorf("look up article %s: %w", number, err)
		}
		created, err := e.provider.CreateArticle(ctx, &accounting.Article{
			Number:      number,
			Description: description,
			Unit:        product.Unit,
		})
		if err != nil {
			return "", fmt.Errorf("recreate article %s: %w", number, err)
		}
		e.logger.Info("recreated missing provider article",
			"article_number", created.Number, "product_id", product.ID)
		return e.persistArticleNumber(ctx, product, created.Number)
	}

	number := strconv.FormatInt(time.Now().UnixMilli(), 10)
	created, err := e.provider.CreateArticle(ctx, &accounting.Article{
		Number:      number,
		Description: description,
		Unit:        product.Unit,
	})
	if err != nil {
		return "", fmt.Errorf("create article: %w", err)
	}
	e.logger.Info("created provider article",
		"article_number", created.Number, "product_id", product.ID)
	return e.persistArticleNumber(ctx, product, created.Number)
}

func (e *InvoiceExporter) persistArticleNumber(ctx context.Context, product *models.Product, number string) (string, error) {
	if err := e.products.SetArticleNumber(ctx, product.ID, number); err != nil {
		return "", fmt.Errorf("persist article number: %w", err)
	}
	return number, nil
}

// buildLines formats one invoice line per entry: hours with two decimals for
// timed entries, raw quantity for itemized ones, per-entry price override over
// the product price, VAT coerced into the provider's accepted set and the
// description sanitized. Entries without a description bill under the product
// name.
func buildLines(entries []*models.TimeEntry, products map[uuid.UUID]*models.Product, articleNumbers map[uuid.UUID]string) []accounting.InvoiceLine {
	lines := make([]accounting.InvoiceLine, 0, len(entries))
	for _, entry := range entries {
		product := products[entry.ProductID]
		description := validation.SanitizeDescription(entry.Description)
		if description == "" {
			description = validation.SanitizeDescription(product.Name)
		}
		lines = append(lines, accounting.InvoiceLine{
			ArticleNumber: articleNumbers[entry.ProductID],
			Description:   description,
			Quantity:      entry.BilledQuantity(),
			Price:         entry.UnitPrice(product),
			VAT:           validation.NormalizeVATRate(product.VATRate),
			Unit:          product.Unit,
		})
	}
	return lines
}

// submit sends the draft and self-heals exactly once when the provider reports
// a referenced article as missing: the article is recreated from the matching
// draft line and the submission replayed. A second failure of any kind is
// final.
func (e *InvoiceExporter) submit(ctx context.Context, draft *accounting.InvoiceDraft) (*accounting.Invoice, error) {
	created, err := e.provider.CreateInvoice(ctx, draft)
	if err == nil {
		return created, nil
	}

	var artErr *accounting.ArticleNotFoundError
	if !errors.As(err, &artErr) || artErr.ArticleNumber == "" {
		return nil, err
	}
	line, ok := draftLine(draft, artErr.ArticleNumber)
	if !ok {
		return nil, err
	}

	e.logger.Warn("provider reported a missing article during submission, recreating it and resubmitting once",
		"article_number", artErr.ArticleNumber)
	if _, err := e.provider.CreateArticle(ctx, &accounting.Article{
		Number:      artErr.ArticleNumber,
		Description: line.Description,
		Unit:        line.Unit,
	}); err != nil {
		return nil, fmt.Errorf("create missing article %s: %w", artErr.ArticleNumber, err)
	}
	return e.provider.CreateInvoice(ctx, draft)
}

func draftLine(draft *accounting.InvoiceDraft, articleNumber string) (accounting.InvoiceLine, bool) {
	for _, line := range draft.Lines {
		if line.ArticleNumber == articleNumber {
			return line, true
		}
	}
	return accounting.InvoiceLine{}, false
}

func exportOutcome(err error) string {
	var recErr *ReconciliationError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidExportRequest):
		return "invalid_request"
	case errors.As(err, &recErr):
		return "reconciliation_error"
	default:
		return "provider_error"
	}
}
