// invoices.go implements invoice submission. Quantities travel as decimal
// strings (DeliveredQuantity) and the created invoice comes back with the
// provider-assigned document number.
package fortnox

import (
	"context"
	"encoding/json"

	"github.com/chronobill/chronobill/internal/accounting"
)

const invoiceDateLayout = "2006-01-02"

// CreateInvoice submits an invoice draft. Unknown article numbers surface as
// ArticleNotFoundError (classified in do); the exporter owns the
// create-and-resubmit pass.
func (c *Client) CreateInvoice(ctx context.Context, draft *accounting.InvoiceDraft) (*accounting.Invoice, error) {
	rows := make([]fortnoxInvoiceRow, len(draft.Lines))
	for i, line := range draft.Lines {
		rows[i] = fortnoxInvoiceRow{
			ArticleNumber:     line.ArticleNumber,
			Description:       line.Description,
			DeliveredQuantity: formatQuantity(line.Quantity),
			Price:             line.Price,
			VAT:               line.VAT,
			Unit:              line.Unit,
		}
	}

	payload := invoiceEnvelope{Invoice: fortnoxInvoice{
		CustomerNumber: draft.CustomerNumber,
		InvoiceDate:    draft.InvoiceDate.Format(invoiceDateLayout),
		Currency:       draft.Currency,
		InvoiceRows:    rows,
	}}

	var out invoiceEnvelope
	if err := c.do(ctx, "POST", "/3/invoices", payload, &out); err != nil {
		return nil, err
	}

	return &accounting.Invoice{
		DocumentNumber: out.Invoice.DocumentNumber.String(),
		CustomerNumber: out.Invoice.CustomerNumber,
		InvoiceDate:    out.Invoice.InvoiceDate,
		Total:          out.Invoice.Total,
		Currency:       out.Invoice.Currency,
	}, nil
}

// Wire types

type invoiceEnvelope struct {
	Invoice fortnoxInvoice `json:"Invoice"`
}

type fortnoxInvoice struct {
	// DocumentNumber is numeric in responses and absent in requests.
	DocumentNumber json.Number         `json:"DocumentNumber,omitempty"`
	CustomerNumber string              `json:"CustomerNumber"`
	InvoiceDate    string              `json:"InvoiceDate"`
	Currency       string              `json:"Currency,omitempty"`
	Total          float64             `json:"Total,omitempty"`
	InvoiceRows    []fortnoxInvoiceRow `json:"InvoiceRows"`
}

type fortnoxInvoiceRow struct {
	ArticleNumber     string  `json:"ArticleNumber"`
	Description       string  `json:"Description"`
	DeliveredQuantity string  `json:"DeliveredQuantity"`
	Price             float64 `json:"Price"`
	VAT               int     `json:"VAT"`
	Unit              string  `json:"Unit,omitempty"`
}
