// Package models - invoice.go defines the Invoice model: the local mirror of
// an invoice created in the accounting provider. The local row exists so the
// application can show billing history without calling the provider, and so
// time entries have something to reference once marked invoiced.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice represents the local mirror of a provider-side invoice
type Invoice struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ClientID       uuid.UUID `db:"client_id" json:"client_id"`
	ExternalNumber string    `db:"external_number" json:"external_number"`
	InvoiceDate    time.Time `db:"invoice_date" json:"invoice_date"`
	Total          float64   `db:"total" json:"total"`
	Currency       string    `db:"currency" json:"currency"`
	EntryCount     int       `db:"entry_count" json:"entry_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
