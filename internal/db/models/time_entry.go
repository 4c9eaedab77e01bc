// Package models - time_entry.go defines the TimeEntry model: one unit of
// billable work, either a timed activity (started/ended) or an itemized
// quantity. Entries carry an invoiced flag plus an invoice reference that the
// export pipeline sets once the entry has been billed; the pipeline never
// creates or deletes entries.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TimeEntry represents one unit of billable work logged against a client
type TimeEntry struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ClientID      uuid.UUID  `db:"client_id" json:"client_id"`
	ProductID     uuid.UUID  `db:"product_id" json:"product_id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	Description   string     `db:"description" json:"description"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	Quantity      *float64   `db:"quantity" json:"quantity,omitempty"`
	PriceOverride *float64   `db:"price_override" json:"price_override,omitempty"`
	Invoiced      bool       `db:"invoiced" json:"invoiced"`
	InvoiceID     *uuid.UUID `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// TimeEntryInput is used for creating/updating time entries via the API.
// Either started_at+ended_at or quantity must be set, not both.
type TimeEntryInput struct {
	ClientID      uuid.UUID  `json:"client_id" binding:"required"`
	ProductID     uuid.UUID  `json:"product_id" binding:"required"`
	Description   string     `json:"description"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Quantity      *float64   `json:"quantity,omitempty"`
	PriceOverride *float64   `json:"price_override,omitempty"`
}

// Timed returns true for duration-based entries (start/end pair present).
func (e *TimeEntry) Timed() bool {
	return e.StartedAt != nil && e.EndedAt != nil
}

// Hours returns the billed duration in hours rounded to two decimals, or 0
// for itemized entries. A 10:00-12:30 entry bills as 2.5 hours.
func (e *TimeEntry) Hours() float64 {
	if !e.Timed() {
		return 0
	}
	h := e.EndedAt.Sub(*e.StartedAt).Hours()
	return math.Round(h*100) / 100
}

// BilledQuantity returns what goes on the invoice row: hours for timed
// entries, the raw quantity for itemized ones.
func (e *TimeEntry) BilledQuantity() float64 {
	if e.Timed() {
		return e.Hours()
	}
	if e.Quantity != nil {
		return *e.Quantity
	}
	return 0
}

// UnitPrice returns the per-entry override when set, else the product's
// default price.
func (e *TimeEntry) UnitPrice(product *Product) float64 {
	if e.PriceOverride != nil {
		return *e.PriceOverride
	}
	return product.Price
}
