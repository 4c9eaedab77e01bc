// Package models - product.go defines the Product model: a billable catalog
// item mirrored into the accounting provider's article registry. The
// article_number column holds the provider-side article identifier. Products
// are soft-deleted so historical time entries keep their reference; an export
// that touches a deleted product fails rather than silently dropping lines.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a billable catalog item
type Product struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Unit          string     `db:"unit" json:"unit"` // "h" for hourly work, "st" for itemized units
	Price         float64    `db:"price" json:"price"`
	VATRate       int        `db:"vat_rate" json:"vat_rate"`
	ArticleNumber *string    `db:"article_number" json:"article_number,omitempty"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ProductInput is used for creating/updating products via the API
type ProductInput struct {
	Name          string  `json:"name" binding:"required"`
	Unit          string  `json:"unit" binding:"required"`
	Price         float64 `json:"price" binding:"required"`
	VATRate       int     `json:"vat_rate"`
	ArticleNumber *string `json:"article_number,omitempty"`
}

// Deleted returns true when the product has been soft-deleted.
func (p *Product) Deleted() bool {
	return p.DeletedAt != nil
}
