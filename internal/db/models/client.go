// Package models - client.go defines the Client model: a customer that time is
// tracked against and invoices are issued to. The customer_number column holds
// the identifier of the matching customer in the accounting provider so that
// repeated exports reuse the same remote customer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Client represents a customer of the company running this installation
type Client struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	OrgNumber      string    `db:"org_number" json:"org_number"`
	Email          *string   `db:"email" json:"email,omitempty"`
	HourlyRate     float64   `db:"hourly_rate" json:"hourly_rate"`
	CustomerNumber *string   `db:"customer_number" json:"customer_number,omitempty"`
	Archived       bool      `db:"archived" json:"archived"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ClientInput is used for creating/updating clients via the API
type ClientInput struct {
	Name       string  `json:"name" binding:"required"`
	OrgNumber  string  `json:"org_number" binding:"required"`
	Email      *string `json:"email,omitempty"`
	HourlyRate float64 `json:"hourly_rate"`
}
