// customers.go implements the customer operations of the resource API.
package fortnox

import (
	"context"
	"net/url"

	"github.com/chronobill/chronobill/internal/accounting"
)

// FindCustomerByOrgNumber searches customers by organisation number. Fortnox
// answers a filtered list; an empty list means no customer matches.
func (c *Client) FindCustomerByOrgNumber(ctx context.Context, orgNumber string) (*accounting.Customer, error) {
	path := "/3/customers?organisationnumber=" + url.QueryEscape(orgNumber)

	var out customersEnvelope
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}

	if len(out.Customers) == 0 {
		return nil, &accounting.NotFoundError{Resource: "customer", Key: orgNumber}
	}
	return out.Customers[0].toDomain(), nil
}

// CreateCustomer creates a customer and returns it with the provider-assigned
// customer number.
func (c *Client) CreateCustomer(ctx context.Context, customer *accounting.Customer) (*accounting.Customer, error) {
	payload := customerEnvelope{Customer: fortnoxCustomer{
		Name:               customer.Name,
		OrganisationNumber: customer.OrganisationNumber,
		Email:              customer.Email,
	}}

	var out customerEnvelope
	if err := c.do(ctx, "POST", "/3/customers", payload, &out); err != nil {
		return nil, err
	}
	return out.Customer.toDomain(), nil
}

// Wire types

type customerEnvelope struct {
	Customer fortnoxCustomer `json:"Customer"`
}

type customersEnvelope struct {
	Customers []fortnoxCustomer `json:"Customers"`
}

type fortnoxCustomer struct {
	CustomerNumber     string `json:"CustomerNumber,omitempty"`
	Name               string `json:"Name"`
	OrganisationNumber string `json:"OrganisationNumber,omitempty"`
	Email              string `json:"Email,omitempty"`
}

func (f *fortnoxCustomer) toDomain() *accounting.Customer {
	return &accounting.Customer{
		Number:             f.CustomerNumber,
		Name:               f.Name,
		OrganisationNumber: f.OrganisationNumber,
		Email:              f.Email,
	}
}
