// Package accounting defines the provider-neutral types, interfaces and error
// taxonomy for the external accounting integration. Provider implementations
// live in subpackages (currently fortnox); the credential manager and the
// invoice exporter depend only on this package.
package accounting

import (
	"context"
	"time"
)

// Credential is the decrypted, in-memory form of the stored integration
// credential. All expiry math is done in UTC epoch milliseconds so validity
// never depends on wall-clock day boundaries or timezones.
type Credential struct {
	ClientID         string
	ClientSecret     string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        int64 // access token expiry, UTC epoch ms; zero when no token
	RefreshExpiresAt int64 // refresh token expiry, UTC epoch ms
	Legacy           bool  // pre-OAuth access token, not refreshable until migrated
	RefreshFailCount int   // consecutive scheduled refresh failures, display only
	UpdatedAt        time.Time
}

// HasAccessToken reports whether an access token is stored at all,
// regardless of validity.
func (c *Credential) HasAccessToken() bool { return c.AccessToken != "" }

// HasRefreshToken reports whether the credential can be refreshed.
func (c *Credential) HasRefreshToken() bool { return c.RefreshToken != "" }

// AccessTokenTTL returns the remaining access token life at now.
// Non-positive when expired or absent.
func (c *Credential) AccessTokenTTL(now time.Time) time.Duration {
	if c.AccessToken == "" {
		return 0
	}
	return time.UnixMilli(c.ExpiresAt).Sub(now)
}

// RefreshTokenTTL returns the remaining refresh token life at now.
// Non-positive when expired or absent.
func (c *Credential) RefreshTokenTTL(now time.Time) time.Duration {
	if c.RefreshToken == "" {
		return 0
	}
	return time.UnixMilli(c.RefreshExpiresAt).Sub(now)
}

// TokenSet is what a provider's token endpoint returns from a code exchange,
// a refresh or a legacy migration.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        int64 // UTC epoch ms
	RefreshExpiresAt int64 // UTC epoch ms
}

// Customer is the subset of the provider's customer record used here.
type Customer struct {
	Number             string
	Name               string
	OrganisationNumber string
	Email              string
}

// Article is the subset of the provider's article catalog record used here.
type Article struct {
	Number      string
	Description string
	Unit        string
}

// InvoiceLine is one row of an invoice submission.
type InvoiceLine struct {
	ArticleNumber string
	Description   string
	Quantity      float64
	Price         float64
	VAT           int
	Unit          string
}

// InvoiceDraft is the payload submitted to the provider.
type InvoiceDraft struct {
	CustomerNumber string
	InvoiceDate    time.Time
	Currency       string
	Lines          []InvoiceLine
}

// Invoice is the provider's view of a created invoice.
type Invoice struct {
	DocumentNumber string
	CustomerNumber string
	InvoiceDate    string
	Total          float64
	Currency       string
}

// TokenClient is the OAuth and token-migration surface of a provider.
type TokenClient interface {
	// ExchangeCode trades an authorization code for a token set.
	ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenSet, error)

	// Renew trades a refresh token for a new token set. Providers rotate the
	// refresh token; the returned set carries the one to store.
	Renew(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenSet, error)

	// MigrateLegacyToken converts a pre-OAuth access token into a refreshable
	// token set. One-shot per legacy token.
	MigrateLegacyToken(ctx context.Context, clientID, clientSecret, accessToken string) (*TokenSet, error)
}

// TokenSource supplies a valid access token for resource calls. ForceRefresh
// is called after the provider rejects a token as unauthorized and must return
// a token newer than the rejected one, or fail.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Client is the resource surface the invoice export pipeline consumes.
type Client interface {
	// FindCustomerByOrgNumber searches by organisation number.
	// Returns a NotFoundError when no customer matches.
	FindCustomerByOrgNumber(ctx context.Context, orgNumber string) (*Customer, error)

	// CreateCustomer creates a customer and returns it with the
	// provider-assigned customer number.
	CreateCustomer(ctx context.Context, customer *Customer) (*Customer, error)

	// GetArticle fetches an article by number.
	// Returns a NotFoundError when the article does not exist.
	GetArticle(ctx context.Context, number string) (*Article, error)

	// CreateArticle creates an article and returns it with the number the
	// provider settled on.
	CreateArticle(ctx context.Context, article *Article) (*Article, error)

	// CreateInvoice submits an invoice draft and returns the created invoice.
	CreateInvoice(ctx context.Context, draft *InvoiceDraft) (*Invoice, error)
}
