// errors.go defines the error taxonomy shared by all accounting provider
// implementations. Callers branch on these classes: auth failures end in
// reconnection, validation failures surface the provider's message verbatim,
// not-found drives the create-then-retry paths.
package accounting

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by token sources when no usable credential
	// is stored.
	ErrNotConnected = errors.New("accounting integration is not connected")

	// ErrNotFound marks lookups that the provider answered with "does not
	// exist". NotFoundError instances unwrap to it.
	ErrNotFound = errors.New("not found in accounting provider")
)

// NotFoundError reports a missing provider resource with enough context to
// drive create-then-retry flows.
type NotFoundError struct {
	Resource string // "customer", "article", "invoice"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in accounting provider", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthExchangeError reports a failed authorization-code exchange. Code carries
// the wire error code ("invalid_grant" for a spent or expired code).
type AuthExchangeError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authorization code exchange failed (%s): %s", e.Code, e.Message)
	}
	return "authorization code exchange failed: " + e.Message
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// RefreshError reports a failed refresh-token grant. Permanent means the
// refresh token itself was rejected (invalid_grant): retrying cannot succeed
// and the integration needs to be reconnected.
type RefreshError struct {
	Permanent bool
	Code      string
	Message   string
	Err       error
}

func (e *RefreshError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("token refresh rejected (%s): %s", e.Code, e.Message)
	}
	return "token refresh failed: " + e.Message
}

func (e *RefreshError) Unwrap() error { return e.Err }

// MigrationError reports a failed legacy-token migration. Terminal means the
// provider no longer knows the legacy token; migration can never succeed and
// the integration must be reconnected from scratch.
type MigrationError struct {
	Terminal bool
	Message  string
	Err      error
}

func (e *MigrationError) Error() string {
	if e.Terminal {
		return "legacy token migration permanently failed: " + e.Message
	}
	return "legacy token migration failed: " + e.Message
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ValidationError reports a payload the provider rejected. Code and Message
// are the provider's own and are preserved verbatim for operator diagnosis.
type ValidationError struct {
	Code    int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("accounting provider rejected the request (code %d): %s", e.Code, e.Message)
	}
	return "accounting provider rejected the request: " + e.Message
}

// ArticleNotFoundError reports an invoice submission that failed because a
// referenced article does not exist. The article number is parsed from the
// provider's message so the caller can create it and resubmit.
type ArticleNotFoundError struct {
	ArticleNumber string
	Message       string
}

func (e *ArticleNotFoundError) Error() string {
	return fmt.Sprintf("article %q not found during invoice submission: %s", e.ArticleNumber, e.Message)
}

func (e *ArticleNotFoundError) Unwrap() error { return ErrNotFound }

// APIError represents a transport or HTTP-level error from the provider API.
// Code carries the provider's numeric error code when the response body had
// one.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}
