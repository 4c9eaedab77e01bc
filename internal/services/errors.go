// errors.go defines the error surface of the service layer: the sentinels and
// typed errors that HTTP handlers map onto distinct response codes so an
// operator can tell a retryable failure from one that needs a reconnect or
// manual repair.
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrReauthorizationRequired means the stored tokens are beyond refresh
	// (the provider rejected the refresh token, or it expired). The admin must
	// run the authorization flow again; client id and secret are kept.
	ErrReauthorizationRequired = errors.New("accounting authorization is no longer valid, reconnect required")

	// ErrStaleCredential is returned by CredentialStore.Update when the stored
	// row changed after it was read. The caller should reload; another process
	// has already rotated the tokens.
	ErrStaleCredential = errors.New("credential was modified by another process")

	// ErrAlreadyMigrated rejects a legacy-token migration when the stored
	// credential already holds a refresh token. Migration is one-shot; running
	// it again would invalidate the working token pair.
	ErrAlreadyMigrated = errors.New("credential is already refreshable, migration not applicable")

	// ErrInvalidExportRequest is the sentinel under every
	// InvalidExportRequestError.
	ErrInvalidExportRequest = errors.New("invalid export request")
)

// InvalidExportRequestError rejects an export before anything is sent to the
// provider: unknown records, records of another client, records already
// invoiced, or a deleted product.
type InvalidExportRequestError struct {
	Reason string
}

func (e *InvalidExportRequestError) Error() string {
	return "invalid export request: " + e.Reason
}

func (e *InvalidExportRequestError) Unwrap() error { return ErrInvalidExportRequest }

// ReconciliationError means the provider created the invoice but the local
// mirror write failed: the remote invoice exists while the time entries are
// still unmarked. Retrying the export would create a duplicate remote invoice,
// so this is never retried automatically; it carries everything needed for
// manual repair.
type ReconciliationError struct {
	ExternalNumber string
	EntryIDs       []uuid.UUID
	Err            error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("invoice %s exists at the provider but local reconciliation failed for %d entries: %v",
		e.ExternalNumber, len(e.EntryIDs), e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
