// recorder.go turns export pipeline events into archived JSON documents. The
// invoice exporter talks to the Recorder, not to a backend directly, so the
// snapshot format lives here and the backends stay byte-oriented.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recorder writes export snapshots and reconciliation failure reports to an
// archive Store as timestamped JSON documents.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder creates a recorder writing to the given store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// exportDocument is the archived snapshot of one invoice export: exactly what
// was submitted to the provider and exactly what came back.
type exportDocument struct {
	ArchivedAt     time.Time   `json:"archived_at"`
	ExternalNumber string      `json:"external_number"`
	Submitted      interface{} `json:"submitted"`
	Response       interface{} `json:"response"`
}

// reconciliationDocument captures a remote invoice whose local mirror write
// failed. It carries everything a manual repair needs: the external invoice
// number and the time entries that should have been marked invoiced.
type reconciliationDocument struct {
	ArchivedAt     time.Time   `json:"archived_at"`
	ExternalNumber string      `json:"external_number"`
	TimeEntryIDs   []uuid.UUID `json:"time_entry_ids"`
	Cause          string      `json:"cause"`
}

// RecordExport archives the submitted payload and provider response for one
// export. Returns the archive path of the stored document.
func (r *Recorder) RecordExport(ctx context.Context, externalNumber string, submitted, response interface{}) (string, error) {
	archivedAt := r.now().UTC()
	doc := exportDocument{
		ArchivedAt:     archivedAt,
		ExternalNumber: externalNumber,
		Submitted:      submitted,
		Response:       response,
	}

	path := fmt.Sprintf("exports/%s/invoice-%s-%d.json",
		archivedAt.Format("2006/01"), externalNumber, archivedAt.UnixNano())

	return r.write(ctx, path, doc)
}

// RecordReconciliationFailure archives a repair report for an invoice that
// exists at the provider but could not be reconciled locally.
func (r *Recorder) RecordReconciliationFailure(ctx context.Context, externalNumber string, entryIDs []uuid.UUID, cause error) (string, error) {
	archivedAt := r.now().UTC()
	doc := reconciliationDocument{
		ArchivedAt:     archivedAt,
		ExternalNumber: externalNumber,
		TimeEntryIDs:   entryIDs,
	}
	if cause != nil {
		doc.Cause = cause.Error()
	}

	path := fmt.Sprintf("reconciliation-failures/%s/invoice-%s-%d.json",
		archivedAt.Format("2006/01"), externalNumber, archivedAt.UnixNano())

	return r.write(ctx, path, doc)
}

// write marshals the document and uploads it. Documents are indented because
// their consumer is a human doing a manual repair or audit.
func (r *Recorder) write(ctx context.Context, path string, doc interface{}) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive document: %w", err)
	}

	result, err := r.store.Upload(ctx, path, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to archive document: %w", err)
	}

	return result.Path, nil
}
