package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store for exercising the Recorder without a real
// backend.
type memStore struct {
	objects    map[string][]byte
	failUpload bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error) {
	if m.failUpload {
		return nil, fmt.Errorf("simulated upload failure")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	m.objects[path] = data
	return &UploadResult{Path: path, Size: int64(len(data))}, nil
}

func (m *memStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *memStore) Delete(ctx context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

func (m *memStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memStore) GetMetadata(ctx context.Context, path string) (*FileMetadata, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return &FileMetadata{Path: path, Size: int64(len(data))}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ---------------------------------------------------------------------------

func TestRecorder_RecordExport(t *testing.T) {
	store := newMemStore()
	rec := NewRecorder(store)
	archivedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec.now = fixedClock(archivedAt)

	submitted := map[string]interface{}{"CustomerNumber": "C-77", "Total": 1250.0}
	response := map[string]interface{}{"DocumentNumber": "1042", "Total": 1250.0}

	ref, err := rec.RecordExport(context.Background(), "1042", submitted, response)
	if err != nil {
		t.Fatalf("RecordExport failed: %v", err)
	}

	wantPrefix := "exports/2026/03/invoice-1042-"
	if !strings.HasPrefix(ref, wantPrefix) {
		t.Errorf("Expected reference to start with %q, got %q", wantPrefix, ref)
	}
	if !strings.HasSuffix(ref, ".json") {
		t.Errorf("Expected reference to end with .json, got %q", ref)
	}

	data, ok := store.objects[ref]
	if !ok {
		t.Fatalf("Expected document stored at %q", ref)
	}

	var doc struct {
		ArchivedAt     time.Time              `json:"archived_at"`
		ExternalNumber string                 `json:"external_number"`
		Submitted      map[string]interface{} `json:"submitted"`
		Response       map[string]interface{} `json:"response"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Stored document is not valid JSON: %v", err)
	}
	if !doc.ArchivedAt.Equal(archivedAt) {
		t.Errorf("Expected archived_at %v, got %v", archivedAt, doc.ArchivedAt)
	}
	if doc.ExternalNumber != "1042" {
		t.Errorf("Expected external_number 1042, got %q", doc.ExternalNumber)
	}
	if doc.Submitted["CustomerNumber"] != "C-77" {
		t.Errorf("Expected submitted payload to be preserved, got %v", doc.Submitted)
	}
	if doc.Response["DocumentNumber"] != "1042" {
		t.Errorf("Expected response payload to be preserved, got %v", doc.Response)
	}
}

func TestRecorder_RecordExport_UploadError(t *testing.T) {
	store := newMemStore()
	store.failUpload = true
	rec := NewRecorder(store)

	_, err := rec.RecordExport(context.Background(), "1042", nil, nil)
	if err == nil {
		t.Fatal("Expected error when upload fails")
	}
	if !strings.Contains(err.Error(), "failed to archive document") {
		t.Errorf("Expected archive error, got: %v", err)
	}
}

func TestRecorder_RecordReconciliationFailure(t *testing.T) {
	store := newMemStore()
	rec := NewRecorder(store)
	archivedAt := time.Date(2026, 7, 2, 16, 45, 0, 0, time.UTC)
	rec.now = fixedClock(archivedAt)

	entryIDs := []uuid.UUID{uuid.New(), uuid.New()}
	cause := fmt.Errorf("database connection lost")

	ref, err := rec.RecordReconciliationFailure(context.Background(), "1099", entryIDs, cause)
	if err != nil {
		t.Fatalf("RecordReconciliationFailure failed: %v", err)
	}

	wantPrefix := "reconciliation-failures/2026/07/invoice-1099-"
	if !strings.HasPrefix(ref, wantPrefix) {
		t.Errorf("Expected reference to start with %q, got %q", wantPrefix, ref)
	}

	data, ok := store.objects[ref]
	if !ok {
		t.Fatalf("Expected document stored at %q", ref)
	}

	var doc struct {
		ExternalNumber string      `json:"external_number"`
		TimeEntryIDs   []uuid.UUID `json:"time_entry_ids"`
		Cause          string      `json:"cause"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Stored document is not valid JSON: %v", err)
	}
	if doc.ExternalNumber != "1099" {
		t.Errorf("Expected external_number 1099, got %q", doc.ExternalNumber)
	}
	if len(doc.TimeEntryIDs) != 2 {
		t.Fatalf("Expected 2 time entry IDs, got %d", len(doc.TimeEntryIDs))
	}
	if doc.TimeEntryIDs[0] != entryIDs[0] || doc.TimeEntryIDs[1] != entryIDs[1] {
		t.Errorf("Expected entry IDs preserved, got %v", doc.TimeEntryIDs)
	}
	if doc.Cause != "database connection lost" {
		t.Errorf("Expected cause preserved, got %q", doc.Cause)
	}
}

func TestRecorder_RecordReconciliationFailure_NilCause(t *testing.T) {
	store := newMemStore()
	rec := NewRecorder(store)

	ref, err := rec.RecordReconciliationFailure(context.Background(), "1100", nil, nil)
	if err != nil {
		t.Fatalf("RecordReconciliationFailure failed: %v", err)
	}

	var doc struct {
		Cause string `json:"cause"`
	}
	if err := json.Unmarshal(store.objects[ref], &doc); err != nil {
		t.Fatalf("Stored document is not valid JSON: %v", err)
	}
	if doc.Cause != "" {
		t.Errorf("Expected empty cause for nil error, got %q", doc.Cause)
	}
}

func TestRecorder_DistinctPathsForRepeatedExports(t *testing.T) {
	store := newMemStore()
	rec := NewRecorder(store)

	ref1, err := rec.RecordExport(context.Background(), "1042", nil, nil)
	if err != nil {
		t.Fatalf("First RecordExport failed: %v", err)
	}
	ref2, err := rec.RecordExport(context.Background(), "1042", nil, nil)
	if err != nil {
		t.Fatalf("Second RecordExport failed: %v", err)
	}
	if ref1 == ref2 {
		t.Errorf("Expected distinct paths for repeated exports, both were %q", ref1)
	}
	if len(store.objects) != 2 {
		t.Errorf("Expected 2 stored documents, got %d", len(store.objects))
	}
}
