// Package audit handles structured audit log emission for security- and
// billing-relevant events: logins, integration lifecycle changes (connect,
// refresh, disconnect, migration), invoice exports and reconciliation
// failures. Audit records are kept separate from application logs because
// they have different consumers and retention requirements — application logs
// are ephemeral debug output, while audit records may fall under bookkeeping
// retention rules measured in years. The package supports multiple
// simultaneous destinations (file, webhook) via the Shipper interface so
// audit records can be routed to a SIEM or log aggregator independently of
// the application's own logging pipeline.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"sync"
	"time"
)

// LogEntry is one audit record. The JSON field names are part of the export
// format: file shippers write one such object per line, webhook shippers post
// arrays of them, and downstream SIEM parsers key on these names.
type LogEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	UserID       string         `json:"user_id,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	StatusCode   int            `json:"status_code,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Shipper delivers audit records to one destination.
type Shipper interface {
	// Ship hands over a single record. Batching implementations may only
	// enqueue it; delivery then happens on their own schedule.
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes anything still pending and releases the destination.
	Close() error
}

// ShipperConfig selects and configures one audit destination. Exactly one of
// Webhook or File must be set, matching Type.
type ShipperConfig struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"` // "webhook" or "file"
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	File    *FileConfig    `json:"file,omitempty"`
}

// WebhookConfig configures HTTP delivery of audit records.
type WebhookConfig struct {
	// URL receives POSTed JSON: a single object when batching is off, an
	// array of records otherwise.
	URL string `json:"url"`
	// Headers are set on every request, typically for authentication.
	Headers map[string]string `json:"headers,omitempty"`
	// Timeout bounds each HTTP request (default 10s).
	Timeout time.Duration `json:"timeout"`
	// BatchSize switches on batching when positive: records queue up and go
	// out together once this many accumulate or FlushInterval passes.
	BatchSize int `json:"batch_size"`
	// FlushInterval caps how long a partial batch may wait (default 5s).
	FlushInterval time.Duration `json:"flush_interval"`
}

// FileConfig configures append-only JSON-lines delivery to a local file.
type FileConfig struct {
	Path string `json:"path"`
	// MaxSizeMB triggers rotation once the file reaches this size; zero
	// disables rotation.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is how many rotated files to keep (at least one).
	MaxBackups int `json:"max_backups"`
}

// MultiShipper fans each record out to every enabled destination. One failing
// destination never blocks the others.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []Shipper
}

// NewMultiShipper builds the configured destinations, skipping disabled
// entries. On error it closes whatever it had already opened.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		s, err := buildShipper(cfg)
		if err != nil {
			_ = ms.Close()
			return nil, err
		}
		ms.shippers = append(ms.shippers, s)
	}
	return ms, nil
}

func buildShipper(cfg ShipperConfig) (Shipper, error) {
	switch cfg.Type {
	case "webhook":
		if cfg.Webhook == nil {
			return nil, errors.New("webhook shipper: missing webhook settings")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, errors.New("file shipper: missing file settings")
		}
		return NewFileShipper(cfg.File)
	default:
		return nil, fmt.Errorf("unknown audit shipper type %q", cfg.Type)
	}
}

// Ship delivers the record to every destination and reports the combined
// failures, if any. Each failure is also logged here so that a single
// misbehaving destination stays visible even when callers drop the error.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper failed", "action", entry.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every destination.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second
	webhookQueueDepth     = 1000
)

// WebhookShipper POSTs audit records to an HTTP endpoint. With BatchSize > 0
// a single worker goroutine owns the pending batch; Ship only enqueues, so
// request handlers never wait on the destination.
type WebhookShipper struct {
	url           string
	headers       map[string]string
	client        *http.Client
	timeout       time.Duration
	batchSize     int
	flushInterval time.Duration

	queue     chan *LogEntry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebhookShipper validates the endpoint and, when batching is configured,
// starts the delivery worker.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook shipper: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	ws := &WebhookShipper{
		url:           cfg.URL,
		headers:       maps.Clone(cfg.Headers),
		client:        &http.Client{Timeout: timeout},
		timeout:       timeout,
		batchSize:     cfg.BatchSize,
		flushInterval: interval,
		queue:         make(chan *LogEntry, webhookQueueDepth),
		done:          make(chan struct{}),
	}
	if ws.batchSize > 0 {
		ws.wg.Add(1)
		go ws.run()
	}
	return ws, nil
}

// run is the delivery worker. It alone touches the pending slice, so no lock
// is needed around batch state.
func (ws *WebhookShipper) run() {
	defer ws.wg.Done()

	ticker := time.NewTicker(ws.flushInterval)
	defer ticker.Stop()

	var pending []*LogEntry
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ws.post(pending)
		pending = pending[:0]
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.done:
			// drain records that were enqueued before Close, then flush once
			for {
				select {
				case entry := <-ws.queue:
					pending = append(pending, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// post delivers one batch. Errors are logged rather than returned because the
// worker has no caller to hand them to.
func (ws *WebhookShipper) post(batch []*LogEntry) {
	data, err := json.Marshal(batch)
	if err != nil {
		slog.Error("audit webhook: encoding batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.send(ctx, data); err != nil {
		slog.Warn("audit webhook: batch delivery failed", "entries", len(batch), "error", err)
	}
}

// Ship enqueues the record when batching is on, falling back to an inline
// request when the queue is saturated so records are not silently dropped.
// Without batching every record goes out inline.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.batchSize > 0 {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	return ws.send(ctx, data)
}

func (ws *WebhookShipper) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting audit entries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit webhook answered %d", resp.StatusCode)
	}
	return nil
}

// Close stops the worker and waits for the final flush, so records accepted
// before Close are delivered before it returns.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.wg.Wait()
	})
	return nil
}

// FileShipper appends audit records to a local file, one JSON object per
// line, rotating by size.
type FileShipper struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxBytes   int64
	maxBackups int
}

// NewFileShipper opens (or creates) the audit log for appending. The file is
// created owner-only since audit records carry user identifiers and IPs.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, errors.New("file shipper: path is required")
	}
	f, err := openAuditLog(cfg.Path)
	if err != nil {
		return nil, err
	}

	backups := cfg.MaxBackups
	if backups < 1 {
		backups = 1
	}
	return &FileShipper{
		file:       f,
		path:       cfg.Path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: backups,
	}, nil
}

func openAuditLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return f, nil
}

// Ship appends one record, rotating first if the file has reached its size
// limit. A failed rotation is logged and the write proceeds against the old
// file rather than losing the record.
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.maxBytes > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() >= fs.maxBytes {
			if err := fs.rotate(); err != nil {
				slog.Warn("audit log rotation failed", "path", fs.path, "error", err)
			}
		}
	}

	if _, err := fs.file.Write(line); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.1 -> path.2 and so on up to maxBackups, moves the
// current file to path.1, and reopens a fresh log. The live handle keeps
// following the renamed file until the swap, so nothing is lost when
// reopening fails.
func (fs *FileShipper) rotate() error {
	_ = os.Remove(fs.backupName(fs.maxBackups))
	for i := fs.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fs.backupName(i), fs.backupName(i+1))
	}
	if err := os.Rename(fs.path, fs.backupName(1)); err != nil {
		return fmt.Errorf("renaming current audit log: %w", err)
	}

	next, err := openAuditLog(fs.path)
	if err != nil {
		return err
	}
	old := fs.file
	fs.file = next
	return old.Close()
}

func (fs *FileShipper) backupName(i int) string {
	return fmt.Sprintf("%s.%d", fs.path, i)
}

// Close closes the underlying file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
