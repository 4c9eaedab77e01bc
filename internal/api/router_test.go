package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/chronobill/chronobill/internal/archive"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(r *gin.Engine, method, url, origin string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

// probeDB returns a sqlmock database whose next Ping succeeds or fails.
func probeDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

// probeArchive is the smallest archive.Store that can answer a readiness probe.
type probeArchive struct{ existsErr error }

func (a *probeArchive) Upload(context.Context, string, io.Reader, int64) (*archive.UploadResult, error) {
	return nil, nil
}
func (a *probeArchive) Download(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (a *probeArchive) Delete(context.Context, string) error                    { return nil }
func (a *probeArchive) Exists(context.Context, string) (bool, error) {
	return a.existsErr == nil, a.existsErr
}
func (a *probeArchive) GetMetadata(context.Context, string) (*archive.FileMetadata, error) {
	return nil, nil
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingOK     bool
		wantCode   int
		wantStatus string
	}{
		{"database up", true, http.StatusOK, "healthy"},
		{"database down", false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", healthHandler(probeDB(t, tt.pingOK)))

			w := doRequest(r, http.MethodGet, "/health", "")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if body := decodeBody(t, w); body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name        string
		pingOK      bool
		store       archive.Store
		wantCode    int
		wantReady   bool
		wantArchive any
	}{
		{"all dependencies up", true, &probeArchive{}, http.StatusOK, true, "healthy"},
		{"database down", false, &probeArchive{}, http.StatusServiceUnavailable, false, nil},
		{"archive down", true, &probeArchive{existsErr: io.ErrUnexpectedEOF}, http.StatusServiceUnavailable, false, "unhealthy"},
		{"no archive configured", true, nil, http.StatusOK, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readyHandler(probeDB(t, tt.pingOK), tt.store))

			w := doRequest(r, http.MethodGet, "/ready", "")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			body := decodeBody(t, w)
			if body["ready"] != tt.wantReady {
				t.Errorf("ready = %v, want %v", body["ready"], tt.wantReady)
			}
			checks, _ := body["checks"].(map[string]any)
			if got := checks["archive"]; got != tt.wantArchive {
				t.Errorf("checks.archive = %v, want %v", got, tt.wantArchive)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := doRequest(r, http.MethodGet, "/version", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

// recordCapture is a slog.Handler that remembers every record it sees.
type recordCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordCapture) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordCapture) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}
func (h *recordCapture) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordCapture) WithGroup(string) slog.Handler      { return h }

func (h *recordCapture) all() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}

func TestRequestLogger(t *testing.T) {
	capture := &recordCapture{}
	prev := slog.Default()
	slog.SetDefault(slog.New(capture))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.Use(requestLogger())
	r.GET("/clients", func(c *gin.Context) { c.Status(http.StatusOK) })

	doRequest(r, http.MethodGet, "/clients?archived=false", "")

	records := capture.all()
	if len(records) != 1 {
		t.Fatalf("captured %d log records, want 1", len(records))
	}
	rec := records[0]
	if rec.Message != "http request" {
		t.Errorf("message = %q, want %q", rec.Message, "http request")
	}

	attrs := map[string]slog.Value{}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value
		return true
	})
	if got := attrs["method"].String(); got != http.MethodGet {
		t.Errorf("method attr = %q, want GET", got)
	}
	if got := attrs["path"].String(); got != "/clients" {
		t.Errorf("path attr = %q, want /clients", got)
	}
	if got := attrs["query"].String(); got != "archived=false" {
		t.Errorf("query attr = %q, want archived=false", got)
	}
	if got := attrs["status"].Int64(); got != int64(http.StatusOK) {
		t.Errorf("status attr = %d, want 200", got)
	}
	if id := attrs["request_id"].String(); id == "" || id == "<nil>" {
		t.Errorf("request_id attr = %q, want a generated identifier", id)
	}
}

func newCORSRouter(origins, methods []string) *gin.Engine {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = origins
	cfg.Security.CORS.AllowedMethods = methods

	r := gin.New()
	r.Use(corsMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"exact origin match", []string{"https://billing.example.com"}, "https://billing.example.com", "https://billing.example.com"},
		{"wildcard reflects origin", []string{"*"}, "https://anything.example", "https://anything.example"},
		{"wildcard without origin header", []string{"*"}, "", "*"},
		{"unlisted origin gets nothing", []string{"https://allowed.example"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCORSRouter(tt.origins, nil)
			w := doRequest(r, http.MethodGet, "/", tt.origin)

			if w.Code != http.StatusOK {
				t.Errorf("status code = %d, want 200", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	r := newCORSRouter([]string{"*"}, nil)
	w := doRequest(r, http.MethodOptions, "/", "https://billing.example.com")

	if w.Code != http.StatusNoContent {
		t.Errorf("status code = %d, want 204 for preflight", w.Code)
	}
}

func TestCORSMiddleware_ConfiguredMethodsAreAdvertised(t *testing.T) {
	r := newCORSRouter([]string{"*"}, []string{"GET", "POST"})
	w := doRequest(r, http.MethodGet, "/", "https://billing.example.com")

	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, "GET, POST")
	}
}

func TestAPIDocs(t *testing.T) {
	r := gin.New()
	mountAPIDocs(r)

	t.Run("ui page carries a matching csp nonce", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/api-docs/", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want 200", w.Code)
		}

		csp := w.Header().Get("Content-Security-Policy")
		const marker = "'nonce-"
		i := strings.Index(csp, marker)
		if i < 0 {
			t.Fatalf("CSP %q carries no nonce", csp)
		}
		rest := csp[i+len(marker):]
		nonce := rest[:strings.Index(rest, "'")]
		if !strings.Contains(w.Body.String(), fmt.Sprintf("nonce=%q", nonce)) {
			t.Errorf("page body does not embed the CSP nonce %q", nonce)
		}
	})

	t.Run("each request gets a fresh nonce", func(t *testing.T) {
		first := doRequest(r, http.MethodGet, "/api-docs/", "").Header().Get("Content-Security-Policy")
		second := doRequest(r, http.MethodGet, "/api-docs/", "").Header().Get("Content-Security-Policy")
		if first == second {
			t.Error("two requests produced the same CSP nonce")
		}
	})

	t.Run("bare path redirects to the slash form", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/api-docs", "")
		if w.Code != http.StatusMovedPermanently {
			t.Fatalf("status code = %d, want 301", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/api-docs/" {
			t.Errorf("Location = %q, want /api-docs/", loc)
		}
	})

	t.Run("swagger json is public", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/swagger.json", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want 200", w.Code)
		}
		if !json.Valid(w.Body.Bytes()) {
			t.Error("swagger.json response is not valid JSON")
		}
	})
}

func TestNewTokenCipher_EnvForms(t *testing.T) {
	goodSalt := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef"))

	tests := []struct {
		name       string
		key        string
		passphrase string
		salt       string
		wantErr    bool
	}{
		{"direct 32-byte key", strings.Repeat("k", 32), "", "", false},
		{"key wins over passphrase", strings.Repeat("k", 32), "unused", "ignored-!!!", false},
		{"key of the wrong length", "too-short", "", "", true},
		{"passphrase with salt", "", "moose and lingonberries", goodSalt, false},
		{"passphrase with undecodable salt", "", "moose and lingonberries", "!!!not-base64!!!", true},
		{"passphrase with empty salt", "", "moose and lingonberries", "", true},
		{"nothing set", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENCRYPTION_KEY", tt.key)
			t.Setenv("ENCRYPTION_PASSPHRASE", tt.passphrase)
			t.Setenv("ENCRYPTION_SALT", tt.salt)

			cipher, err := newTokenCipher()
			if tt.wantErr {
				if err == nil {
					t.Fatal("newTokenCipher() = nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newTokenCipher() error: %v", err)
			}

			sealed, err := cipher.Seal("refresh-token")
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			opened, err := cipher.Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if opened != "refresh-token" {
				t.Errorf("round trip = %q, want refresh-token", opened)
			}
		})
	}
}
