package fortnox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chronobill/chronobill/internal/accounting"
)

func newTestOAuthClient(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OAuthClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewOAuthClient(srv.URL, srv.Client())
}

// tokenResponse writes a success answer the way the token endpoint does.
// The content type matters: the oauth2 package picks its parser from it.
func tokenResponse(w http.ResponseWriter, accessToken, refreshToken string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "bearer",
		"expires_in":    3600,
	})
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

func TestNewOAuthClient_Defaults(t *testing.T) {
	o := NewOAuthClient("", nil)
	if o.authBaseURL != DefaultAuthBaseURL {
		t.Errorf("authBaseURL = %q, want %q", o.authBaseURL, DefaultAuthBaseURL)
	}
	if o.httpClient == nil {
		t.Error("httpClient is nil, want default client")
	}
}

// ---------------------------------------------------------------------------
// AuthorizationURL
// ---------------------------------------------------------------------------

func TestAuthorizationURL(t *testing.T) {
	o := NewOAuthClient("", nil)
	u := o.AuthorizationURL("myclient", "http://localhost/cb", "state42", []string{"companyinformation", "invoice"})
	if !strings.HasPrefix(u, DefaultAuthBaseURL+authPath) {
		t.Errorf("unexpected endpoint: %s", u)
	}
	if !strings.Contains(u, "client_id=myclient") {
		t.Errorf("missing client_id: %s", u)
	}
	if !strings.Contains(u, "response_type=code") {
		t.Errorf("missing response_type: %s", u)
	}
	if !strings.Contains(u, "state=state42") {
		t.Errorf("missing state: %s", u)
	}
	if !strings.Contains(u, "access_type=offline") {
		t.Errorf("missing access_type: %s", u)
	}
}

// ---------------------------------------------------------------------------
// ExchangeCode
// ---------------------------------------------------------------------------

func TestExchangeCode_Success(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "cid" || pass != "secret" {
			t.Errorf("basic auth = %q/%q, want cid/secret", user, pass)
		}
		if got := r.FormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("code"); got != "authcode" {
			t.Errorf("code = %q", got)
		}
		tokenResponse(w, "at-new", "rt-new")
	})

	ts, err := o.ExchangeCode(context.Background(), "cid", "secret", "authcode", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeCode error: %v", err)
	}
	if ts.AccessToken != "at-new" {
		t.Errorf("AccessToken = %q, want at-new", ts.AccessToken)
	}
	if ts.RefreshToken != "rt-new" {
		t.Errorf("RefreshToken = %q, want rt-new", ts.RefreshToken)
	}
	if ts.ExpiresAt <= time.Now().UnixMilli() {
		t.Errorf("ExpiresAt = %d, want future", ts.ExpiresAt)
	}
	if ts.RefreshExpiresAt <= time.Now().Add(44*24*time.Hour).UnixMilli() {
		t.Errorf("RefreshExpiresAt = %d, want ~45 days out", ts.RefreshExpiresAt)
	}
}

func TestExchangeCode_InvalidGrant(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "Authorization code is invalid or expired")
	})

	_, err := o.ExchangeCode(context.Background(), "cid", "secret", "spent-code", "http://localhost/cb")
	var exchErr *accounting.AuthExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("error = %v, want AuthExchangeError", err)
	}
	if exchErr.Code != "invalid_grant" {
		t.Errorf("Code = %q, want invalid_grant", exchErr.Code)
	}
	if exchErr.Message != "Authorization code is invalid or expired" {
		t.Errorf("Message = %q", exchErr.Message)
	}
}

func TestExchangeCode_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	o := NewOAuthClient(srv.URL, &http.Client{Timeout: time.Second})

	_, err := o.ExchangeCode(context.Background(), "cid", "secret", "code", "http://localhost/cb")
	var exchErr *accounting.AuthExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("error = %v, want AuthExchangeError", err)
	}
	if exchErr.Code != "" {
		t.Errorf("Code = %q, want empty for transport failure", exchErr.Code)
	}
}

// ---------------------------------------------------------------------------
// Renew
// ---------------------------------------------------------------------------

func TestRenew_RotatesRefreshToken(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		tokenResponse(w, "at-refreshed", "rt-rotated")
	})

	ts, err := o.Renew(context.Background(), "cid", "secret", "rt-old")
	if err != nil {
		t.Fatalf("Renew error: %v", err)
	}
	if ts.AccessToken != "at-refreshed" {
		t.Errorf("AccessToken = %q, want at-refreshed", ts.AccessToken)
	}
	if ts.RefreshToken != "rt-rotated" {
		t.Errorf("RefreshToken = %q, want rt-rotated", ts.RefreshToken)
	}
}

func TestRenew_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		tokenResponse(w, "at-refreshed", "")
	})

	ts, err := o.Renew(context.Background(), "cid", "secret", "rt-old")
	if err != nil {
		t.Fatalf("Renew error: %v", err)
	}
	if ts.RefreshToken != "rt-old" {
		t.Errorf("RefreshToken = %q, want rt-old carried over", ts.RefreshToken)
	}
}

func TestRenew_InvalidGrantIsPermanent(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
	})

	_, err := o.Renew(context.Background(), "cid", "secret", "rt-dead")
	var refreshErr *accounting.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if !refreshErr.Permanent {
		t.Error("Permanent = false, want true for invalid_grant")
	}
	if refreshErr.Code != "invalid_grant" {
		t.Errorf("Code = %q, want invalid_grant", refreshErr.Code)
	}
}

func TestRenew_ServerErrorIsTransient(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		oauthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "Maintenance window")
	})

	_, err := o.Renew(context.Background(), "cid", "secret", "rt-ok")
	var refreshErr *accounting.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if refreshErr.Permanent {
		t.Error("Permanent = true, want false for 503")
	}
}

// ---------------------------------------------------------------------------
// MigrateLegacyToken
// ---------------------------------------------------------------------------

func TestMigrateLegacyToken_Success(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "cid" || pass != "secret" {
			t.Errorf("basic auth = %q/%q, want cid/secret", user, pass)
		}
		if got := r.FormValue("access_token"); got != "legacy-token" {
			t.Errorf("access_token = %q", got)
		}
		tokenResponse(w, "at-migrated", "rt-migrated")
	})

	ts, err := o.MigrateLegacyToken(context.Background(), "cid", "secret", "legacy-token")
	if err != nil {
		t.Fatalf("MigrateLegacyToken error: %v", err)
	}
	if ts.AccessToken != "at-migrated" {
		t.Errorf("AccessToken = %q, want at-migrated", ts.AccessToken)
	}
	if ts.RefreshToken != "rt-migrated" {
		t.Errorf("RefreshToken = %q, want rt-migrated", ts.RefreshToken)
	}
	if ts.RefreshExpiresAt <= time.Now().Add(44*24*time.Hour).UnixMilli() {
		t.Errorf("RefreshExpiresAt = %d, want ~45 days out", ts.RefreshExpiresAt)
	}
}

func TestMigrateLegacyToken_UnknownTokenIsTerminal(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "could not find migratable token",
		})
	})

	_, err := o.MigrateLegacyToken(context.Background(), "cid", "secret", "gone")
	var migErr *accounting.MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("error = %v, want MigrationError", err)
	}
	if !migErr.Terminal {
		t.Error("Terminal = false, want true for unknown token")
	}
	if migErr.Message != "could not find migratable token" {
		t.Errorf("Message = %q", migErr.Message)
	}
}

func TestMigrateLegacyToken_NotFoundStatusIsTerminal(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such token", http.StatusNotFound)
	})

	_, err := o.MigrateLegacyToken(context.Background(), "cid", "secret", "gone")
	var migErr *accounting.MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("error = %v, want MigrationError", err)
	}
	if !migErr.Terminal {
		t.Error("Terminal = false, want true for 404")
	}
}

func TestMigrateLegacyToken_ServerErrorIsTransient(t *testing.T) {
	_, o := newTestOAuthClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	})

	_, err := o.MigrateLegacyToken(context.Background(), "cid", "secret", "legacy-token")
	var migErr *accounting.MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("error = %v, want MigrationError", err)
	}
	if migErr.Terminal {
		t.Error("Terminal = true, want false for 502")
	}
}
