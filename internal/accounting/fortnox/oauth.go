// oauth.go implements the Fortnox token surface: authorization-code exchange and
// refresh through golang.org/x/oauth2, plus the legacy access-token migration
// endpoint, which is a plain form POST rather than an OAuth grant.
package fortnox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/chronobill/chronobill/internal/accounting"
)

const (
	// DefaultAuthBaseURL hosts the OAuth and migration endpoints.
	DefaultAuthBaseURL = "https://apps.fortnox.se"

	authPath    = "/oauth-v1/auth"
	tokenPath   = "/oauth-v1/token"
	migratePath = "/oauth-v1/migrate"

	// refreshTokenLifetime is how long Fortnox honours a refresh token. The
	// token endpoint does not report it, so expiry is computed at issue time.
	refreshTokenLifetime = 45 * 24 * time.Hour

	// errInvalidGrant is the wire code for a spent authorization code or a
	// dead refresh token.
	errInvalidGrant = "invalid_grant"
)

// OAuthClient talks to the Fortnox OAuth and migration endpoints. Client
// credentials are passed per call because they live in the stored integration
// credential, not in server config.
type OAuthClient struct {
	authBaseURL string
	httpClient  *http.Client
}

// NewOAuthClient creates an OAuthClient. An empty authBaseURL selects the
// production endpoints; tests point it at a local server.
func NewOAuthClient(authBaseURL string, httpClient *http.Client) *OAuthClient {
	if authBaseURL == "" {
		authBaseURL = DefaultAuthBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{authBaseURL: authBaseURL, httpClient: httpClient}
}

// AuthorizationURL builds the URL the admin is sent to for granting access.
func (o *OAuthClient) AuthorizationURL(clientID, redirectURI, state string, scopes []string) string {
	cfg := o.config(clientID, "", redirectURI)
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("access_type", "offline"))
}

// ExchangeCode trades an authorization code for a token set. invalid_grant
// (spent or expired code) is reported as an AuthExchangeError carrying the wire
// code so handlers can tell the admin to re-run authorization.
func (o *OAuthClient) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*accounting.TokenSet, error) {
	cfg := o.config(clientID, clientSecret, redirectURI)

	tok, err := cfg.Exchange(o.withHTTPClient(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &accounting.AuthExchangeError{
				Code:    retrieveErr.ErrorCode,
				Message: retrieveErr.ErrorDescription,
				Err:     err,
			}
		}
		return nil, &accounting.AuthExchangeError{Message: "token endpoint unreachable", Err: err}
	}

	return o.tokenSet(tok), nil
}

// Renew trades a refresh token for a new token set. Fortnox rotates refresh
// tokens on every grant; the returned set carries whichever token the provider
// answered with. invalid_grant means the refresh token is dead and is reported
// as a permanent RefreshError.
func (o *OAuthClient) Renew(ctx context.Context, clientID, clientSecret, refreshToken string) (*accounting.TokenSet, error) {
	cfg := o.config(clientID, clientSecret, "")

	// A token with only a refresh token forces the refresh grant.
	src := cfg.TokenSource(o.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &accounting.RefreshError{
				Permanent: retrieveErr.ErrorCode == errInvalidGrant,
				Code:      retrieveErr.ErrorCode,
				Message:   retrieveErr.ErrorDescription,
				Err:       err,
			}
		}
		return nil, &accounting.RefreshError{Message: "token endpoint unreachable", Err: err}
	}

	return o.tokenSet(tok), nil
}

// MigrateLegacyToken converts a pre-OAuth access token into a refreshable token
// set. The provider answers "could not find migratable token" for tokens it no
// longer knows; that class is terminal and migration must not be retried.
func (o *OAuthClient) MigrateLegacyToken(ctx context.Context, clientID, clientSecret, accessToken string) (*accounting.TokenSet, error) {
	data := url.Values{}
	data.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, "POST", o.authBaseURL+migratePath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &accounting.MigrationError{Message: "migration endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg := migrationErrorMessage(body)
		return nil, &accounting.MigrationError{
			Terminal: resp.StatusCode == http.StatusNotFound || isTokenNotFoundMessage(msg),
			Message:  msg,
			Err:      fmt.Errorf("migration endpoint returned status %d", resp.StatusCode),
		}
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &accounting.MigrationError{Message: "malformed migration response", Err: err}
	}

	now := time.Now()
	return &accounting.TokenSet{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		ExpiresAt:        now.Add(time.Duration(result.ExpiresIn) * time.Second).UnixMilli(),
		RefreshExpiresAt: now.Add(refreshTokenLifetime).UnixMilli(),
	}, nil
}

func (o *OAuthClient) config(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.authBaseURL + authPath,
			TokenURL: o.authBaseURL + tokenPath,
			// Fortnox wants client credentials as Basic auth on the token endpoint.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// withHTTPClient makes the oauth2 package use our HTTP client.
func (o *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func (o *OAuthClient) tokenSet(tok *oauth2.Token) *accounting.TokenSet {
	return &accounting.TokenSet{
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		ExpiresAt:        tok.Expiry.UnixMilli(),
		RefreshExpiresAt: time.Now().Add(refreshTokenLifetime).UnixMilli(),
	}
}

func migrationErrorMessage(body []byte) string {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrorDescription != "" {
			return payload.ErrorDescription
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func isTokenNotFoundMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "could not find") || strings.Contains(lower, "not found")
}
