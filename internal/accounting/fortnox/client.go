// Package fortnox implements the accounting provider interfaces against the
// Fortnox REST API v3. Payloads are wrapped in named root objects
// ({"Customer": …}, {"Invoice": …}) and errors arrive as an ErrorInformation
// body carrying Fortnox's own numeric code and message.
package fortnox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chronobill/chronobill/internal/accounting"
	"github.com/chronobill/chronobill/internal/telemetry"
)

const (
	// DefaultAPIBaseURL is the production resource API root.
	DefaultAPIBaseURL = "https://api.fortnox.se"

	// errCodeArticleNotFound is Fortnox's code for an invoice row referencing
	// an article number the account does not have.
	errCodeArticleNotFound = 2001302
)

// articleNumberPattern pulls the offending article number out of Fortnox's
// article-not-found message ("Artikelnummer 1042 existerar inte." and
// variants).
var articleNumberPattern = regexp.MustCompile(`(?i)artikel(?:nummer)?\s+"?([^\s".,]+)"?`)

// Client talks to the Fortnox resource API. Access tokens come from the
// injected TokenSource on every call; a 401 answer triggers exactly one forced
// refresh and one replay before giving up.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     accounting.TokenSource
}

// NewClient creates a resource client. An empty baseURL selects production;
// tests point it at a local server.
func NewClient(baseURL string, tokens accounting.TokenSource, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, tokens: tokens}
}

// do runs one API call: marshal payload, inject the bearer token, classify the
// response. On 401 it refreshes the token once and replays the request once;
// everything else is decided by the first answer.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("fortnox: marshal %s %s payload: %w", method, path, err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fortnox: obtain access token: %w", err)
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return accounting.NewAPIError(0, fmt.Sprintf("fortnox: %s %s failed", method, path), err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The stored token was rejected; it may have been rotated by another
		// process or revoked. One refresh, one replay.
		drain(resp)
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return fmt.Errorf("fortnox: refresh after unauthorized: %w", err)
		}
		resp, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return accounting.NewAPIError(0, fmt.Sprintf("fortnox: %s %s failed", method, path), err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.classify(resp, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("fortnox: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.ProviderRequestsTotal.WithLabelValues(resourceFromPath(path), method, "error").Inc()
		return nil, err
	}
	telemetry.ProviderRequestsTotal.WithLabelValues(resourceFromPath(path), method, statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// resourceFromPath reduces an API path to its resource family so the metric
// label stays bounded: "/3/articles/100" becomes "articles".
func resourceFromPath(path string) string {
	p := strings.TrimPrefix(path, "/3/")
	if i := strings.IndexAny(p, "/?"); i >= 0 {
		p = p[:i]
	}
	return p
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// classify turns a non-2xx answer into the error taxonomy. Validation bodies
// keep Fortnox's code and message verbatim; the article-not-found class
// additionally parses the offending article number for the exporter's
// create-and-resubmit pass.
func (c *Client) classify(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(resp.Body)

	var wire struct {
		ErrorInformation struct {
			Error   int    `json:"Error"`
			Message string `json:"Message"`
			Code    int    `json:"Code"`
		} `json:"ErrorInformation"`
	}
	_ = json.Unmarshal(raw, &wire)

	code := wire.ErrorInformation.Code
	message := wire.ErrorInformation.Message
	if message == "" {
		message = fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &accounting.APIError{StatusCode: resp.StatusCode, Code: code, Message: message}
	case resp.StatusCode == http.StatusBadRequest && code == errCodeArticleNotFound:
		if m := articleNumberPattern.FindStringSubmatch(message); m != nil {
			return &accounting.ArticleNotFoundError{ArticleNumber: m[1], Message: message}
		}
		return &accounting.ValidationError{Code: code, Message: message}
	case resp.StatusCode == http.StatusBadRequest && code != 0:
		return &accounting.ValidationError{Code: code, Message: message}
	default:
		return &accounting.APIError{StatusCode: resp.StatusCode, Code: code, Message: message}
	}
}

// notFound reports whether err is the API's 404 answer, so resource methods
// can translate it into a typed NotFoundError with context.
func notFound(err error) bool {
	var apiErr *accounting.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// formatQuantity renders a quantity the way the API expects: a plain decimal
// string without exponent or trailing zeros.
func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
