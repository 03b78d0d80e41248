package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// MaxResponseSize bounds a single FHIR response body (64 MB); Binary
// envelopes for scanned PDFs are the largest thing the reader downloads.
const MaxResponseSize = 64 * 1024 * 1024

const mimeFHIRJSON = "application/fhir+json"

// Client issues authenticated GET requests against one FHIR base URL.
// It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. When a token source is
// also configured its transport is wrapped, not replaced.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource attaches bearer tokens from ts to every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the FHIR server rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("fhir: base URL is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("fhir: parse base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("fhir: base URL must be absolute: %q", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens != nil {
		transport := c.http.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		wrapped := *c.http
		wrapped.Transport = &oauth2.Transport{Source: c.tokens, Base: transport}
		c.http = &wrapped
	}
	return c, nil
}

// BaseURL returns the server root this client talks to.
func (c *Client) BaseURL() string { return c.base.String() }

// AccessToken returns the current bearer token, or "" when the client is
// unauthenticated.
func (c *Client) AccessToken() (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("fhir: obtain access token: %w", err)
	}
	return tok.AccessToken, nil
}

// Resolve turns a reference (relative such as "Encounter?_count=100" or
// "Binary/123", or an absolute paging link) into a request URL. Absolute
// references must share the base URL's scheme and host.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() || u.Host != "" {
		u = c.base.ResolveReference(u)
		if !strings.EqualFold(u.Scheme, c.base.Scheme) || !strings.EqualFold(u.Host, c.base.Host) {
			return nil, fmt.Errorf("%w: %s", ErrForeignOrigin, u.Redacted())
		}
		return u, nil
	}
	return c.base.ResolveReference(u), nil
}

// Get fetches ref and decodes the JSON body into out. Transport failures and
// non-2xx statuses are returned as *FetchError; a body that is empty or not
// JSON is a *FetchError wrapping ErrMalformedResponse.
func (c *Client) Get(ctx context.Context, ref string, out interface{}) error {
	u, err := c.Resolve(ref)
	if err != nil {
		return &FetchError{URL: ref, Err: err}
	}
	target := u.String()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{URL: target, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &FetchError{URL: target, Err: err}
	}
	req.Header.Set("Accept", mimeFHIRJSON)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str("url", target).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("latency", time.Since(start)).
		Msg("fhir request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Outcome:    ParseOperationOutcome(body),
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: empty body", ErrMalformedResponse)}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}

// Read fetches a single resource by type and id.
func (c *Client) Read(ctx context.Context, resourceType, id string) (Resource, error) {
	if resourceType == "" || id == "" {
		return nil, fmt.Errorf("fhir: resource type and id are required")
	}
	var r Resource
	if err := c.Get(ctx, resourceType+"/"+url.PathEscape(id), &r); err != nil {
		return nil, err
	}
	if rt := r.ResourceType(); rt != resourceType {
		return nil, &FetchError{URL: resourceType + "/" + id, Err: fmt.Errorf("%w: expected %s, got %q", ErrMalformedResponse, resourceType, rt)}
	}
	return r, nil
}
