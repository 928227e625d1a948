// Package ttscanner is a Go client for the scanner backend's REST API: source
// lookup, favorites, and per-source metadata.
package ttscanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scanwatch/internal/util"
)

// Client talks to the scanner backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	userID     string
	attempts   int
	retryDelay time.Duration
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithToken sends "Authorization: Token <token>" on every request.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithUser sets the external user id that owns favorites.
func WithUser(id string) Option { return func(c *Client) { c.userID = id } }

// WithRetry sets how many times idempotent reads are attempted and the
// initial delay between attempts.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		c.attempts = max(attempts, 1)
		c.retryDelay = base
	}
}

// WithRateLimit paces outgoing requests.
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = util.NewRateLimiter(perMinute, burst)
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient creates a new scanner API client. baseURL is the API root, e.g.
// "https://scanner.example.com/api".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "ttscanner")
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the configured auth token.
func (c *Client) Token() string { return c.token }

// UserID returns the configured external user id.
func (c *Client) UserID() string { return c.userID }

func (c *Client) url(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs a single request and returns the response body of a 2xx
// response. Non-2xx responses become *APIError; transport failures become an
// *APIError with Status 0.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, q), rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NormalizeError(resp.StatusCode, data)
	}
	return data, nil
}

// get performs an idempotent read with bounded retry. Only transient failures
// (network, 429, 5xx) are retried.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	var out []byte
	attempt := 0
	err := util.Retry(ctx, c.attempts, c.retryDelay, func() error {
		attempt++
		b, err := c.do(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return util.Permanent(err)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return util.Permanent(err)
			}
			c.log.Debug("request failed", "path", path, "attempt", attempt, "error", err)
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	b, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }
