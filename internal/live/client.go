package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Client opens event streams over HTTP. The underlying http.Client must not
// carry a request timeout since streams stay open indefinitely.
type Client struct {
	http  *http.Client
	token string
	log   *slog.Logger
}

// NewClient creates a stream client. A nil httpClient uses a fresh client
// without timeout. token, when set, is sent as "Authorization: Token ...".
func NewClient(httpClient *http.Client, token string, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{http: httpClient, token: token, log: log}
}

// Stream connects to url and calls onEvent for every event until ctx is
// cancelled or the connection ends. onOpen runs once the server has accepted
// the stream. lastID, when set, is sent as Last-Event-ID.
//
// The returned reader exposes the last event id and the server-requested
// retry delay for the next connection attempt. Stream always returns a
// non-nil error; io.EOF means the server closed the stream cleanly.
func (c *Client) Stream(ctx context.Context, url, lastID string, onOpen func(), onEvent func(Event)) (*EventReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stream %s: status %d: %s", url, resp.StatusCode, body)
	}

	c.log.Debug("event stream connected", "url", url)
	if onOpen != nil {
		onOpen()
	}

	er := NewEventReader(resp.Body)
	for {
		ev, err := er.Next()
		if err != nil {
			return er, err
		}
		onEvent(ev)
	}
}
