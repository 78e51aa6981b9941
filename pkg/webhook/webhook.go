// Package webhook is a minimal JSON-over-HTTP POST client used by action
// callbacks (wake trigger, protocol runs). It deliberately has no retry or
// queueing; callers that need delivery guarantees should go through the
// notification pipeline instead.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultConnectTimeout = 3 * time.Second
	defaultTotalTimeout   = 5 * time.Second
)

// Client posts JSON payloads. The zero value is not usable; construct with
// New. Safe for concurrent use.
type Client struct {
	http *http.Client
}

// Option customizes a Client.
type Option func(*clientCfg)

type clientCfg struct {
	connectTimeout time.Duration
	totalTimeout   time.Duration
}

// WithTimeouts overrides the connect and total timeouts. Zero values keep
// the defaults (3s connect, 5s total).
func WithTimeouts(connect, total time.Duration) Option {
	return func(c *clientCfg) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if total > 0 {
			c.totalTimeout = total
		}
	}
}

func New(opts ...Option) *Client {
	cfg := clientCfg{
		connectTimeout: defaultConnectTimeout,
		totalTimeout:   defaultTotalTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.totalTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: cfg.connectTimeout}).DialContext,
				TLSHandshakeTimeout:   cfg.connectTimeout,
				ResponseHeaderTimeout: cfg.totalTimeout,
				MaxIdleConns:          4,
				IdleConnTimeout:       30 * time.Second,
			},
		},
	}
}

// PostJSON marshals payload and POSTs it to url with a JSON content type.
// The response body is drained and discarded; any status outside 2xx is an
// error.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("webhook: url is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// ProtocolPayload is the wire shape consumed by the protocol-run endpoint.
type ProtocolPayload struct {
	ProtocolName string         `json:"protocol_name"`
	Arguments    map[string]any `json:"arguments"`
}

// PostProtocol posts a named protocol invocation. A nil args map marshals as
// {} rather than null, matching what the endpoint expects.
func (c *Client) PostProtocol(ctx context.Context, url, protocol string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	return c.PostJSON(ctx, url, ProtocolPayload{ProtocolName: protocol, Arguments: args})
}
