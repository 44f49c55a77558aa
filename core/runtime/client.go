package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

// DefaultURL is the runtime's default control address.
const DefaultURL = "http://127.0.0.1:8080"

// DefaultTimeout bounds a single control API request.
const DefaultTimeout = 30 * time.Second

// Client talks to the runtime control API over HTTP or a unix socket.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The unix socket
// transport is not applied to a custom client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.http.Timeout = d
	}
}

// New creates a client for rawURL. A "unix:///path/to/control.sock" URL
// dials the socket; anything else is used as the HTTP base URL.
func New(rawURL string, opts ...Option) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	c := &Client{
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger.Nop(),
	}

	switch u.Scheme {
	case "unix":
		socket := u.Path
		if socket == "" {
			return nil, fmt.Errorf("%w: empty socket path", ErrInvalidURL)
		}
		var d net.Dialer
		c.http.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return d.DialContext(ctx, "unix", socket)
			},
		}
		c.baseURL = "http://localhost"
	case "http", "https":
		c.baseURL = strings.TrimRight(u.String(), "/")
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends one request and returns the response body and status.
// Transport failures are wrapped with ErrUnavailable.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read %s %s: %w", ErrUnavailable, method, path, err)
	}

	c.logger.DebugContext(ctx, "control api request",
		logger.Component("runtime"),
		logger.RequestID(reqID),
		logger.Method(method),
		logger.Path(path),
		logger.StatusCode(resp.StatusCode),
		logger.Elapsed(start),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		return data, resp.StatusCode, fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, resp.StatusCode)
	}
	return data, resp.StatusCode, nil
}

// Config fetches the current configuration document.
func (c *Client) Config(ctx context.Context) (unitconf.Config, error) {
	data, status, err := c.Do(ctx, http.MethodGet, "/config", nil)
	if err != nil {
		return unitconf.Config{}, err
	}
	if status != http.StatusOK {
		return unitconf.Config{}, CheckReply(status, data)
	}
	var cfg unitconf.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return unitconf.Config{}, fmt.Errorf("%w: decode config: %w", ErrProtocolViolation, err)
	}
	return cfg, nil
}

// SetConfig replaces the whole configuration document.
func (c *Client) SetConfig(ctx context.Context, cfg unitconf.Config) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data, status, err := c.Do(ctx, http.MethodPut, "/config", body)
	if err != nil {
		return err
	}
	return CheckReply(status, data)
}

// reply is the runtime's answer to a mutating request.
type reply struct {
	Success *string `json:"success"`
	Error   *string `json:"error"`
	Detail  string  `json:"detail"`
}

// CheckReply maps a control API reply onto nil, *RejectedError or
// ErrProtocolViolation.
func CheckReply(status int, data []byte) error {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: status %d: %s", ErrProtocolViolation, status, truncate(data))
	}
	switch {
	case r.Success != nil && status < http.StatusBadRequest:
		return nil
	case r.Error != nil:
		return &RejectedError{Message: *r.Error, Detail: r.Detail, Status: status}
	}
	return fmt.Errorf("%w: status %d: %s", ErrProtocolViolation, status, truncate(data))
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
