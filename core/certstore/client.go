package certstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/maypok86/otter"

	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/runtime"
)

const (
	// DefaultCacheTTL bounds how long a fetched Info is reused.
	DefaultCacheTTL = 30 * time.Second

	// DefaultCacheSize bounds the number of cached names.
	DefaultCacheSize = 1024
)

// Doer performs a raw control API request. *runtime.Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, body []byte) ([]byte, int, error)
}

// Client manages TLS bundles in the runtime certificate store.
type Client struct {
	api    Doer
	cache  otter.Cache[string, Info]
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*config)

type config struct {
	ttl    time.Duration
	size   int
	logger *slog.Logger
}

// WithCacheTTL sets the Info cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithCacheSize sets the Info cache capacity.
func WithCacheSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a certificate store client on top of the control API.
func New(api Doer, opts ...Option) (*Client, error) {
	cfg := config{
		ttl:    DefaultCacheTTL,
		size:   DefaultCacheSize,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache, err := otter.MustBuilder[string, Info](cfg.size).
		WithTTL(cfg.ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("certstore: build cache: %w", err)
	}
	return &Client{api: api, cache: cache, logger: cfg.logger}, nil
}

func certPath(name string) string {
	return "/certificates/" + url.PathEscape(name)
}

// Add uploads a PEM bundle (chain followed by private key) under name.
// The runtime refuses to overwrite an existing bundle; use Replace.
func (c *Client) Add(ctx context.Context, name string, bundle []byte) error {
	if len(bundle) == 0 {
		return ErrEmptyBundle
	}
	defer c.cache.Delete(name)

	data, status, err := c.api.Do(ctx, http.MethodPut, certPath(name), bundle)
	if err != nil {
		return fmt.Errorf("upload certificate %s: %w", name, err)
	}
	if err := runtime.CheckReply(status, data); err != nil {
		return fmt.Errorf("upload certificate %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "certificate uploaded", logger.Component("certstore"), logger.Host(name))
	return nil
}

// Remove deletes the bundle stored under name.
func (c *Client) Remove(ctx context.Context, name string) error {
	defer c.cache.Delete(name)

	data, status, err := c.api.Do(ctx, http.MethodDelete, certPath(name), nil)
	if err != nil {
		return fmt.Errorf("remove certificate %s: %w", name, err)
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if err := runtime.CheckReply(status, data); err != nil {
		return fmt.Errorf("remove certificate %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "certificate removed", logger.Component("certstore"), logger.Host(name))
	return nil
}

// Replace removes any bundle stored under name, then uploads bundle.
// The store has no upsert for TLS bundles.
func (c *Client) Replace(ctx context.Context, name string, bundle []byte) error {
	if len(bundle) == 0 {
		return ErrEmptyBundle
	}
	if err := c.Remove(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return c.Add(ctx, name, bundle)
}

// List returns the leaf Info of every stored bundle and refreshes the cache.
func (c *Client) List(ctx context.Context) (map[string]Info, error) {
	data, status, err := c.api.Do(ctx, http.MethodGet, "/certificates", nil)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list certificates: %w", runtime.CheckReply(status, data))
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode certificates: %w", runtime.ErrProtocolViolation, err)
	}

	out := make(map[string]Info, len(entries))
	for name, e := range entries {
		leaf, err := e.Leaf()
		if err != nil {
			c.logger.WarnContext(ctx, "skipping certificate without chain",
				logger.Component("certstore"), logger.Host(name))
			continue
		}
		out[name] = leaf
		c.cache.Set(name, leaf)
	}
	return out, nil
}

// Info returns the leaf certificate stored under name, or ErrNotFound.
func (c *Client) Info(ctx context.Context, name string) (Info, error) {
	if info, ok := c.cache.Get(name); ok {
		return info, nil
	}

	data, status, err := c.api.Do(ctx, http.MethodGet, certPath(name)+"/chain", nil)
	if err != nil {
		return Info{}, fmt.Errorf("get certificate %s: %w", name, err)
	}
	if status == http.StatusNotFound {
		return Info{}, ErrNotFound
	}
	if status != http.StatusOK {
		return Info{}, fmt.Errorf("get certificate %s: %w", name, runtime.CheckReply(status, data))
	}

	var chain []Info
	if err := json.Unmarshal(data, &chain); err != nil {
		return Info{}, fmt.Errorf("%w: decode chain of %s: %w", runtime.ErrProtocolViolation, name, err)
	}
	leaf, err := Entry{Chain: chain}.Leaf()
	if err != nil {
		return Info{}, fmt.Errorf("certificate %s: %w", name, err)
	}
	c.cache.Set(name, leaf)
	return leaf, nil
}

// Partition splits stored certificates into those still valid past the
// renewal window and those expiring within it.
func (c *Client) Partition(ctx context.Context, now time.Time) (valid, expiring []string, err error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	for name, info := range all {
		if info.NeedsRenewal(now) {
			expiring = append(expiring, name)
		} else {
			valid = append(valid, name)
		}
	}
	slices.Sort(valid)
	slices.Sort(expiring)
	return valid, expiring, nil
}

// Close releases the cache.
func (c *Client) Close() {
	c.cache.Close()
}
