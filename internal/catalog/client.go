// Package catalog is a client for the backend's REST collaborator endpoints:
// the schema browser and the data-source connection registry.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sentinel errors for the catalog client.
var (
	ErrNotFound          = errors.New("catalog: not found")
	ErrInvalidConnection = errors.New("catalog: invalid connection")
)

// DefaultTTL is how long schema and connection listings are served from cache.
const DefaultTTL = 30 * time.Second

const (
	schemaKey      = "schema"
	connectionsKey = "connections"
	maxErrorBody   = 4 << 10
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCacheTTL sets how long listings are cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to /api/schema and /api/connections on the backend.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	cache   *cache.Cache
	log     zerolog.Logger
}

// New creates a client for the backend at baseURL (e.g. http://localhost:8000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		ttl:     DefaultTTL,
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "catalog").Logger()
	if c.ttl > 0 {
		c.cache = cache.New(c.ttl, 2*c.ttl)
	}
	return c
}

// Schema returns the schema of every configured connection.
func (c *Client) Schema(ctx context.Context) (*Schema, error) {
	if v, ok := c.cached(schemaKey); ok {
		s := v.(Schema) //nolint:forcetypeassert // only Schema is stored under schemaKey
		s.Tables = slices.Clone(s.Tables)
		return &s, nil
	}

	var s Schema
	if err := c.do(ctx, http.MethodGet, "/api/schema", nil, &s); err != nil {
		return nil, fmt.Errorf("catalog.Client.Schema: %w", err)
	}
	if s.Tables == nil {
		s.Tables = []string{}
	}
	c.store(schemaKey, Schema{SchemaText: s.SchemaText, Tables: slices.Clone(s.Tables)})
	return &s, nil
}

// Connections lists the configured data sources.
func (c *Client) Connections(ctx context.Context) ([]Connection, error) {
	if v, ok := c.cached(connectionsKey); ok {
		conns := v.([]Connection) //nolint:forcetypeassert // only []Connection is stored under connectionsKey
		return slices.Clone(conns), nil
	}

	conns := make([]Connection, 0)
	if err := c.do(ctx, http.MethodGet, "/api/connections", nil, &conns); err != nil {
		return nil, fmt.Errorf("catalog.Client.Connections: %w", err)
	}
	c.store(connectionsKey, conns)
	return slices.Clone(conns), nil
}

// AddConnection registers a data source. The connection is normalized first.
func (c *Client) AddConnection(ctx context.Context, conn Connection) (*Connection, error) {
	conn = conn.Normalize()
	if conn.Name == "" || conn.ID == "" {
		return nil, fmt.Errorf("catalog.Client.AddConnection: %w: name is required", ErrInvalidConnection)
	}
	if !conn.Type.Valid() {
		return nil, fmt.Errorf("catalog.Client.AddConnection: %w: unknown type %q", ErrInvalidConnection, conn.Type)
	}

	var out Connection
	if err := c.do(ctx, http.MethodPost, "/api/connections", conn, &out); err != nil {
		return nil, fmt.Errorf("catalog.Client.AddConnection: %w", err)
	}
	c.Invalidate()
	c.log.Info().Str("connection_id", out.ID).Str("type", string(out.Type)).Msg("connection added")
	return &out, nil
}

// RemoveConnection deletes a data source by id.
func (c *Client) RemoveConnection(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("catalog.Client.RemoveConnection: %w: empty id", ErrInvalidConnection)
	}

	var out RemoveResult
	if err := c.do(ctx, http.MethodDelete, "/api/connections/"+url.PathEscape(id), nil, &out); err != nil {
		return fmt.Errorf("catalog.Client.RemoveConnection: %w", err)
	}
	c.Invalidate()
	c.log.Info().Str("connection_id", id).Msg("connection removed")
	return nil
}

// Invalidate drops every cached listing.
func (c *Client) Invalidate() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

func (c *Client) cached(key string) (any, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *Client) store(key string, v any) {
	if c.cache != nil {
		c.cache.Set(key, v, cache.DefaultExpiration)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, statusErr)
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
