// Package api is the client for the seller analytics REST API. The sync
// engine treats the API as a black-box data source: each registry domain
// maps to one GET endpoint whose JSON body is stored in the cache as-is.
package api

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

	"github.com/storesync/storesync/internal/cache"
	"github.com/storesync/storesync/internal/registry"
)

// DefaultTimeout bounds a single request when the caller sets none.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected http status code")

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError carries the status code of a failed request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %d", ErrUnexpectedStatus, e.Code)
	}
	return fmt.Sprintf("%v: %d: %s", ErrUnexpectedStatus, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return ErrUnauthorized
	}
	return ErrUnexpectedStatus
}

// Config holds client configuration.
type Config struct {
	// BaseURL of the API, e.g. https://api.example.com
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout per request
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client fetches analytics data for a store.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New creates a client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url %q: %w", config.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("failed to parse base url %q: missing scheme or host", config.BaseURL)
	}

	hc := config.HTTPClient
	if hc == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{base: base, token: config.Token, http: hc}, nil
}

// Get fetches path relative to the base URL and decodes the JSON body into
// generic values.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	u := c.base.String() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var data any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return data, nil
}

// Fetch loads the data of one registry domain for tenantID.
func (c *Client) Fetch(ctx context.Context, desc registry.Descriptor, tenantID string) (any, error) {
	return c.Get(ctx, desc.ResolvePath(tenantID))
}

// Fetcher returns a cache.Fetcher for desc. The tenant is taken from the
// second key segment, so one fetcher serves every store.
func (c *Client) Fetcher(desc registry.Descriptor) cache.Fetcher {
	return func(ctx context.Context, key cache.Key) (any, error) {
		if len(key) < 2 {
			return nil, fmt.Errorf("failed to fetch %s: key has no tenant segment", key)
		}
		return c.Fetch(ctx, desc, key[1])
	}
}

// MountAll mounts a fetcher for every descriptor of reg under tenantID and
// returns a function that unmounts them all.
func (c *Client) MountAll(store *cache.Store, reg *registry.Registry, tenantID string) (unmount func()) {
	descs := reg.All()
	unmounts := make([]func(), 0, len(descs))
	for _, d := range descs {
		unmounts = append(unmounts, store.Mount(d.QueryKey(tenantID), c.Fetcher(d)))
	}
	return func() {
		for _, u := range unmounts {
			u()
		}
	}
}

// Prime fetches every domain of reg for tenantID and stores the results.
// Failed domains are skipped; their errors are joined.
func (c *Client) Prime(ctx context.Context, store *cache.Store, reg *registry.Registry, tenantID string) error {
	var errs []error
	for _, d := range reg.All() {
		data, err := c.Fetch(ctx, d, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to prime %s: %w", d.Type, err))
			continue
		}
		store.Set(d.QueryKey(tenantID), data)
	}
	return errors.Join(errs...)
}
