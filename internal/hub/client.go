package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hotelhub/roomheating-exporter/internal/cache"
)

const (
	// CacheKeyPrefix is followed by the location id.
	CacheKeyPrefix = "roomheating:states:"

	DefaultCacheTTL = 30 * time.Second
	DefaultTimeout  = 30 * time.Second

	apiRunningMessage = "API running."
	maxErrorBody      = 512
)

// Options configures a Client for one location.
type Options struct {
	BaseURL  string
	Token    string
	Location string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// WriteHook runs after every successful service call.
type WriteHook func(ctx context.Context, domain, service string)

// ConnectionResult is the outcome of a reachability probe.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

// Client talks to the Home Assistant REST API of one location and caches full state snapshots.
type Client struct {
	location   string
	configured bool
	http       *resty.Client
	kv         cache.KVStore
	cacheTTL   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	hooks []WriteHook
}

// NewClient builds a client. kv may be nil to disable caching.
// The client registers its own cache invalidation as the first write hook.
func NewClient(opts Options, kv cache.KVStore, logger *zap.Logger) *Client {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	// no retries: a replayed set_temperature is not harmless
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(opts.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &Client{
		location:   opts.Location,
		configured: baseURL != "" && opts.Token != "",
		http:       httpClient,
		kv:         kv,
		cacheTTL:   ttl,
		logger:     logger.With(zap.String("location", opts.Location)),
		now:        time.Now,
	}
	c.OnWrite(func(ctx context.Context, domain, service string) {
		// the write already happened, a caller that goes away must not leave a stale snapshot
		c.InvalidateCache(context.WithoutCancel(ctx))
	})
	return c
}

// Location returns the location id the client is scoped to.
func (c *Client) Location() string {
	return c.location
}

// OnWrite registers a hook that runs after each successful CallService.
func (c *Client) OnWrite(hook WriteHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

func (c *Client) cacheKey() string {
	return CacheKeyPrefix + c.location
}

// Snapshot returns every entity known to the hub. With useCache a non-expired
// cached snapshot is returned without a network call. A fresh fetch always refreshes the cache.
func (c *Client) Snapshot(ctx context.Context, useCache bool) (*Snapshot, error) {
	if useCache {
		if snap, ok := c.cachedSnapshot(ctx); ok {
			return snap, nil
		}
	}

	body, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		c.logger.Error("Failed to decode hub states", zap.Error(err))
		return nil, &DecodeError{Endpoint: "/api/states", Err: err}
	}
	if entities == nil {
		c.logger.Error("Hub returned no state list")
		return nil, &DecodeError{Endpoint: "/api/states", Err: errors.New("state list is null")}
	}

	snap := NewSnapshot(entities, c.now())
	c.storeSnapshot(ctx, snap)

	c.logger.Debug("Fetched hub states",
		zap.Int("entity_count", len(entities)),
		zap.Bool("use_cache", useCache),
	)
	return snap, nil
}

func (c *Client) cachedSnapshot(ctx context.Context) (*Snapshot, bool) {
	if c.kv == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, c.cacheKey())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Snapshot cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("Discarding unreadable cached snapshot", zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (c *Client) storeSnapshot(ctx context.Context, snap *Snapshot) {
	if c.kv == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("Failed to encode snapshot for cache", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, c.cacheKey(), string(data), c.cacheTTL); err != nil {
		c.logger.Warn("Snapshot cache write failed", zap.Error(err))
	}
}

// InvalidateCache drops the cached snapshot of this location.
func (c *Client) InvalidateCache(ctx context.Context) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Delete(ctx, c.cacheKey()); err != nil {
		c.logger.Warn("Snapshot cache invalidation failed", zap.Error(err))
	}
}

// CallService issues a write command, e.g. climate/set_temperature.
// Write hooks run only when the hub accepted the call.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if domain == "" || service == "" {
		return fmt.Errorf("service domain and name are required")
	}
	if data == nil {
		data = map[string]any{}
	}
	endpoint := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))

	c.logger.Info("Calling hub service",
		zap.String("domain", domain),
		zap.String("service", service),
		zap.Any("data", data),
	)
	if _, err := c.do(ctx, http.MethodPost, endpoint, data); err != nil {
		return err
	}

	c.mu.RLock()
	hooks := make([]WriteHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, domain, service)
	}
	return nil
}

// TestConnection probes GET /api/ and reports the hub version when it answers.
func (c *Client) TestConnection(ctx context.Context) ConnectionResult {
	if !c.configured {
		return ConnectionResult{Success: false, Message: "URL and token are required."}
	}
	body, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return ConnectionResult{Success: false, Message: err.Error()}
	}

	var payload struct {
		Message string `json:"message"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message != apiRunningMessage {
		return ConnectionResult{Success: false, Message: "Unexpected response from Home Assistant."}
	}
	version := payload.Version
	if version == "" {
		version = "Unknown"
	}
	return ConnectionResult{Success: true, Message: "Connected successfully!", Version: version}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, endpoint)
	if err != nil {
		c.logger.Error("Hub request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil, &TransportError{Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(resp.String())
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		c.logger.Error("Hub returned error status",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status_code", status),
		)
		return nil, &HTTPError{Endpoint: endpoint, Status: status, Body: msg}
	}
	return resp.Body(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
