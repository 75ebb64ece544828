// Package client is the HTTP client for the marketplace REST backend, with
// rate limiting, response caching, retries and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nairobi-verified/marketplace-client/pkg/cache"
	"github.com/nairobi-verified/marketplace-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HeaderRequestID correlates a request with backend logs.
const HeaderRequestID = "X-Request-ID"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_requests_total",
		Help: "Total backend requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketplace_request_duration_seconds",
		Help:    "Backend request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// Client talks to the marketplace backend.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	retry       RetryConfig
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.nairobiverified.co.ke/api".
	BaseURL string

	// UserAgent identifies this client to the backend.
	UserAgent string

	// Redis enables the shared cache layer and shared rate limit state.
	// Nil keeps both in process.
	Redis *redis.Client

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	MaxRetries     int // Retries after the first attempt
	InitialBackoff time.Duration

	// Caching
	CacheTTL           time.Duration // Used when a response does not state its lifetime
	MemoryCacheEntries int

	// ErrorThreshold blocks requests while fewer requests remain in the
	// backend's rate limit window.
	ErrorThreshold int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:            baseURL,
		UserAgent:          userAgent,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		InitialBackoff:     500 * time.Millisecond,
		CacheTTL:           cache.DefaultTTL,
		MemoryCacheEntries: cache.DefaultMemoryEntries,
		ErrorThreshold:     ratelimit.ThresholdCritical,
	}
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, errors.New("user-agent is required")
	}

	if cfg.ErrorThreshold < 1 {
		return nil, fmt.Errorf("error_threshold must be >= 1 (got %d)", cfg.ErrorThreshold)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	logger := log.With().Str("component", "marketplace-client").Logger()

	cacheManager, err := cache.NewManager(cache.Options{
		MemoryEntries: cfg.MemoryCacheEntries,
		Redis:         cfg.Redis,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	var store ratelimit.Store
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
	}
	rateLimiter := ratelimit.NewTracker(store, logger.With().Str("component", "rate-limit").Logger(),
		ratelimit.WithThresholds(ratelimit.Thresholds{
			Critical: cfg.ErrorThreshold,
			Warning:  cfg.ErrorThreshold * 4,
		}))

	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	if cfg.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.InitialBackoff
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     base,
		rateLimiter: rateLimiter,
		cache:       cacheManager,
		retry:       retry,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs req with caching, rate limiting and retries.
//
// Fresh cached GET responses are returned without a request. Stale ones are
// revalidated and a 304 is answered from cache. 4xx responses other than 429
// are returned as is for the caller to handle; 5xx, 429 and network failures
// are retried and surface as an error once attempts run out.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Cache
	cacheable := req.Method == http.MethodGet
	var (
		key   cache.Key
		stale *cache.Entry
	)
	if cacheable {
		key = cache.KeyFor(req.URL)

		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			requestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			c.logger.Debug().Str("endpoint", endpoint).Str("key", key.String()).Msg("Served from cache")
			return cache.EntryToResponse(entry), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if e, ok := c.cache.Peek(key); ok && cache.ShouldMakeConditionalRequest(e) {
			stale = e
			cache.AddConditionalHeaders(req, e)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", e.ETag).
				Msg("Making conditional request")
		}
	}

	// Step 2: Rate limit
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, &APIError{
			StatusCode: http.StatusTooManyRequests,
			Class:      ErrorClassRateLimit,
			Message:    "blocked until the rate limit window resets",
			Err:        ErrRateLimited,
		}
	}

	// Step 3: Headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
	requestID := req.Header.Get(HeaderRequestID)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("request_id", requestID).
		Msg("Executing request")

	// Step 4: Send with retries
	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.retry, c.logger, func() (ErrorClass, error) {
		r, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return ErrorClassNetwork, &APIError{
				Class:   ErrorClassNetwork,
				Message: "request failed",
				Err:     err,
			}
		}

		if err := c.rateLimiter.UpdateFromResponse(ctx, r.StatusCode, r.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		errorClass := classifyStatus(r.StatusCode)
		if errorClass == "" {
			resp = r
			return "", nil
		}

		errorsTotal.WithLabelValues(string(errorClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", r.StatusCode).
			Str("error_class", string(errorClass)).
			Str("request_id", requestID).
			Msg("Backend request error")

		if !shouldRetry(errorClass) {
			resp = r
			return "", nil
		}

		r.Body.Close()
		return errorClass, &APIError{
			StatusCode: r.StatusCode,
			Class:      errorClass,
			Message:    r.Status,
			RetryAfter: ratelimit.ParseRetryAfter(r.Header.Get(ratelimit.HeaderRetryAfter), time.Now()),
		}
	})
	if retryErr != nil {
		return nil, retryErr
	}

	// Step 5: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && stale != nil {
		resp.Body.Close()
		cache.NotModifiedResponses.Inc()

		refreshed := *stale
		refreshed.Expires = cache.Expiry(resp.Header, time.Now(), c.config.CacheTTL)
		if err := c.cache.Set(ctx, key, &refreshed); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}

		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		return cache.EntryToResponse(&refreshed), nil
	}

	// Step 6: Store 200 responses
	if cacheable && resp.StatusCode == http.StatusOK && cache.Storable(resp.Header) {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 || entry.Revalidatable() {
			if err := c.cache.Set(ctx, key, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// URL resolves path and params against the base URL.
func (c *Client) URL(path string, params url.Values) string {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = params.Encode()
	return u.String()
}

// Get performs a GET request to a backend path.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
