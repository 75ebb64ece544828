package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Response headers read by the tracker.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// DefaultThrottleDelay is the pause applied in the warning band.
const DefaultThrottleDelay = 500 * time.Millisecond

// defaultRetryAfter applies to a 429 without a usable Retry-After.
const defaultRetryAfter = 5 * time.Second

// epochCutoff separates "seconds until reset" from a Unix timestamp in
// X-RateLimit-Reset.
const epochCutoff = 1_000_000_000

var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_rate_limit_remaining",
		Help: "Requests remaining in the current backend rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_rate_limit_blocks_total",
		Help: "Total number of requests blocked until the rate limit window reset",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_rate_limit_throttles_total",
		Help: "Total number of requests delayed in the rate limit warning band",
	})
)

// Tracker records the backend's rate limit and gates requests.
type Tracker struct {
	store         Store
	thresholds    Thresholds
	throttleDelay time.Duration
	logger        zerolog.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) { t.thresholds = th }
}

// WithThrottleDelay overrides DefaultThrottleDelay.
func WithThrottleDelay(d time.Duration) Option {
	return func(t *Tracker) { t.throttleDelay = d }
}

// NewTracker creates a tracker. A nil store keeps state in memory.
func NewTracker(store Store, logger zerolog.Logger, opts ...Option) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	t := &Tracker{
		store:         store,
		thresholds:    DefaultThresholds(),
		throttleDelay: DefaultThrottleDelay,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the current state. Without recorded state the budget is
// assumed healthy.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		t.logger.Debug().Msg("No rate limit state recorded, assuming healthy")
		now := time.Now()
		return &State{Remaining: ThresholdHealthy * 2, ResetAt: now, UpdatedAt: now}, nil
	}
	return state, nil
}

// UpdateFromResponse records the budget reported by a response. A 429 drains
// the budget until Retry-After has passed.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if status == http.StatusTooManyRequests {
		wait := ParseRetryAfter(headers.Get(HeaderRetryAfter), time.Now())
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		return t.save(ctx, 0, wait)
	}
	return t.UpdateFromHeaders(ctx, headers)
}

// UpdateFromHeaders records X-RateLimit-Remaining and X-RateLimit-Reset.
// Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	var wait time.Duration
	if reset >= epochCutoff {
		wait = time.Until(time.Unix(reset, 0))
	} else {
		wait = time.Duration(reset) * time.Second
	}

	return t.save(ctx, remain, wait)
}

func (t *Tracker) save(ctx context.Context, remain int, wait time.Duration) error {
	rateLimitRemaining.Set(float64(remain))
	if wait <= 0 {
		// The window already reset; nothing worth remembering.
		return nil
	}

	now := time.Now()
	state := State{Remaining: remain, ResetAt: now.Add(wait), UpdatedAt: now}
	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	switch {
	case state.NeedsBlock(t.thresholds):
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit critical - requests will be blocked")
	case state.NeedsThrottling(t.thresholds):
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit warning - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. In the
// critical band it returns false; in the warning band it waits for the
// throttle delay first, returning early with ctx's error if ctx ends.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsBlock(t.thresholds) {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.thresholds) {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttleDelay).
			Msg("Rate limit warning - throttling request")
		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// WaitTime returns how long a blocked caller has to wait, or 0.
func (t *Tracker) WaitTime(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}
	if !state.NeedsBlock(t.thresholds) {
		return 0, nil
	}
	return state.TimeUntilReset(), nil
}

// ParseRetryAfter reads a Retry-After value given either as seconds or as an
// HTTP date. It returns 0 for empty or malformed values.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
