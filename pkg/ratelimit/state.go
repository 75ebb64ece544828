// Package ratelimit tracks the backend's request budget from response headers
// and gates outgoing requests before the budget runs out.
//
// The backend reports X-RateLimit-Remaining and X-RateLimit-Reset on every
// response and Retry-After on 429. State lives in Redis when several processes
// share one budget, otherwise in memory.
package ratelimit

import (
	"time"
)

// Redis keys for shared state.
const (
	RedisKeyRemaining = "nv:rate_limit:remaining"
	RedisKeyResetAt   = "nv:rate_limit:reset_at"
	RedisKeyUpdatedAt = "nv:rate_limit:updated_at"
)

// Default thresholds on the remaining request budget.
const (
	// ThresholdCritical blocks requests while fewer requests remain.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests while fewer requests remain.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget as healthy at or above this value.
	ThresholdHealthy = 50
)

// Thresholds holds the budget levels a Tracker acts on.
type Thresholds struct {
	Critical int
	Warning  int
}

// DefaultThresholds returns the package defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: ThresholdCritical, Warning: ThresholdWarning}
}

// State is the last known request budget.
type State struct {
	// Remaining is taken from X-RateLimit-Remaining, or 0 after a 429.
	Remaining int `json:"remaining"`

	// ResetAt is when the budget refills.
	ResetAt time.Time `json:"reset_at"`

	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsStale reports whether the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}

// Expired reports whether the budget window has already reset, making
// Remaining meaningless.
func (s *State) Expired() bool {
	return !time.Now().Before(s.ResetAt)
}

// IsHealthy reports whether the budget is comfortably above the thresholds.
func (s *State) IsHealthy() bool {
	return s.Expired() || s.Remaining >= ThresholdHealthy
}

// NeedsBlock reports whether requests must wait for the reset.
func (s *State) NeedsBlock(th Thresholds) bool {
	return !s.Expired() && s.Remaining < th.Critical
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *State) NeedsThrottling(th Thresholds) bool {
	return !s.Expired() && s.Remaining < th.Warning && !s.NeedsBlock(th)
}

// TimeUntilReset returns the time until the budget refills, or 0.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
