package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		updated  time.Time
		maxAge   time.Duration
		expected bool
	}{
		{"fresh state", time.Now(), 5 * time.Minute, false},
		{"stale state", time.Now().Add(-10 * time.Minute), 5 * time.Minute, true},
		{"just under max age", time.Now().Add(-4 * time.Minute), 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{UpdatedAt: tt.updated}
			if got := s.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Bands(t *testing.T) {
	th := DefaultThresholds()
	future := time.Now().Add(time.Minute)

	tests := []struct {
		name         string
		remaining    int
		resetAt      time.Time
		wantBlock    bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{"healthy", 100, future, false, false, true},
		{"at healthy threshold", ThresholdHealthy, future, false, false, true},
		{"between warning and healthy", 30, future, false, false, false},
		{"warning", 15, future, false, true, false},
		{"at critical threshold", ThresholdCritical, future, false, true, false},
		{"critical", 3, future, true, false, false},
		{"drained", 0, future, true, false, false},
		{"drained but window reset", 0, time.Now().Add(-time.Second), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Remaining: tt.remaining, ResetAt: tt.resetAt, UpdatedAt: time.Now()}

			if got := s.NeedsBlock(th); got != tt.wantBlock {
				t.Errorf("NeedsBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := s.NeedsThrottling(th); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if got := s.IsHealthy(); got != tt.wantHealthy {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.wantHealthy)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	s := &State{ResetAt: time.Now().Add(-time.Minute)}
	if got := s.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() for past reset = %v, want 0", got)
	}

	s = &State{ResetAt: time.Now().Add(30 * time.Second)}
	if got := s.TimeUntilReset(); got < 28*time.Second || got > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", got)
	}
}
