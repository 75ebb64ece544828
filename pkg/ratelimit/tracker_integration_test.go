//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})

	return client
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	store := NewRedisStore(setupRedis(t))
	ctx := context.Background()

	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty Redis error = %v", err)
	}
	if state != nil {
		t.Fatalf("Load() on empty Redis = %+v, want nil", state)
	}

	now := time.Now()
	want := State{Remaining: 42, ResetAt: now.Add(time.Minute), UpdatedAt: now}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", got.Remaining)
	}
	if !got.ResetAt.Equal(time.UnixMilli(want.ResetAt.UnixMilli())) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, want.ResetAt)
	}
}

func TestRedisStore_Integration_KeysExpireWithWindow(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	now := time.Now()
	if err := store.Save(ctx, State{Remaining: 0, ResetAt: now.Add(time.Second), UpdatedAt: now}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	state, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state != nil {
		t.Errorf("state survived its window: %+v", state)
	}
}

func TestTracker_Integration_SharedBudget(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	// Two trackers model two processes behind the same backend budget.
	a := NewTracker(NewRedisStore(client), zerolog.Nop())
	b := NewTracker(NewRedisStore(client), zerolog.Nop())

	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "60")
	if err := a.UpdateFromResponse(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	allowed, err := b.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("second tracker ignored the shared 429")
	}
}

func TestTracker_Integration_UpdateFromHeaders(t *testing.T) {
	tracker := NewTracker(NewRedisStore(setupRedis(t)), zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name          string
		remainHeader  string
		resetHeader   string
		wantRemaining int
		wantHealthy   bool
	}{
		{"healthy update", "90", "60", 90, true},
		{"warning update", "15", "30", 15, false},
		{"critical update", "2", "45", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			headers.Set(HeaderRemaining, tt.remainHeader)
			headers.Set(HeaderReset, tt.resetHeader)

			if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			state, err := tracker.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
			if state.IsHealthy() != tt.wantHealthy {
				t.Errorf("IsHealthy() = %v, want %v", state.IsHealthy(), tt.wantHealthy)
			}
		})
	}
}
