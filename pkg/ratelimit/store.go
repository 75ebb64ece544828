package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the rate limit state.
type Store interface {
	// Load returns the stored state, or nil if none is stored.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s State) error
}

// MemoryStore keeps state in the current process.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}

// RedisStore shares state between processes. Keys expire with the budget
// window so a stale block cannot outlive it.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	values, err := r.redis.MGet(ctx, RedisKeyRemaining, RedisKeyResetAt, RedisKeyUpdatedAt).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if values[0] == nil || values[1] == nil {
		return nil, nil
	}

	var remaining int
	var resetAt, updatedAt int64
	if _, err := fmt.Sscan(fmt.Sprint(values[0]), &remaining); err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	if _, err := fmt.Sscan(fmt.Sprint(values[1]), &resetAt); err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	if values[2] != nil {
		if _, err := fmt.Sscan(fmt.Sprint(values[2]), &updatedAt); err != nil {
			return nil, fmt.Errorf("parse update timestamp: %w", err)
		}
	}

	return &State{
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, s State) error {
	ttl := s.TimeUntilReset()
	if ttl <= 0 {
		return errors.New("rate limit window already reset")
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, s.Remaining, ttl)
	pipe.Set(ctx, RedisKeyResetAt, s.ResetAt.UnixMilli(), ttl)
	pipe.Set(ctx, RedisKeyUpdatedAt, s.UpdatedAt.UnixMilli(), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
