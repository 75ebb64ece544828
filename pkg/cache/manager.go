package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the key is absent or expired in every layer.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultMemoryEntries is the memory layer size when none is configured.
const DefaultMemoryEntries = 512

// Options configures a Manager.
type Options struct {
	// MemoryEntries bounds the in-process LRU layer.
	MemoryEntries int

	// Redis enables the shared layer. Nil keeps the cache in memory only.
	Redis *redis.Client
}

// Manager caches responses in an in-process LRU and, when configured, in Redis.
type Manager struct {
	memory *lru.Cache[string, *Entry]
	redis  *redis.Client
}

// NewManager creates a cache manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}

	memory, err := lru.New[string, *Entry](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &Manager{
		memory: memory,
		redis:  opts.Redis,
	}, nil
}

// Shared reports whether the Redis layer is enabled.
func (m *Manager) Shared() bool {
	return m.redis != nil
}

// Get returns the entry for key from the memory layer, then from Redis.
// A Redis hit is copied into memory. Returns ErrCacheMiss if nothing fresh
// is stored.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	k := key.String()

	// Expired memory entries stay until evicted so Peek can revalidate them.
	if entry, ok := m.memory.Get(k); ok && !entry.IsExpired() {
		CacheHits.WithLabelValues("memory").Inc()
		return entry, nil
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.memory.Add(k, &entry)
	CacheEntries.Set(float64(m.memory.Len()))

	return &entry, nil
}

// Set stores entry in every layer until its Expires time. An expired entry
// is kept in memory only if it can be revalidated, and otherwise dropped.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 && !entry.Revalidatable() {
		return nil
	}

	k := key.String()
	m.memory.Add(k, entry)
	CacheEntries.Set(float64(m.memory.Len()))

	if m.redis == nil || ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, k, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes key from every layer.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	k := key.String()
	m.memory.Remove(k)
	CacheEntries.Set(float64(m.memory.Len()))

	if m.redis == nil {
		return nil
	}

	if err := m.redis.Del(ctx, k).Err(); err != nil {
		CacheErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// UpdateTTL moves the expiry of a stored entry, typically after a 304.
func (m *Manager) UpdateTTL(ctx context.Context, key Key, expires time.Time) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	updated := *entry
	updated.Expires = expires
	return m.Set(ctx, key, &updated)
}

// Peek returns the entry for key from memory even if it has expired. It is
// used to revalidate stale entries with a conditional request.
func (m *Manager) Peek(key Key) (*Entry, bool) {
	return m.memory.Peek(key.String())
}

// Len returns the number of entries in the memory layer.
func (m *Manager) Len() int {
	return m.memory.Len()
}

// Purge empties the memory layer.
func (m *Manager) Purge() {
	m.memory.Purge()
	CacheEntries.Set(0)
}
