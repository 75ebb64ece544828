// Package cache stores backend list responses so repeated queries are served
// locally and revalidated cheaply.
//
// Two layers are used:
//
//   - an in-process LRU, always on, bounded by entry count
//   - an optional Redis layer shared by every process pointing at the same server
//
// Entries live until their Expires time, taken from Cache-Control max-age,
// then Expires, then a configured default. Stale entries that carry an ETag or
// Last-Modified are revalidated with a conditional request; a 304 extends the
// entry instead of transferring the body again.
//
// # Basic Usage
//
//	manager, err := cache.NewManager(cache.Options{MemoryEntries: 512})
//	if err != nil {
//		return err
//	}
//
//	key := cache.KeyFor(req.URL)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the backend, then:
//		entry, _ = cache.ResponseToEntry(resp, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - marketplace_cache_hits_total{layer} - hits per layer
//   - marketplace_cache_misses_total - lookups that found nothing
//   - marketplace_cache_memory_entries - memory layer size
//   - marketplace_conditional_requests_total - revalidations sent
//   - marketplace_304_responses_total - revalidations answered with 304
//   - marketplace_cache_errors_total{layer,operation} - failed operations
package cache
