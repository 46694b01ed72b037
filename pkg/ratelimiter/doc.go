// Package ratelimiter provides fixed-window rate limiting with pluggable storage backends.
//
// This package implements a per-key fixed-window counter: each key gets a
// count and a window reset time, the count resets when the window elapses,
// and operations are denied once the count exceeds the configured maximum
// for the remainder of the window.
//
// # Why Fixed Window
//
// The algorithm is intentionally the simplest one that works. Its purpose is
// coarse overload protection (stopping a single runaway consumer from
// starving everyone else), not precise fairness or smooth burst shaping. If
// you need burst credit or sliding behavior, this is the wrong package.
//
// # Core Types
//
// Limiter applies the window check on top of a Store:
//   - Allow(ctx, key): consume one operation, report whether it fit
//   - Status(ctx, key): inspect the current window without consuming
//   - Reset(ctx, key): drop the key's counter entirely
//
// Store is the persistence contract (Incr/Peek/Reset). The in-memory
// implementation is suitable for single-process use; distributed backends
// can implement the same interface.
//
// # Usage
//
//	store := ratelimiter.NewMemoryStore()
//
//	limiter, err := ratelimiter.New(store, ratelimiter.Config{
//		MaxMessages: 100,
//		Window:      time.Minute,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := limiter.Allow(ctx, "client:123")
//	if err != nil {
//		log.Printf("rate limiter error: %v", err)
//		return
//	}
//	if !result.Allowed() {
//		log.Printf("rate limited, retry after %v", result.RetryAfter())
//		return
//	}
//
// # Memory Store Lifecycle
//
// MemoryStore keeps one counter per key and removes counters untouched for
// longer than a stale threshold via a background cleanup pass:
//
//	store := ratelimiter.NewMemoryStore(
//		ratelimiter.WithCleanupInterval(5 * time.Minute),
//	)
//	go store.Start(ctx) // or g.Go(store.Run(ctx)) with errgroup
//	defer store.Stop()
//
// # Thread Safety
//
// All types in this package are safe for concurrent use across multiple
// goroutines.
package ratelimiter
