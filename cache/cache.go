// Package cache provides key-scoped, compute-once caches for
// content-addressed lookups.
//
// A Loading cache pairs a bounded backing (count-bounded or
// weight-bounded) with a fill function and a single-flight guarantee:
// concurrent misses for the same key run exactly one fill, and all callers
// observe its result. Negative results are never retained — immediately
// after an absent fill completes the key is evicted, so the next lookup
// re-checks the source. Content may legitimately arrive later through a
// separate writer.
package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Backing is bounded storage behind a Loading cache. Implementations must
// be safe for concurrent use and handle their own eviction.
type Backing[K comparable, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V)
	Remove(key K)
}

// Fill loads the value for a key from the backing source. found reports
// whether the key exists there; a false return is a valid, non-error
// result. A returned error leaves the key unfilled so a later call retries
// the source.
type Fill[K ~string, V any] func(ctx context.Context, key K) (V, bool, error)

// Loading is a compute-once cache over a Backing. Operations on different
// keys never block each other; operations on the same key are serialized
// through the single-flight fill, not through broader locks.
type Loading[K ~string, V any] struct {
	backing Backing[K, V]
	fill    Fill[K, V]
	group   singleflight.Group
}

// NewLoading creates a Loading cache over backing, filling misses with fill.
func NewLoading[K ~string, V any](backing Backing[K, V], fill Fill[K, V]) *Loading[K, V] {
	return &Loading[K, V]{backing: backing, fill: fill}
}

type lookup[V any] struct {
	value V
	found bool
}

// Get returns the cached value for key, running the fill on a miss.
//
// Concurrent calls for the same missing key share a single fill. An absent
// result propagates as found=false and is evicted immediately so the next
// Get re-checks the source. A fill error is returned to every waiting
// caller and nothing is cached.
func (l *Loading[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	// Fast path, avoids singleflight overhead.
	if v, ok := l.backing.Get(key); ok {
		return v, true, nil
	}

	result, err, _ := l.group.Do(string(key), func() (any, error) {
		// Double-check: another goroutine may have just filled this key
		// between our backing check and acquiring the flight.
		if v, ok := l.backing.Get(key); ok {
			return lookup[V]{value: v, found: true}, nil
		}

		v, found, err := l.fill(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			l.backing.Add(key, v)
		} else {
			// Never leave an absent result cached.
			l.backing.Remove(key)
		}
		return lookup[V]{value: v, found: found}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	res, _ := result.(lookup[V]) //nolint:errcheck // type assertion always succeeds when err is nil
	return res.value, res.found, nil
}

// Invalidate evicts key from the backing. The next Get re-runs the fill.
func (l *Loading[K, V]) Invalidate(key K) {
	l.backing.Remove(key)
}
