package cache

import lru "github.com/hashicorp/golang-lru/v2"

// Counted is a count-bounded Backing: it holds at most a fixed number of
// entries and evicts least-recently-used ones. Suited to small handles
// rather than raw content.
type Counted[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

var _ Backing[string, any] = (*Counted[string, any])(nil)

// NewCounted creates a Counted backing holding at most size entries.
func NewCounted[K comparable, V any](size int) (*Counted[K, V], error) {
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &Counted[K, V]{lru: c}, nil
}

// Get retrieves the value for key.
func (c *Counted[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Add stores the value for key, evicting the least-recently-used entry when
// the cache is full.
func (c *Counted[K, V]) Add(key K, value V) {
	c.lru.Add(key, value)
}

// Remove evicts key.
func (c *Counted[K, V]) Remove(key K) {
	c.lru.Remove(key)
}
