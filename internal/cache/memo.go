package cache

import (
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Memo computes values keyed by a version number at most once per version.
// Concurrent callers asking for the same version share one computation.
type Memo[T any] struct {
	cache *LRUCache[T]
	group singleflight.Group
}

// NewMemo wraps an LRU cache.
func NewMemo[T any](c *LRUCache[T]) *Memo[T] {
	return &Memo[T]{cache: c}
}

// Get returns the value for version, calling compute on a miss.
func (m *Memo[T]) Get(version uint64, compute func() T) T {
	key := strconv.FormatUint(version, 10)
	if v, ok := m.cache.Get(key); ok {
		return v
	}
	v, _, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.cache.Get(key); ok {
			return v, nil
		}
		v := compute()
		m.cache.Set(key, v)
		return v, nil
	})
	return v.(T)
}

// Cache exposes the underlying LRU, e.g. for registration with a Manager.
func (m *Memo[T]) Cache() *LRUCache[T] {
	return m.cache
}
