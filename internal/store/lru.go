package store

import (
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// unbounded is the size handed to simplelru so that it never evicts on its
// own; capacity is enforced by overflowLRU instead.
const unbounded = math.MaxInt32

type entry[V any] struct {
	value      V
	lastAccess time.Time
}

// overflowLRU is a recency-ordered cache whose capacity is a target rather
// than a hard limit: eviction is driven by the owner, who may skip entries
// that refuse to leave. It is not safe for concurrent use.
type overflowLRU[K comparable, V any] struct {
	capacity int // 0 pins the cache
	list     *simplelru.LRU[K, *entry[V]]
	now      func() time.Time
}

func newOverflowLRU[K comparable, V any](capacity int) *overflowLRU[K, V] {
	l, err := simplelru.NewLRU[K, *entry[V]](unbounded, nil)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &overflowLRU[K, V]{capacity: capacity, list: l, now: time.Now}
}

func (c *overflowLRU[K, V]) get(k K) (V, bool) {
	e, ok := c.list.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	e.lastAccess = c.now()
	return e.value, true
}

func (c *overflowLRU[K, V]) peek(k K) (V, bool) {
	e, ok := c.list.Peek(k)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *overflowLRU[K, V]) lastAccess(k K) (time.Time, bool) {
	e, ok := c.list.Peek(k)
	if !ok {
		return time.Time{}, false
	}
	return e.lastAccess, true
}

func (c *overflowLRU[K, V]) put(k K, v V) {
	c.list.Add(k, &entry[V]{value: v, lastAccess: c.now()})
}

func (c *overflowLRU[K, V]) remove(k K) (V, bool) {
	e, ok := c.list.Peek(k)
	if !ok {
		var zero V
		return zero, false
	}
	c.list.Remove(k)
	return e.value, true
}

func (c *overflowLRU[K, V]) len() int { return c.list.Len() }

// overflow is the number of entries above capacity.
func (c *overflowLRU[K, V]) overflow() int {
	if c.capacity <= 0 {
		return 0
	}
	if n := c.list.Len() - c.capacity; n > 0 {
		return n
	}
	return 0
}

// candidates lists keys from least to most recently used, skipping keep.
func (c *overflowLRU[K, V]) candidates(keep K) []K {
	keys := c.list.Keys()
	out := keys[:0]
	for _, k := range keys {
		if k != keep {
			out = append(out, k)
		}
	}
	return out
}

func (c *overflowLRU[K, V]) keys() []K { return c.list.Keys() }
