// Package cache is a bounded in-memory TTL cache. Ledger entries never change
// once written, so the statement layer keeps lookups by reference here.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds a cache built without WithMaxEntries.
const DefaultMaxEntries = 10_000

type item[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

// InMemory evicts the least recently used key once full. Expired keys are
// dropped lazily on Get and by a sweeper running every TTL.
type InMemory[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	now   func() time.Time
	order *list.List // front is most recently used
	items map[string]*list.Element

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures an InMemory cache.
type Option func(*config)

type config struct {
	max int
	now func() time.Time
}

// WithMaxEntries caps the number of live keys.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithNow replaces time.Now for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates a cache whose entries live for ttl (one minute when ttl <= 0).
func New[T any](ttl time.Duration, opts ...Option) *InMemory[T] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cfg := config{max: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &InMemory[T]{
		ttl:   ttl,
		max:   cfg.max,
		now:   cfg.now,
		order: list.New(),
		items: make(map[string]*list.Element),
		stop:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the value for key and marks it recently used.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok && c.now().After(el.Value.(*item[T]).expiresAt) {
		c.removeLocked(el)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		var zero T
		return zero, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(el)
	return el.Value.(*item[T]).value, true
}

// Set stores value under key, evicting the least recently used key when full.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[T])
		it.value, it.expiresAt = value, expires
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&item[T]{key: key, value: value, expiresAt: expires})
	for c.order.Len() > c.max {
		c.removeLocked(c.order.Back())
		c.evictions.Add(1)
	}
}

// Delete removes key if present.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len reports the number of stored keys, expired ones included until swept.
func (c *InMemory[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit, miss and eviction counts since creation.
func (c *InMemory[T]) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// Close stops the sweeper. It is safe to call more than once.
func (c *InMemory[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemory[T]) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*item[T]).key)
}

func (c *InMemory[T]) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		now := c.now()
		for el := c.order.Back(); el != nil; {
			prev := el.Prev()
			if now.After(el.Value.(*item[T]).expiresAt) {
				c.removeLocked(el)
			}
			el = prev
		}
		c.mu.Unlock()
	}
}
