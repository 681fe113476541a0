// Package cache provides the expiring key/value store used for on-chain
// account snapshots.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	gcache "github.com/Code-Hex/go-generics-cache"

	"multisig-console/internal/observability"
)

// DefaultTTL is applied when Set is called without an explicit ttl.
const DefaultTTL = 30 * time.Second

type options struct {
	ttl          time.Duration
	name         string
	janitorCtx   context.Context
	janitorEvery time.Duration
}

// Option configures a TTL cache.
type Option func(*options)

// WithTTL overrides the default entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithName sets the metric label of the cache.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithJanitor sweeps expired entries every interval until ctx is done.
// Without it expired entries are only removed when looked up.
func WithJanitor(ctx context.Context, interval time.Duration) Option {
	return func(o *options) {
		o.janitorCtx = ctx
		o.janitorEvery = interval
	}
}

// TTL is a string-keyed cache whose entries expire after a fixed lifetime.
// Values are stored and replaced whole; callers must treat them as immutable.
type TTL[V any] struct {
	// mu makes the expiry check and the lazy delete atomic per key and keeps
	// pattern sweeps from interleaving with writes.
	mu    sync.Mutex
	items *gcache.Cache[string, V]
	ttl   time.Duration
	name  string
}

// New creates an empty cache.
func New[V any](opts ...Option) *TTL[V] {
	o := options{ttl: DefaultTTL, name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	var items *gcache.Cache[string, V]
	if o.janitorCtx != nil && o.janitorEvery > 0 {
		items = gcache.NewContext(o.janitorCtx, gcache.WithJanitorInterval[string, V](o.janitorEvery))
	} else {
		items = gcache.New[string, V]()
	}

	return &TTL[V]{items: items, ttl: o.ttl, name: o.name}
}

// DefaultTTL returns the lifetime used when Set is called without ttl.
func (c *TTL[V]) DefaultTTL() time.Duration { return c.ttl }

// Set stores value under key for ttl, or the default lifetime when ttl is
// omitted or non-positive.
func (c *TTL[V]) Set(key string, value V, ttl ...time.Duration) {
	d := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(key, value, gcache.WithExpiration(d))
}

// Get returns the live value for key. An expired entry is deleted and
// reported as absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.lookup(key)
	c.mu.Unlock()

	observability.RecordCacheLookup(c.name, ok)
	return v, ok
}

// Has reports whether key holds a live value.
func (c *TTL[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

// lookup must be called with mu held.
func (c *TTL[V]) lookup(key string) (V, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		c.items.Delete(key)
	}
	return v, ok
}

// Invalidate removes key.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	c.items.Delete(key)
	c.mu.Unlock()

	observability.RecordCacheInvalidation(c.name, "key", 1)
}

// InvalidatePattern removes every key containing substr and returns how many
// were removed. substr is a literal, not a regular expression.
func (c *TTL[V]) InvalidatePattern(substr string) int {
	c.mu.Lock()
	removed := 0
	for _, k := range c.items.Keys() {
		if strings.Contains(k, substr) {
			c.items.Delete(k)
			removed++
		}
	}
	c.mu.Unlock()

	observability.RecordCacheInvalidation(c.name, "pattern", removed)
	return removed
}

// Clear removes every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	keys := c.items.Keys()
	for _, k := range keys {
		c.items.Delete(k)
	}
	c.mu.Unlock()

	observability.RecordCacheInvalidation(c.name, "clear", len(keys))
}

// Keys returns the keys holding live values, dropping expired ones.
func (c *TTL[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.items.Keys()
	live := keys[:0]
	for _, k := range keys {
		if _, ok := c.lookup(k); ok {
			live = append(live, k)
		}
	}
	return live
}

// Len returns the number of live entries.
func (c *TTL[V]) Len() int {
	return len(c.Keys())
}
