package override

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sync/singleflight"
)

// cacheEntry is the outcome of resolving a host: addresses or an error.
type cacheEntry struct {
	addrs  []net.IPAddr
	err    error
	source string // explicit, hosts or fallback.
}

// cache memoizes lookups per canonical host name. At most one computation per
// key runs at a time: concurrent callers for the same key wait for and share
// the result of the computation in flight.
type cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	group   singleflight.Group
}

func newCache() *cache {
	return &cache{entries: map[string]*cacheEntry{}}
}

func (c *cache) get(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// load returns the cached entry for key, or calls compute to get it. The
// returned shared is true if the result came from another caller's
// computation or from the cache. Whether an entry is stored is decided by
// keep. Computations run with the values of ctx, but are not canceled along
// with it: waiting callers whose ctx is done return early with ctx's error,
// other callers still receive the result.
func (c *cache) load(ctx context.Context, key string, compute func(ctx context.Context) *cacheEntry, keep func(*cacheEntry) bool) (e *cacheEntry, shared bool, err error) {
	if e, ok := c.get(key); ok {
		return e, true, nil
	}

	computed := false
	ch := c.group.DoChan(key, func() (any, error) {
		// An entry may have been stored after our cache check, before the
		// computation in flight at the time finished.
		if e, ok := c.get(key); ok {
			return e, nil
		}
		computed = true
		e := compute(context.WithoutCancel(ctx))
		if keep(e) {
			c.mu.Lock()
			c.entries[key] = e
			c.mu.Unlock()
		}
		return e, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		return r.Val.(*cacheEntry), !computed, nil
	}
}
