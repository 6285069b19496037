package stream

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

const defaultCacheSize = 64

// latticeCache shares fitted lattices between requests that carry the same
// curve. The cache holds one reference per entry; callers hold their own
// until they release it.
type latticeCache struct {
	store   *lattice.Store
	release func(lattice.Handle) error
	max     int
	log     *logger.Logger

	mu      sync.Mutex
	entries map[string]lattice.Handle
	group   singleflight.Group
}

func newLatticeCache(store *lattice.Store, release func(lattice.Handle) error, max int) *latticeCache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &latticeCache{
		store:   store,
		release: release,
		max:     max,
		log:     logger.GetLogger("stream.cache"),
		entries: make(map[string]lattice.Handle),
	}
}

// acquire returns a retained handle for key, fitting it at most once across
// concurrent callers
func (c *latticeCache) acquire(key string, fit func() (lattice.Handle, error)) (lattice.Handle, func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		if h, ok := c.retain(key); ok {
			return h, func() { c.drop(h) }, nil
		}
		_, err, _ := c.group.Do(key, func() (any, error) {
			c.mu.Lock()
			_, ok := c.entries[key]
			c.mu.Unlock()
			if ok {
				return nil, nil
			}
			h, err := fit()
			if err != nil {
				return nil, err
			}
			c.insert(key, h)
			return nil, nil
		})
		if err != nil {
			return lattice.NoTree, nil, err
		}
	}
	return lattice.NoTree, nil, errors.Internal("lattice evicted before use")
}

func (c *latticeCache) retain(key string) (lattice.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[key]
	if !ok {
		return lattice.NoTree, false
	}
	if err := c.store.Retain(h); err != nil {
		delete(c.entries, key)
		return lattice.NoTree, false
	}
	return h, true
}

// drop gives up one reference to h
func (c *latticeCache) drop(h lattice.Handle) {
	if err := c.release(h); err != nil {
		c.log.Warnw("Failed to release lattice", "handle", h, "error", err)
	}
}

// insert adds h, emptying the cache first when it is full
func (c *latticeCache) insert(key string, h lattice.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		for k, old := range c.entries {
			c.drop(old)
			delete(c.entries, k)
		}
	}
	c.entries[key] = h
}

// Len returns the number of cached lattices
func (c *latticeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// close releases every cached lattice
func (c *latticeCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, h := range c.entries {
		c.drop(h)
		delete(c.entries, k)
	}
}
