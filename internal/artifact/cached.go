package artifact

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int

	ListTTL        time.Duration
	ListMaxEntries int

	URLTTL        time.Duration
	URLMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 256,
		ListTTL:        30 * time.Second,
		ListMaxEntries: 512,
		// Must stay below presignExpiry.
		URLTTL:        5 * time.Minute,
		URLMaxEntries: 1024,
	}
}

type CacheStats struct {
	Hits        uint64
	Misses      uint64
	OriginReads uint64
	OriginErrs  uint64
}

// Cached is a read-through cache in front of a remote Store. Writes go to
// the origin first and then refresh the cache.
type Cached struct {
	origin Store

	blobs *expirable.LRU[string, []byte]
	lists *expirable.LRU[string, []string]
	urls  *expirable.LRU[string, string]

	hits, misses, originReads, originErrs atomic.Uint64
}

func NewCached(origin Store, cfg CacheConfig) *Cached {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	if cfg.ListMaxEntries <= 0 {
		cfg.ListMaxEntries = def.ListMaxEntries
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = def.URLTTL
	}
	if cfg.URLMaxEntries <= 0 {
		cfg.URLMaxEntries = def.URLMaxEntries
	}
	return &Cached{
		origin: origin,
		blobs:  expirable.NewLRU[string, []byte](cfg.BlobMaxEntries, nil, cfg.BlobTTL),
		lists:  expirable.NewLRU[string, []string](cfg.ListMaxEntries, nil, cfg.ListTTL),
		urls:   expirable.NewLRU[string, string](cfg.URLMaxEntries, nil, cfg.URLTTL),
	}
}

func (c *Cached) Put(ctx context.Context, runID, path string, content []byte) error {
	if err := c.origin.Put(ctx, runID, path, content); err != nil {
		c.originErrs.Add(1)
		return err
	}
	key := cacheKey(runID, path)
	c.blobs.Add(key, append([]byte(nil), content...))
	c.lists.Remove(strings.TrimSpace(runID))
	c.urls.Remove(key)
	return nil
}

func (c *Cached) Get(ctx context.Context, runID, path string) ([]byte, error) {
	key := cacheKey(runID, path)
	if raw, ok := c.blobs.Get(key); ok {
		c.hits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	c.misses.Add(1)
	raw, err := c.fromOrigin(func() (any, error) { return c.origin.Get(ctx, runID, path) })
	if err != nil {
		return nil, err
	}
	b := raw.([]byte)
	c.blobs.Add(key, append([]byte(nil), b...))
	return b, nil
}

func (c *Cached) GetURL(ctx context.Context, runID, path string) (string, error) {
	key := cacheKey(runID, path)
	if u, ok := c.urls.Get(key); ok {
		c.hits.Add(1)
		return u, nil
	}
	c.misses.Add(1)
	raw, err := c.fromOrigin(func() (any, error) { return c.origin.GetURL(ctx, runID, path) })
	if err != nil {
		return "", err
	}
	u := raw.(string)
	if u != "" {
		c.urls.Add(key, u)
	}
	return u, nil
}

func (c *Cached) List(ctx context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if list, ok := c.lists.Get(runID); ok {
		c.hits.Add(1)
		return append([]string(nil), list...), nil
	}
	c.misses.Add(1)
	raw, err := c.fromOrigin(func() (any, error) { return c.origin.List(ctx, runID) })
	if err != nil {
		return nil, err
	}
	list := raw.([]string)
	c.lists.Add(runID, append([]string(nil), list...))
	return list, nil
}

func (c *Cached) fromOrigin(read func() (any, error)) (any, error) {
	c.originReads.Add(1)
	v, err := read()
	if err != nil {
		c.originErrs.Add(1)
	}
	return v, err
}

func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		OriginReads: c.originReads.Load(),
		OriginErrs:  c.originErrs.Load(),
	}
}

// Close purges the caches and closes the origin if it can be closed.
func (c *Cached) Close() error {
	c.blobs.Purge()
	c.lists.Purge()
	c.urls.Purge()
	if closer, ok := c.origin.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func cacheKey(runID, path string) string {
	return strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
}
