package realtime

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"scheduleChat/pkg/api"
)

const defaultProfileCacheSize = 512

// placeholderProfile stands in for a sender whose profile could not be fetched.
var placeholderProfile = api.Profile{Name: "Unknown"}

// profileCache memoizes sender profiles for one session. Failed lookups are
// not cached so a later message retries them.
type profileCache struct {
	backend Backend

	mu    sync.Mutex
	cache *lru.Cache
}

func newProfileCache(backend Backend, size int) *profileCache {
	if size <= 0 {
		size = defaultProfileCacheSize
	}
	return &profileCache{backend: backend, cache: lru.New(size)}
}

func (c *profileCache) get(ctx context.Context, userId string) (api.Profile, error) {
	c.mu.Lock()
	v, ok := c.cache.Get(userId)
	c.mu.Unlock()
	if ok {
		return v.(api.Profile), nil
	}

	profile, err := c.backend.Profile(ctx, userId)
	if err != nil {
		return placeholderProfile, &EnrichmentError{UserId: userId, Err: err}
	}
	c.put(userId, profile)
	return profile, nil
}

func (c *profileCache) put(userId string, profile api.Profile) {
	c.mu.Lock()
	c.cache.Add(userId, profile)
	c.mu.Unlock()
}
