package feed

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ProfileCache memoizes profile lookups. Concurrent requests for the same
// owner collapse into one upstream call; a successful result is kept until
// Invalidate. Failures are never cached.
type ProfileCache struct {
	provider ProfileProvider
	log      *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileCache wraps provider with an in-memory cache.
func NewProfileCache(provider ProfileProvider, log *slog.Logger) *ProfileCache {
	if log == nil {
		log = slog.Default()
	}
	return &ProfileCache{
		provider: provider,
		log:      log.With("component", "profile-cache"),
		profiles: make(map[string]*Profile),
	}
}

// Profile returns the cached profile for ownerID, fetching it on a miss.
func (c *ProfileCache) Profile(ctx context.Context, ownerID string) (*Profile, error) {
	c.mu.RLock()
	p, ok := c.profiles[ownerID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, shared := c.group.Do(ownerID, func() (any, error) {
		// Re-check: a concurrent fetch may have landed between the
		// read-lock release and the flight start.
		c.mu.RLock()
		p, ok := c.profiles[ownerID]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}

		p, err := c.provider.Profile(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.profiles[ownerID] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("profile fetch shared", "owner", ownerID)
	}
	return v.(*Profile), nil
}

// Invalidate drops the cached profile for ownerID, if any.
func (c *ProfileCache) Invalidate(ownerID string) {
	c.mu.Lock()
	delete(c.profiles, ownerID)
	c.mu.Unlock()
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
