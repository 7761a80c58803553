package scenarios

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/showroomhq/showroom-backend/pkg/db/models"
)

// DefaultTTL is how long a loaded snapshot is served without a reload.
const DefaultTTL = 5 * time.Minute

// Cache holds a TTL-bound snapshot of the active scenarios. Concurrent
// callers that find the snapshot stale share a single underlying load.
// Once a snapshot exists, reads return it immediately even while a refresh
// is in flight.
type Cache struct {
	repo  Repository
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	snapshot []models.Scenario
	loadedAt time.Time
	loaded   bool
}

// CacheParams groups cache dependencies.
type CacheParams struct {
	Repo Repository
	TTL  time.Duration
	Now  func() time.Time
}

// NewCache wires a scenario cache.
func NewCache(params CacheParams) (*Cache, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("scenario repository required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{repo: params.Repo, ttl: ttl, now: now}, nil
}

// Snapshot returns the cached active scenarios, loading them on first use
// and refreshing once per TTL window. A stale snapshot is served while the
// refresh runs in the background.
func (c *Cache) Snapshot(ctx context.Context) ([]models.Scenario, error) {
	c.mu.RLock()
	loaded := c.loaded
	fresh := loaded && c.now().Sub(c.loadedAt) < c.ttl
	snapshot := c.snapshot
	c.mu.RUnlock()

	if fresh {
		return snapshot, nil
	}
	if loaded {
		go func() {
			_, _ = c.Refresh(context.WithoutCancel(ctx))
		}()
		return snapshot, nil
	}
	return c.Refresh(ctx)
}

// Refresh forces a load, coalescing concurrent calls into one repository
// read.
func (c *Cache) Refresh(ctx context.Context) ([]models.Scenario, error) {
	result, err, _ := c.group.Do("scenarios", func() (any, error) {
		scenarios, err := c.repo.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshot = scenarios
		c.loadedAt = c.now()
		c.loaded = true
		c.mu.Unlock()
		return scenarios, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Scenario), nil
}
