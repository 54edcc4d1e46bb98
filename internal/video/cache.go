package video

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ViewerCache fronts the platform's viewer stats API with a short-TTL redis
// cache so polling clients don't fan out to the platform on every request.
// With no redis configured it passes straight through.
type ViewerCache struct {
	platform Platform
	rdb      *redis.Client
	ttl      time.Duration
}

// NewViewerCache creates a viewer-count cache. rdb may be nil.
func NewViewerCache(platform Platform, rdb *redis.Client, ttl time.Duration) *ViewerCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ViewerCache{platform: platform, rdb: rdb, ttl: ttl}
}

// ViewerCount returns the cached viewer count for a playback ID, querying
// the platform on a miss.
func (c *ViewerCache) ViewerCount(ctx context.Context, playbackID string) (int64, error) {
	key := "viewers:" + playbackID

	if c.rdb != nil {
		if val, err := c.rdb.Get(ctx, key).Result(); err == nil {
			if n, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	n, err := c.platform.ViewerCount(ctx, playbackID)
	if err != nil {
		return 0, fmt.Errorf("viewer count: %w", err)
	}

	if c.rdb != nil {
		// Cache write failures are not worth failing the read over.
		c.rdb.Set(ctx, key, strconv.FormatInt(n, 10), c.ttl)
	}
	return n, nil
}
