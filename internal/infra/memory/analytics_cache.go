package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizbook-tracker/internal/domain"
)

// AnalyticsCache keeps assembled analytics in process with a TTL.
type AnalyticsCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedAnalytics
}

type cachedAnalytics struct {
	analytics domain.Analytics
	expiresAt time.Time
}

func NewAnalyticsCache(ttl time.Duration) *AnalyticsCache {
	return &AnalyticsCache{
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedAnalytics),
	}
}

func (c *AnalyticsCache) Get(_ context.Context, ownerID, bookID string) (domain.Analytics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[ownerID+"/"+bookID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Analytics{}, false
	}
	return entry.analytics, true
}

func (c *AnalyticsCache) Set(_ context.Context, ownerID string, analytics domain.Analytics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl := c.ttlWithJitterLocked()
	if ttl <= 0 {
		return
	}
	c.cache[ownerID+"/"+analytics.QuizBookID] = cachedAnalytics{
		analytics: analytics,
		expiresAt: c.clock().Add(ttl),
	}
}

func (c *AnalyticsCache) Invalidate(_ context.Context, ownerID, bookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, ownerID+"/"+bookID)
}

func (c *AnalyticsCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
