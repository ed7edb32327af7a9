package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizbook-tracker/internal/domain"
)

// AnalyticsCache stores assembled analytics as JSON so every instance can share them.
// Values live at: SET quizbook:analytics:{ownerID}:{bookID} {analytics JSON} EX ttl
type AnalyticsCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAnalyticsCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *AnalyticsCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsCache{
		client: client,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnalyticsCache) Get(ctx context.Context, ownerID, bookID string) (domain.Analytics, bool) {
	raw, err := c.client.Get(ctx, c.key(ownerID, bookID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("read cached analytics", zap.String("book_id", bookID), zap.Error(err))
		}
		return domain.Analytics{}, false
	}
	var analytics domain.Analytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		c.log.Warn("decode cached analytics", zap.String("book_id", bookID), zap.Error(err))
		return domain.Analytics{}, false
	}
	return analytics, true
}

func (c *AnalyticsCache) Set(ctx context.Context, ownerID string, analytics domain.Analytics) {
	ttl := c.ttlWithJitter()
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(analytics)
	if err != nil {
		return
	}
	// best-effort; a miss only costs a recomputation
	_ = c.client.Set(ctx, c.key(ownerID, analytics.QuizBookID), data, ttl).Err()
}

func (c *AnalyticsCache) Invalidate(ctx context.Context, ownerID, bookID string) {
	if err := c.client.Del(ctx, c.key(ownerID, bookID)).Err(); err != nil {
		c.log.Warn("invalidate cached analytics", zap.String("book_id", bookID), zap.Error(err))
	}
}

func (c *AnalyticsCache) key(ownerID, bookID string) string {
	return "quizbook:analytics:" + ownerID + ":" + bookID
}

func (c *AnalyticsCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
