package memory

import (
	"context"
	"testing"
	"time"

	"quizbook-tracker/internal/domain"
)

func TestAnalyticsCacheExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	cache := NewAnalyticsCache(time.Minute)
	cache.clock = func() time.Time { return now }

	cache.Set(ctx, "owner-1", domain.Analytics{QuizBookID: "book-1", TotalRounds: 2})
	got, ok := cache.Get(ctx, "owner-1", "book-1")
	if !ok || got.TotalRounds != 2 {
		t.Fatalf("expected cache hit, got %+v ok=%v", got, ok)
	}
	if _, ok := cache.Get(ctx, "owner-2", "book-1"); ok {
		t.Fatalf("expected entries scoped by owner")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(ctx, "owner-1", "book-1"); ok {
		t.Fatalf("expected entry to expire")
	}

	cache.Set(ctx, "owner-1", domain.Analytics{QuizBookID: "book-1"})
	cache.Invalidate(ctx, "owner-1", "book-1")
	if _, ok := cache.Get(ctx, "owner-1", "book-1"); ok {
		t.Fatalf("expected entry to be invalidated")
	}
}
