package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quizbook-tracker/internal/domain"
)

func TestAnalyticsCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewAnalyticsCache(newClient(mr), time.Minute, nil)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "owner-1", "book-1"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	cache.Set(ctx, "owner-1", domain.Analytics{
		QuizBookID:  "book-1",
		TotalRounds: 1,
		RoundStats:  []domain.RoundStat{{Round: 1, TotalQuestions: 3, CorrectAnswers: 2, CorrectRate: 66.7}},
	})
	if !mr.Exists("quizbook:analytics:owner-1:book-1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("quizbook:analytics:owner-1:book-1"); ttl < time.Minute {
		t.Fatalf("expected ttl of at least a minute, got %v", ttl)
	}

	got, ok := cache.Get(ctx, "owner-1", "book-1")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.RoundStats[0].CorrectRate != 66.7 {
		t.Fatalf("unexpected cached analytics %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := cache.Get(ctx, "owner-1", "book-1"); ok {
		t.Fatalf("expected entry to expire")
	}

	cache.Set(ctx, "owner-1", domain.Analytics{QuizBookID: "book-1"})
	cache.Invalidate(ctx, "owner-1", "book-1")
	if mr.Exists("quizbook:analytics:owner-1:book-1") {
		t.Fatalf("expected redis key to be removed")
	}
}
