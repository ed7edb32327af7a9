package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/config"
	"quizbook-tracker/internal/domain"
	"quizbook-tracker/internal/infra/memory"
	pgstore "quizbook-tracker/internal/infra/postgres"
	redisstore "quizbook-tracker/internal/infra/redis"
	"quizbook-tracker/internal/logging"
)

func loadRuntime(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	log := logging.New(logging.Options{Env: cfg.Env, Level: cfg.Log.Level, File: cfg.Log.File})
	return cfg, log, nil
}

// buildTracker picks Postgres for books when configured and Redis for the
// history and cache when configured, falling back to memory for each.
func buildTracker(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.Tracker, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		books   app.BookRepository
		history app.StudyHistory
		cache   app.AnalyticsCache
	)
	analyticsTTL := config.TTLDuration(cfg.Analytics.TTL, time.Minute)

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, pool.Close)
		books = pgstore.NewBookStore(pool)
		history = pgstore.NewStudyHistory(pool)
		log.Info("using postgres book store")
	} else {
		books = memory.NewBookStore(sampleBooks()...)
		history = memory.NewStudyHistory()
		log.Info("using in-memory book store with sample data")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		redisTTL := config.TTLDuration(cfg.Redis.TTL, analyticsTTL)
		cache = redisstore.NewAnalyticsCache(client, redisTTL, log)
		if cfg.Postgres.URL == "" {
			history = redisstore.NewStudyHistory(client)
		}
	} else {
		cache = memory.NewAnalyticsCache(analyticsTTL)
	}

	return app.NewTracker(books, history, cache, log), cleanup, nil
}

// sampleBooks seeds the in-memory store so the server is usable without a database.
func sampleBooks() []domain.QuizBook {
	return []domain.QuizBook{
		{
			ID:          "book-1",
			OwnerID:     "demo",
			Title:       "Networking drills",
			SectionMode: domain.WithSections,
			Chapters: []domain.Chapter{
				{ID: "ch-1", Number: 1, Title: "Addressing", QuestionCount: 12},
				{ID: "ch-2", Number: 2, Title: "Routing", Sections: []domain.Section{
					{ID: "ch-2-s1", ChapterID: "ch-2", Number: 1, Title: "Static routes", QuestionCount: 6},
					{ID: "ch-2-s2", ChapterID: "ch-2", Number: 2, Title: "OSPF", QuestionCount: 8},
				}},
				{ID: "ch-3", Number: 3, Title: "Transport", QuestionCount: 10},
			},
		},
	}
}
