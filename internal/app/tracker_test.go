package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/domain"
	"quizbook-tracker/internal/infra/memory"
)

const owner = "owner-1"

var (
	chapter1 = domain.ContainerRef{ChapterID: "c1"}
	section1 = domain.ContainerRef{SectionID: "c2-s1"}
)

func TestRecordAssignsConsecutiveRounds(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	for i := 1; i <= 4; i++ {
		attempt, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
		require.NoError(t, err)
		require.Equal(t, i, attempt.Round)
		require.True(t, attempt.Confirmed)
	}

	book, err := store.LoadBook(ctx, owner, "book-b")
	require.NoError(t, err)
	attempts := book.Chapters[0].Questions[0].Attempts
	require.Len(t, attempts, 4)
	for i, a := range attempts {
		require.Equal(t, i+1, a.Round)
	}
}

func TestRecordThenRetractRestoresHistory(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	_, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
	require.NoError(t, err)
	_, err = tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Incorrect)
	require.NoError(t, err)
	before := questionAttempts(t, store, 1)

	_, err = tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
	require.NoError(t, err)
	require.NoError(t, tracker.RetractLatestAttempt(ctx, owner, chapter1, 1))

	require.Equal(t, before, questionAttempts(t, store, 1))
}

func TestRetractLastAttemptDropsRecord(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	_, err := tracker.RecordAttempt(ctx, owner, chapter1, 2, domain.Incorrect)
	require.NoError(t, err)
	require.NoError(t, tracker.RetractLatestAttempt(ctx, owner, chapter1, 2))
	require.Nil(t, questionAttempts(t, store, 2))

	err = tracker.RetractLatestAttempt(ctx, owner, chapter1, 2)
	require.ErrorIs(t, err, domain.ErrQuestionNotFound)

	attempt, err := tracker.RecordAttempt(ctx, owner, chapter1, 2, domain.Correct)
	require.NoError(t, err)
	require.Equal(t, 1, attempt.Round)
}

func TestRetractKeepsEarlierRounds(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	for _, r := range []domain.Result{domain.Correct, domain.Incorrect, domain.Correct} {
		_, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, r)
		require.NoError(t, err)
	}
	require.NoError(t, tracker.RetractLatestAttempt(ctx, owner, chapter1, 1))

	attempts := questionAttempts(t, store, 1)
	require.Len(t, attempts, 2)
	require.Equal(t, 1, attempts[0].Round)
	require.Equal(t, 2, attempts[1].Round)

	next, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Incorrect)
	require.NoError(t, err)
	require.Equal(t, 3, next.Round)
}

func TestDeleteQuestionRemovesWholeHistory(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordAttempt(ctx, owner, chapter1, 3, domain.Correct)
		require.NoError(t, err)
	}
	require.NoError(t, tracker.DeleteQuestion(ctx, owner, chapter1, 3))
	require.Nil(t, questionAttempts(t, store, 3))
	require.ErrorIs(t, tracker.DeleteQuestion(ctx, owner, chapter1, 3), domain.ErrQuestionNotFound)
}

func TestBookScenario(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker()

	record(t, tracker, chapter1, 1, domain.Correct)
	record(t, tracker, chapter1, 2, domain.Incorrect)
	record(t, tracker, chapter1, 3, domain.Correct)

	rate, err := tracker.GetChapterRate(ctx, owner, "book-b", "c1", 1)
	require.NoError(t, err)
	require.Equal(t, 67, rate)

	record(t, tracker, chapter1, 1, domain.Correct)
	record(t, tracker, chapter1, 2, domain.Correct)

	analytics, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, "book-b", analytics.QuizBookID)
	require.Equal(t, 2, analytics.TotalRounds)
	require.Equal(t, []domain.RoundStat{
		{Round: 1, TotalQuestions: 3, CorrectAnswers: 2, CorrectRate: 66.7},
		{Round: 2, TotalQuestions: 2, CorrectAnswers: 2, CorrectRate: 100},
	}, analytics.RoundStats)
}

func TestChapterRateWithoutAttemptsIsZero(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker()

	for _, round := range []int{1, 2, 10} {
		rate, err := tracker.GetChapterRate(ctx, owner, "book-b", "c3", round)
		require.NoError(t, err)
		require.Zero(t, rate)
	}

	_, err := tracker.GetChapterRate(ctx, owner, "book-b", "missing", 1)
	require.ErrorIs(t, err, domain.ErrChapterNotFound)
	_, err = tracker.GetChapterRate(ctx, owner, "book-b", "c1", 0)
	require.ErrorIs(t, err, domain.ErrInvalidRound)
}

func TestProgressRatesUseRoundInProgress(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker()

	record(t, tracker, chapter1, 1, domain.Incorrect)
	record(t, tracker, chapter1, 1, domain.Correct)

	progress, err := tracker.GetProgressRates(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 1, progress[0].Round)
	require.Equal(t, 0, progress[0].Rate)

	require.NoError(t, tracker.SetCurrentRound(ctx, owner, "book-b", 1))
	progress, err = tracker.GetProgressRates(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 2, progress[0].Round)
	require.Equal(t, 100, progress[0].Rate)

	require.ErrorIs(t, tracker.SetCurrentRound(ctx, owner, "book-b", -1), domain.ErrInvalidRound)
}

func TestStudyActivityOnlyForChapterRecordings(t *testing.T) {
	ctx := context.Background()
	tracker, _, history := newTestTracker()

	record(t, tracker, chapter1, 1, domain.Correct)
	record(t, tracker, section1, 1, domain.Correct)
	_, err := tracker.RecordAttempt(ctx, owner, domain.ContainerRef{ChapterID: "nope"}, 1, domain.Correct)
	require.ErrorIs(t, err, domain.ErrChapterNotFound)

	recent, err := history.Recent(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "c1", recent[0].ChapterID)
	require.Equal(t, fixedNow, recent[0].At)
}

func TestRejectsMalformedTargets(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker()

	_, err := tracker.RecordAttempt(ctx, owner, domain.ContainerRef{ChapterID: "c1", SectionID: "c2-s1"}, 1, domain.Correct)
	require.ErrorIs(t, err, domain.ErrInvalidContainer)
	_, err = tracker.RecordAttempt(ctx, owner, domain.ContainerRef{}, 1, domain.Correct)
	require.ErrorIs(t, err, domain.ErrInvalidContainer)
	_, err = tracker.RecordAttempt(ctx, owner, chapter1, 0, domain.Correct)
	require.ErrorIs(t, err, domain.ErrInvalidQuestion)
}

func TestDraftsStayOutOfAnalyticsUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	tracker, store, history := newTestTracker()

	record(t, tracker, chapter1, 1, domain.Correct)
	draft, err := tracker.DraftAttempt(ctx, owner, chapter1, 1, domain.Incorrect)
	require.NoError(t, err)
	require.Equal(t, 2, draft.Round)
	require.False(t, draft.Confirmed)

	analytics, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 1, analytics.TotalRounds)

	confirmed, err := tracker.ConfirmAttempt(ctx, owner, chapter1, 1)
	require.NoError(t, err)
	require.True(t, confirmed.Confirmed)
	require.Equal(t, 2, confirmed.Round)

	again, err := tracker.ConfirmAttempt(ctx, owner, chapter1, 1)
	require.NoError(t, err)
	require.Equal(t, confirmed, again)

	analytics, err = tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 2, analytics.TotalRounds)

	recent, _ := history.Recent(ctx, owner, "book-b")
	require.Len(t, recent, 2)

	_, err = tracker.DraftAttempt(ctx, owner, chapter1, 1, domain.Correct)
	require.NoError(t, err)
	replaced, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Incorrect)
	require.NoError(t, err)
	require.Equal(t, 3, replaced.Round)
	require.Len(t, questionAttempts(t, store, 1), 3)

	_, err = tracker.ConfirmAttempt(ctx, owner, chapter1, 2)
	require.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestCorruptedHistoryIsRejected(t *testing.T) {
	ctx := context.Background()
	book := scenarioBook()
	book.Chapters[0].Questions = []domain.QuestionRecord{{
		ID:             "bad",
		QuestionNumber: 1,
		Attempts: []domain.Attempt{
			{Round: 1, Result: domain.Correct, Confirmed: true},
			{Round: 3, Result: domain.Correct, Confirmed: true},
		},
	}}
	store := memory.NewBookStore(book)
	tracker := app.NewTracker(store, memory.NewStudyHistory(), nil, nil)

	_, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	var inv *domain.InvariantError
	require.True(t, errors.As(err, &inv))
	require.Equal(t, 2, inv.Position)
	require.Equal(t, 3, inv.Round)

	_, err = tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestAnalyticsCacheInvalidatedByMutations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBookStore(scenarioBook())
	tracker := app.NewTracker(store, nil, memory.NewAnalyticsCache(time.Hour), nil)

	first, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Zero(t, first.TotalRounds)
	require.Empty(t, first.RoundStats)

	record(t, tracker, chapter1, 1, domain.Correct)
	second, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 1, second.TotalRounds)

	_, err = tracker.GetAnalytics(ctx, "someone-else", "book-b")
	require.ErrorIs(t, err, domain.ErrBookNotFound)
}

func TestSubscribeReceivesAnalyticsAfterMutation(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker()

	ch, cancel, err := tracker.Subscribe(ctx, owner, "book-b")
	require.NoError(t, err)
	defer cancel()

	initial := <-ch
	require.Zero(t, initial.TotalRounds)

	record(t, tracker, chapter1, 1, domain.Correct)
	select {
	case update := <-ch:
		require.Equal(t, 1, update.TotalRounds)
		require.Len(t, update.ChapterStats, 1)
	case <-time.After(time.Second):
		t.Fatalf("expected analytics update")
	}
}

// mutateOnSetCache records an attempt while the first Set is in flight.
type mutateOnSetCache struct {
	*memory.AnalyticsCache
	t       *testing.T
	tracker *app.Tracker
	store   *memory.BookStore
	once    sync.Once
	done    chan struct{}
}

func (c *mutateOnSetCache) Set(ctx context.Context, ownerID string, analytics domain.Analytics) {
	c.once.Do(func() {
		go func() {
			defer close(c.done)
			_, err := c.tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
			assert.NoError(c.t, err)
		}()
		deadline := time.Now().Add(2 * time.Second)
		for questionAttempts(c.t, c.store, 1) == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	})
	c.AnalyticsCache.Set(ctx, ownerID, analytics)
}

func TestCacheNotPoisonedByMutationDuringSet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBookStore(scenarioBook())
	cache := &mutateOnSetCache{
		AnalyticsCache: memory.NewAnalyticsCache(time.Hour),
		t:              t,
		store:          store,
		done:           make(chan struct{}),
	}
	tracker := app.NewTracker(store, nil, cache, nil)
	cache.tracker = tracker

	first, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Zero(t, first.TotalRounds)
	<-cache.done

	second, err := tracker.GetAnalytics(ctx, owner, "book-b")
	require.NoError(t, err)
	require.Equal(t, 1, second.TotalRounds)
}

// mutateOnLoadStore records an attempt after taking a snapshot, once armed.
type mutateOnLoadStore struct {
	*memory.BookStore
	tracker *app.Tracker
	armed   bool
}

func (s *mutateOnLoadStore) LoadBook(ctx context.Context, ownerID, bookID string) (domain.QuizBook, error) {
	book, err := s.BookStore.LoadBook(ctx, ownerID, bookID)
	if s.armed {
		s.armed = false
		if _, rerr := s.tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct); rerr != nil {
			return domain.QuizBook{}, rerr
		}
	}
	return book, err
}

func TestSubscribeSeesMutationDuringInitialLoad(t *testing.T) {
	ctx := context.Background()
	store := &mutateOnLoadStore{BookStore: memory.NewBookStore(scenarioBook())}
	tracker := app.NewTracker(store, nil, nil, nil)
	store.tracker = tracker
	store.armed = true

	ch, cancel, err := tracker.Subscribe(ctx, owner, "book-b")
	require.NoError(t, err)
	defer cancel()

	select {
	case got := <-ch:
		require.Equal(t, 1, got.TotalRounds)
	case <-time.After(time.Second):
		t.Fatalf("expected analytics")
	}
}

func TestCheckContainerScopesToBook(t *testing.T) {
	ctx := context.Background()
	other := domain.QuizBook{
		ID:       "book-o",
		OwnerID:  owner,
		Chapters: []domain.Chapter{{ID: "o1", Number: 1}},
	}
	tracker := app.NewTracker(memory.NewBookStore(scenarioBook(), other), nil, nil, nil)

	require.NoError(t, tracker.CheckContainer(ctx, owner, "book-b", chapter1))
	require.NoError(t, tracker.CheckContainer(ctx, owner, "book-b", section1))
	require.ErrorIs(t, tracker.CheckContainer(ctx, owner, "book-b", domain.ContainerRef{ChapterID: "o1"}), domain.ErrChapterNotFound)
	require.ErrorIs(t, tracker.CheckContainer(ctx, owner, "book-o", section1), domain.ErrSectionNotFound)
	require.ErrorIs(t, tracker.CheckContainer(ctx, owner, "book-b", domain.ContainerRef{}), domain.ErrInvalidContainer)
}

func TestConcurrentRecordingKeepsRoundsGapless(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.RecordAttempt(ctx, owner, chapter1, 1, domain.Correct)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	attempts := questionAttempts(t, store, 1)
	require.Len(t, attempts, 20)
	for i, a := range attempts {
		require.Equal(t, i+1, a.Round)
	}
}

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestTracker() (*app.Tracker, *memory.BookStore, *memory.StudyHistory) {
	store := memory.NewBookStore(scenarioBook())
	history := memory.NewStudyHistory()
	tracker := app.NewTrackerWithClock(store, history, nil, nil, func() time.Time { return fixedNow })
	return tracker, store, history
}

func record(t *testing.T, tracker *app.Tracker, ref domain.ContainerRef, question int, result domain.Result) domain.Attempt {
	t.Helper()
	attempt, err := tracker.RecordAttempt(context.Background(), owner, ref, question, result)
	require.NoError(t, err)
	return attempt
}

func questionAttempts(t *testing.T, store *memory.BookStore, question int) []domain.Attempt {
	t.Helper()
	book, err := store.LoadBook(context.Background(), owner, "book-b")
	require.NoError(t, err)
	for _, rec := range book.Chapters[0].Questions {
		if rec.QuestionNumber == question {
			return rec.Attempts
		}
	}
	return nil
}

func scenarioBook() domain.QuizBook {
	return domain.QuizBook{
		ID:          "book-b",
		OwnerID:     owner,
		Title:       "Book B",
		SectionMode: domain.WithSections,
		Chapters: []domain.Chapter{
			{ID: "c1", Number: 1, QuestionCount: 3},
			{
				ID:     "c2",
				Number: 2,
				Sections: []domain.Section{
					{ID: "c2-s1", ChapterID: "c2", Number: 1, QuestionCount: 4},
				},
			},
			{ID: "c3", Number: 3, QuestionCount: 5},
		},
	}
}
