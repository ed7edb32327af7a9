package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quizbook-tracker/internal/domain"
	"quizbook-tracker/internal/metrics"
)

// QuestionMutation edits one question record in place. Returning an error discards the edit.
type QuestionMutation func(rec *domain.QuestionRecord) error

// BookRepository abstracts how quiz books are stored (in-memory, Postgres, etc).
//
// MutateQuestion must serialize mutations of the same question record: both
// recording and retracting are read-modify-write on the attempt list. It
// resolves the container, hands the existing record (or a fresh empty one) to
// the mutation and persists the result. A record left without attempts is
// deleted rather than stored empty.
type BookRepository interface {
	LoadBook(ctx context.Context, ownerID, bookID string) (domain.QuizBook, error)
	MutateQuestion(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, mutate QuestionMutation) (domain.Placement, error)
	SetCurrentRound(ctx context.Context, ownerID, bookID string, round int) error
}

// StudyHistory is the append-only "recently studied" log. It keeps the latest
// domain.StudyHistoryLimit entries per quiz book; Recent lists them newest first.
type StudyHistory interface {
	RecordActivity(ctx context.Context, activity domain.StudyActivity) error
	Recent(ctx context.Context, ownerID, bookID string) ([]domain.StudyActivity, error)
}

// AnalyticsCache stores assembled analytics between mutations.
type AnalyticsCache interface {
	Get(ctx context.Context, ownerID, bookID string) (domain.Analytics, bool)
	Set(ctx context.Context, ownerID string, analytics domain.Analytics)
	Invalidate(ctx context.Context, ownerID, bookID string)
}

// Tracker records attempts and serves progress analytics.
type Tracker struct {
	books   BookRepository
	history StudyHistory
	cache   AnalyticsCache
	log     *zap.Logger
	now     func() time.Time
	hub     *hub
	sf      singleflight.Group

	mu       sync.Mutex
	versions map[string]uint64
}

func NewTracker(books BookRepository, history StudyHistory, cache AnalyticsCache, log *zap.Logger) *Tracker {
	return NewTrackerWithClock(books, history, cache, log, time.Now)
}

// NewTrackerWithClock allows deterministic timestamps in tests.
func NewTrackerWithClock(books BookRepository, history StudyHistory, cache AnalyticsCache, log *zap.Logger, now func() time.Time) *Tracker {
	if cache == nil {
		cache = noCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		books:    books,
		history:  history,
		cache:    cache,
		log:      log,
		now:      now,
		hub:      newHub(),
		versions: make(map[string]uint64),
	}
}

// RecordAttempt appends a confirmed attempt on the question's next round,
// creating the question record on first use.
func (t *Tracker) RecordAttempt(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, result domain.Result) (domain.Attempt, error) {
	return t.record(ctx, ownerID, ref, questionNumber, result, true)
}

// DraftAttempt stores a provisional answer that analytics ignore until it is confirmed.
func (t *Tracker) DraftAttempt(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, result domain.Result) (domain.Attempt, error) {
	return t.record(ctx, ownerID, ref, questionNumber, result, false)
}

func (t *Tracker) record(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, result domain.Result, confirmed bool) (domain.Attempt, error) {
	if err := validateTarget(ref, questionNumber); err != nil {
		return domain.Attempt{}, err
	}

	var recorded domain.Attempt
	placement, err := t.books.MutateQuestion(ctx, ownerID, ref, questionNumber, func(rec *domain.QuestionRecord) error {
		if err := CheckHistory(ref, *rec); err != nil {
			return err
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
			rec.QuestionNumber = questionNumber
		}
		recorded = appendAttempt(rec, result, confirmed, t.now())
		return nil
	})
	if err != nil {
		return domain.Attempt{}, t.fail(err, "record attempt")
	}

	state := "confirmed"
	if !confirmed {
		state = "draft"
	}
	metrics.AttemptsRecorded.WithLabelValues(resultLabel(result), ref.Kind(), state).Inc()

	if confirmed && ref.IsChapter() {
		t.reportActivity(ctx, ownerID, placement)
	}
	t.afterMutation(ctx, ownerID, placement.BookID)
	return recorded, nil
}

// ConfirmAttempt finalizes the trailing draft of a question. Confirming an
// already confirmed attempt changes nothing.
func (t *Tracker) ConfirmAttempt(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int) (domain.Attempt, error) {
	if err := validateTarget(ref, questionNumber); err != nil {
		return domain.Attempt{}, err
	}

	var confirmed domain.Attempt
	wasDraft := false
	placement, err := t.books.MutateQuestion(ctx, ownerID, ref, questionNumber, func(rec *domain.QuestionRecord) error {
		if err := CheckHistory(ref, *rec); err != nil {
			return err
		}
		if n := len(rec.Attempts); n > 0 {
			wasDraft = !rec.Attempts[n-1].Confirmed
		}
		var err error
		confirmed, err = confirmLatest(rec)
		return err
	})
	if err != nil {
		return domain.Attempt{}, t.fail(err, "confirm attempt")
	}

	if wasDraft {
		if ref.IsChapter() {
			t.reportActivity(ctx, ownerID, placement)
		}
		t.afterMutation(ctx, ownerID, placement.BookID)
	}
	return confirmed, nil
}

// RetractLatestAttempt removes the most recent attempt. The record disappears
// with its last attempt; calling it on an empty question is ErrQuestionNotFound.
func (t *Tracker) RetractLatestAttempt(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int) error {
	if err := validateTarget(ref, questionNumber); err != nil {
		return err
	}

	placement, err := t.books.MutateQuestion(ctx, ownerID, ref, questionNumber, func(rec *domain.QuestionRecord) error {
		if err := CheckHistory(ref, *rec); err != nil {
			return err
		}
		_, err := retractLatest(rec)
		return err
	})
	if err != nil {
		return t.fail(err, "retract attempt")
	}

	metrics.AttemptsRemoved.WithLabelValues("retract").Inc()
	t.afterMutation(ctx, ownerID, placement.BookID)
	return nil
}

// DeleteQuestion removes the question record with all of its attempts.
func (t *Tracker) DeleteQuestion(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int) error {
	if err := validateTarget(ref, questionNumber); err != nil {
		return err
	}

	removed := 0
	placement, err := t.books.MutateQuestion(ctx, ownerID, ref, questionNumber, func(rec *domain.QuestionRecord) error {
		var err error
		removed, err = clearAttempts(rec)
		return err
	})
	if err != nil {
		return t.fail(err, "delete question")
	}

	metrics.AttemptsRemoved.WithLabelValues("delete").Add(float64(removed))
	t.afterMutation(ctx, ownerID, placement.BookID)
	return nil
}

// GetChapterRate returns the chapter's whole-percent correctness on round.
func (t *Tracker) GetChapterRate(ctx context.Context, ownerID, bookID, chapterID string, round int) (int, error) {
	if round < 1 {
		return 0, domain.ErrInvalidRound
	}
	book, err := t.books.LoadBook(ctx, ownerID, bookID)
	if err != nil {
		return 0, err
	}
	for _, ch := range book.Chapters {
		if ch.ID != chapterID {
			continue
		}
		if err := ValidateChapter(ch); err != nil {
			return 0, t.fail(err, "chapter rate")
		}
		return ChapterRate(ch, round), nil
	}
	return 0, domain.ErrChapterNotFound
}

// GetProgressRates returns every chapter's rate on the round in progress,
// which is one past the book's CurrentRound.
func (t *Tracker) GetProgressRates(ctx context.Context, ownerID, bookID string) ([]domain.ChapterProgress, error) {
	book, err := t.books.LoadBook(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}
	if err := ValidateBook(book); err != nil {
		return nil, t.fail(err, "progress rates")
	}

	round := book.CurrentRound + 1
	progress := make([]domain.ChapterProgress, 0, len(book.Chapters))
	for _, ch := range book.Chapters {
		progress = append(progress, domain.ChapterProgress{
			ChapterID:     ch.ID,
			ChapterNumber: ch.Number,
			Round:         round,
			Rate:          ChapterRate(ch, round),
		})
	}
	return progress, nil
}

// SetCurrentRound moves the book's completed-round counter. Question histories are not touched.
func (t *Tracker) SetCurrentRound(ctx context.Context, ownerID, bookID string, round int) error {
	if round < 0 {
		return domain.ErrInvalidRound
	}
	return t.books.SetCurrentRound(ctx, ownerID, bookID, round)
}

// GetAnalytics assembles round, chapter and section statistics for a book from one snapshot.
func (t *Tracker) GetAnalytics(ctx context.Context, ownerID, bookID string) (domain.Analytics, error) {
	if cached, ok := t.cache.Get(ctx, ownerID, bookID); ok {
		return cached, nil
	}

	key := bookKey(ownerID, bookID)
	result, err, _ := t.sf.Do(key, func() (interface{}, error) {
		version := t.version(key)
		analytics, err := t.analyze(ctx, ownerID, bookID)
		if err != nil {
			return domain.Analytics{}, err
		}
		// A mutation that landed while we were loading makes this snapshot stale.
		// The compare and the Set share t.mu with afterMutation's bump and Invalidate.
		t.mu.Lock()
		if t.versions[key] == version {
			t.cache.Set(ctx, ownerID, analytics)
		}
		t.mu.Unlock()
		return analytics, nil
	})
	if err != nil {
		return domain.Analytics{}, err
	}
	return result.(domain.Analytics), nil
}

// Subscribe returns a channel that receives the current analytics and a new
// snapshot after each mutation of the book. The caller must invoke cancel.
func (t *Tracker) Subscribe(ctx context.Context, ownerID, bookID string) (<-chan domain.Analytics, func(), error) {
	// Register before loading so a mutation in between still publishes to us.
	ch, cancel := t.hub.subscribe(bookKey(ownerID, bookID))
	initial, err := t.GetAnalytics(ctx, ownerID, bookID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	t.hub.prime(bookKey(ownerID, bookID), ch, initial)
	return ch, cancel, nil
}

// CheckContainer reports whether ref names a chapter or section of the book.
func (t *Tracker) CheckContainer(ctx context.Context, ownerID, bookID string, ref domain.ContainerRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	book, err := t.books.LoadBook(ctx, ownerID, bookID)
	if err != nil {
		return err
	}
	for _, ch := range book.Chapters {
		if ref.IsChapter() {
			if ch.ID == ref.ChapterID {
				return nil
			}
			continue
		}
		for _, sec := range ch.Sections {
			if sec.ID == ref.SectionID {
				return nil
			}
		}
	}
	if ref.IsChapter() {
		return domain.ErrChapterNotFound
	}
	return domain.ErrSectionNotFound
}

// RecentActivity lists the book's latest study activities, newest first.
func (t *Tracker) RecentActivity(ctx context.Context, ownerID, bookID string) ([]domain.StudyActivity, error) {
	if _, err := t.books.LoadBook(ctx, ownerID, bookID); err != nil {
		return nil, err
	}
	if t.history == nil {
		return []domain.StudyActivity{}, nil
	}
	activities, err := t.history.Recent(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}
	if activities == nil {
		activities = []domain.StudyActivity{}
	}
	return activities, nil
}

func (t *Tracker) analyze(ctx context.Context, ownerID, bookID string) (domain.Analytics, error) {
	start := time.Now()
	book, err := t.books.LoadBook(ctx, ownerID, bookID)
	if err != nil {
		return domain.Analytics{}, err
	}
	if err := ValidateBook(book); err != nil {
		return domain.Analytics{}, t.fail(err, "analytics")
	}
	analytics := Analyze(book)
	metrics.AnalyticsDuration.Observe(time.Since(start).Seconds())
	return analytics, nil
}

func (t *Tracker) afterMutation(ctx context.Context, ownerID, bookID string) {
	key := bookKey(ownerID, bookID)
	t.mu.Lock()
	t.versions[key]++
	t.cache.Invalidate(ctx, ownerID, bookID)
	t.mu.Unlock()

	if !t.hub.hasSubscribers(key) {
		return
	}
	analytics, err := t.analyze(ctx, ownerID, bookID)
	if err != nil {
		t.log.Warn("refresh analytics for subscribers", zap.String("book_id", bookID), zap.Error(err))
		return
	}
	t.hub.publish(key, analytics)
}

func (t *Tracker) reportActivity(ctx context.Context, ownerID string, placement domain.Placement) {
	if t.history == nil {
		return
	}
	activity := domain.StudyActivity{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		BookID:    placement.BookID,
		ChapterID: placement.ChapterID,
		At:        t.now(),
	}
	if err := t.history.RecordActivity(ctx, activity); err != nil {
		t.log.Warn("record study activity",
			zap.String("book_id", placement.BookID),
			zap.String("chapter_id", placement.ChapterID),
			zap.Error(err))
	}
}

// fail logs corrupted histories loudly and passes every error through unchanged.
func (t *Tracker) fail(err error, op string) error {
	var inv *domain.InvariantError
	if errors.As(err, &inv) {
		metrics.InvariantViolations.Inc()
		t.log.Error("attempt history corrupted",
			zap.String("op", op),
			zap.String("chapter_id", inv.ChapterID),
			zap.String("section_id", inv.SectionID),
			zap.Int("question_number", inv.QuestionNumber),
			zap.Int("position", inv.Position),
			zap.Int("round", inv.Round))
	}
	return err
}

func (t *Tracker) version(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[key]
}

func validateTarget(ref domain.ContainerRef, questionNumber int) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if questionNumber < 1 {
		return domain.ErrInvalidQuestion
	}
	return nil
}

func resultLabel(r domain.Result) string {
	if r == domain.Correct {
		return "correct"
	}
	return "incorrect"
}

func bookKey(ownerID, bookID string) string {
	return ownerID + "/" + bookID
}

type noCache struct{}

func (noCache) Get(context.Context, string, string) (domain.Analytics, bool) {
	return domain.Analytics{}, false
}

func (noCache) Set(context.Context, string, domain.Analytics) {}

func (noCache) Invalidate(context.Context, string, string) {}
