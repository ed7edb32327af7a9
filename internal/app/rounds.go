package app

import (
	"time"

	"quizbook-tracker/internal/domain"
)

// NextRound returns the round a new attempt gets: one past the confirmed history.
// It is unrelated to the quiz book's CurrentRound.
func NextRound(history []domain.Attempt) int {
	confirmed := 0
	for _, a := range history {
		if a.Confirmed {
			confirmed++
		}
	}
	return confirmed + 1
}

// CheckHistory verifies that confirmed attempts carry rounds 1..n in order.
func CheckHistory(ref domain.ContainerRef, rec domain.QuestionRecord) error {
	expected := 1
	for i, a := range rec.Attempts {
		if !a.Confirmed {
			continue
		}
		if a.Round != expected {
			return &domain.InvariantError{
				ChapterID:      ref.ChapterID,
				SectionID:      ref.SectionID,
				QuestionNumber: rec.QuestionNumber,
				Position:       i + 1,
				Round:          a.Round,
			}
		}
		expected++
	}
	return nil
}

// appendAttempt drops a pending draft, if any, and appends a new attempt on the next round.
func appendAttempt(rec *domain.QuestionRecord, result domain.Result, confirmed bool, now time.Time) domain.Attempt {
	rec.Attempts = dropTrailingDrafts(rec.Attempts)
	attempt := domain.Attempt{
		Round:      NextRound(rec.Attempts),
		Result:     result,
		Confirmed:  confirmed,
		AnsweredAt: now,
	}
	rec.Attempts = append(rec.Attempts, attempt)
	return attempt
}

// confirmLatest turns a trailing draft into a confirmed attempt. Already confirmed is a no-op.
func confirmLatest(rec *domain.QuestionRecord) (domain.Attempt, error) {
	if len(rec.Attempts) == 0 {
		return domain.Attempt{}, domain.ErrQuestionNotFound
	}
	last := &rec.Attempts[len(rec.Attempts)-1]
	last.Confirmed = true
	return *last, nil
}

// retractLatest removes the last attempt by insertion order; remaining rounds are untouched.
func retractLatest(rec *domain.QuestionRecord) (domain.Attempt, error) {
	n := len(rec.Attempts)
	if n == 0 {
		return domain.Attempt{}, domain.ErrQuestionNotFound
	}
	removed := rec.Attempts[n-1]
	rec.Attempts = rec.Attempts[:n-1]
	return removed, nil
}

func clearAttempts(rec *domain.QuestionRecord) (int, error) {
	n := len(rec.Attempts)
	if n == 0 {
		return 0, domain.ErrQuestionNotFound
	}
	rec.Attempts = nil
	return n, nil
}

func dropTrailingDrafts(history []domain.Attempt) []domain.Attempt {
	n := len(history)
	for n > 0 && !history[n-1].Confirmed {
		n--
	}
	return history[:n]
}
