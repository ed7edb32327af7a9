package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBookNotFound is returned when a quiz book does not exist for the owner.
	ErrBookNotFound = errors.New("quiz book not found")
	// ErrChapterNotFound is returned when a chapter id does not resolve.
	ErrChapterNotFound = errors.New("chapter not found")
	// ErrSectionNotFound is returned when a section id does not resolve.
	ErrSectionNotFound = errors.New("section not found")
	// ErrQuestionNotFound is returned when a question has no record or no attempts left.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidContainer is returned when a reference names both or neither of chapter and section.
	ErrInvalidContainer = errors.New("exactly one of chapter or section must be given")
	// ErrInvalidQuestion is returned for non-positive question numbers.
	ErrInvalidQuestion = errors.New("question number must be positive")
	// ErrInvalidRound is returned for rounds below 1, or below 0 for the book counter.
	ErrInvalidRound = errors.New("invalid round")
	// ErrInvalidResult is returned for an unknown result symbol.
	ErrInvalidResult = errors.New("invalid result")
	// ErrInvariantViolation signals a corrupted attempt history.
	ErrInvariantViolation = errors.New("attempt history invariant violated")
)

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrChapterNotFound) ||
		errors.Is(err, ErrSectionNotFound) ||
		errors.Is(err, ErrQuestionNotFound)
}

// IsInvalidInput reports whether err was caused by a malformed request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidContainer) ||
		errors.Is(err, ErrInvalidQuestion) ||
		errors.Is(err, ErrInvalidRound) ||
		errors.Is(err, ErrInvalidResult)
}

// InvariantError describes where a history went wrong.
type InvariantError struct {
	ChapterID      string
	SectionID      string
	QuestionNumber int
	Position       int
	Round          int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: question %d in chapter %q section %q has confirmed attempt #%d with round %d",
		ErrInvariantViolation, e.QuestionNumber, e.ChapterID, e.SectionID, e.Position, e.Round)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}
