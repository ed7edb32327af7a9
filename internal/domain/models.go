package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the outcome of a single attempt.
type Result int8

const (
	Incorrect Result = iota
	Correct
)

// String renders the result the way the study sheet shows it.
func (r Result) String() string {
	if r == Correct {
		return "○"
	}
	return "×"
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r == Correct {
		return []byte(`"correct"`), nil
	}
	return []byte(`"incorrect"`), nil
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseResult(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseResult accepts the wire names as well as the ○/× symbols.
func ParseResult(raw string) (Result, error) {
	switch raw {
	case "correct", "○":
		return Correct, nil
	case "incorrect", "×":
		return Incorrect, nil
	}
	return Incorrect, fmt.Errorf("%w: %q", ErrInvalidResult, raw)
}

// SectionMode records whether the learner decided to split chapters into sections.
type SectionMode int8

const (
	SectionsNotDecided SectionMode = iota
	WithoutSections
	WithSections
)

func (m SectionMode) String() string {
	switch m {
	case WithoutSections:
		return "without_sections"
	case WithSections:
		return "with_sections"
	default:
		return "not_decided"
	}
}

// Attempt is one recorded answer to one question on one round.
type Attempt struct {
	Round      int       `json:"round"`
	Result     Result    `json:"result"`
	Confirmed  bool      `json:"confirmed"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// QuestionRecord owns the attempt history of a single question inside a chapter or section.
// Attempts are kept in insertion order, which is also round order.
type QuestionRecord struct {
	ID             string    `json:"id"`
	QuestionNumber int       `json:"questionNumber"`
	Memo           string    `json:"memo,omitempty"`
	Bookmarked     bool      `json:"bookmarked,omitempty"`
	Attempts       []Attempt `json:"attempts"`
}

// Section subdivides a chapter and owns its own question records.
type Section struct {
	ID            string           `json:"id"`
	ChapterID     string           `json:"chapterId"`
	Number        int              `json:"number"`
	Title         string           `json:"title"`
	QuestionCount int              `json:"questionCount"`
	Questions     []QuestionRecord `json:"questions"`
}

// Chapter owns either direct question records or sections.
type Chapter struct {
	ID            string           `json:"id"`
	Number        int              `json:"number"`
	Title         string           `json:"title"`
	QuestionCount int              `json:"questionCount"`
	Sections      []Section        `json:"sections,omitempty"`
	Questions     []QuestionRecord `json:"questions,omitempty"`
}

// QuizBook is the root of the tree read by analytics.
// CurrentRound is operator-managed and independent of per-question rounds.
type QuizBook struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"ownerId"`
	Title        string      `json:"title"`
	CurrentRound int         `json:"currentRound"`
	SectionMode  SectionMode `json:"sectionMode"`
	Chapters     []Chapter   `json:"chapters"`
}

// ContainerRef addresses the owner of a question record: exactly one of the ids is set.
type ContainerRef struct {
	ChapterID string `json:"chapterId,omitempty"`
	SectionID string `json:"sectionId,omitempty"`
}

// IsChapter reports whether the reference targets a chapter directly.
func (c ContainerRef) IsChapter() bool {
	return c.ChapterID != "" && c.SectionID == ""
}

// Validate rejects references that name both or neither container.
func (c ContainerRef) Validate() error {
	if (c.ChapterID == "") == (c.SectionID == "") {
		return ErrInvalidContainer
	}
	return nil
}

// Kind returns "chapter" or "section".
func (c ContainerRef) Kind() string {
	if c.IsChapter() {
		return "chapter"
	}
	return "section"
}

// Placement is where a container lives inside its quiz book.
type Placement struct {
	BookID    string
	ChapterID string
	SectionID string
}

// StudyActivity is reported to the study-history collaborator after a chapter-scoped recording.
type StudyActivity struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	BookID    string    `json:"bookId"`
	ChapterID string    `json:"chapterId"`
	At        time.Time `json:"at"`
}

// StudyHistoryLimit is how many activities the history keeps per quiz book.
const StudyHistoryLimit = 10

// RoundStat is the book-wide tally for one round.
type RoundStat struct {
	Round          int     `json:"round"`
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	CorrectRate    float64 `json:"correctRate"`
}

// ChapterStat is the tally for one chapter on one round.
type ChapterStat struct {
	Round          int     `json:"round"`
	ChapterID      string  `json:"chapterId"`
	ChapterNumber  int     `json:"chapterNumber"`
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	CorrectRate    float64 `json:"correctRate"`
}

// SectionStat is the tally for one section on one round.
type SectionStat struct {
	Round          int     `json:"round"`
	SectionID      string  `json:"sectionId"`
	ChapterID      string  `json:"chapterId"`
	SectionNumber  int     `json:"sectionNumber"`
	TotalQuestions int     `json:"totalQuestions"`
	CorrectAnswers int     `json:"correctAnswers"`
	CorrectRate    float64 `json:"correctRate"`
}

// Analytics is the assembled, read-only statistics view of one quiz book.
type Analytics struct {
	QuizBookID   string        `json:"quizBookId"`
	TotalRounds  int           `json:"totalRounds"`
	RoundStats   []RoundStat   `json:"roundStats"`
	ChapterStats []ChapterStat `json:"chapterStats"`
	SectionStats []SectionStat `json:"sectionStats"`
}

// ChapterProgress is a chapter's rate on the round currently in progress.
type ChapterProgress struct {
	ChapterID     string `json:"chapterId"`
	ChapterNumber int    `json:"chapterNumber"`
	Round         int    `json:"round"`
	Rate          int    `json:"rate"`
}
