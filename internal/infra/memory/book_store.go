package memory

import (
	"context"
	"sort"
	"sync"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/domain"
)

// BookStore is an in-memory implementation of app.BookRepository.
// A single lock serializes every mutation, which covers the per-question requirement.
type BookStore struct {
	mu       sync.RWMutex
	books    map[string]*domain.QuizBook
	chapters map[string]chapterPos
	sections map[string]sectionPos
}

type chapterPos struct {
	bookID  string
	chapter int
}

type sectionPos struct {
	bookID  string
	chapter int
	section int
}

func NewBookStore(books ...domain.QuizBook) *BookStore {
	s := &BookStore{
		books:    make(map[string]*domain.QuizBook),
		chapters: make(map[string]chapterPos),
		sections: make(map[string]sectionPos),
	}
	for _, b := range books {
		s.Put(b)
	}
	return s
}

// Put stores a copy of the book, replacing any previous version with the same id.
func (s *BookStore) Put(book domain.QuizBook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.books[book.ID]; ok {
		s.unindexLocked(old)
	}
	stored := cloneBook(book)
	s.books[book.ID] = &stored
	for ci, ch := range stored.Chapters {
		s.chapters[ch.ID] = chapterPos{bookID: book.ID, chapter: ci}
		for si, sec := range ch.Sections {
			s.sections[sec.ID] = sectionPos{bookID: book.ID, chapter: ci, section: si}
		}
	}
}

func (s *BookStore) LoadBook(_ context.Context, ownerID, bookID string) (domain.QuizBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[bookID]
	if !ok || book.OwnerID != ownerID {
		return domain.QuizBook{}, domain.ErrBookNotFound
	}
	return cloneBook(*book), nil
}

func (s *BookStore) MutateQuestion(_ context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, mutate app.QuestionMutation) (domain.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, placement, err := s.resolveLocked(ownerID, ref)
	if err != nil {
		return domain.Placement{}, err
	}

	idx := -1
	rec := domain.QuestionRecord{QuestionNumber: questionNumber}
	for i := range *questions {
		if (*questions)[i].QuestionNumber == questionNumber {
			idx = i
			rec = cloneRecord((*questions)[i])
			break
		}
	}

	if err := mutate(&rec); err != nil {
		return domain.Placement{}, err
	}

	switch {
	case len(rec.Attempts) == 0 && idx >= 0:
		*questions = append((*questions)[:idx], (*questions)[idx+1:]...)
	case len(rec.Attempts) == 0:
	case idx >= 0:
		(*questions)[idx] = rec
	default:
		*questions = append(*questions, rec)
		sort.SliceStable(*questions, func(i, j int) bool {
			return (*questions)[i].QuestionNumber < (*questions)[j].QuestionNumber
		})
	}
	return placement, nil
}

func (s *BookStore) SetCurrentRound(_ context.Context, ownerID, bookID string, round int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[bookID]
	if !ok || book.OwnerID != ownerID {
		return domain.ErrBookNotFound
	}
	book.CurrentRound = round
	return nil
}

func (s *BookStore) resolveLocked(ownerID string, ref domain.ContainerRef) (*[]domain.QuestionRecord, domain.Placement, error) {
	if ref.IsChapter() {
		pos, ok := s.chapters[ref.ChapterID]
		if !ok || s.books[pos.bookID].OwnerID != ownerID {
			return nil, domain.Placement{}, domain.ErrChapterNotFound
		}
		ch := &s.books[pos.bookID].Chapters[pos.chapter]
		return &ch.Questions, domain.Placement{BookID: pos.bookID, ChapterID: ch.ID}, nil
	}

	pos, ok := s.sections[ref.SectionID]
	if !ok || s.books[pos.bookID].OwnerID != ownerID {
		return nil, domain.Placement{}, domain.ErrSectionNotFound
	}
	ch := &s.books[pos.bookID].Chapters[pos.chapter]
	sec := &ch.Sections[pos.section]
	return &sec.Questions, domain.Placement{BookID: pos.bookID, ChapterID: ch.ID, SectionID: sec.ID}, nil
}

func (s *BookStore) unindexLocked(book *domain.QuizBook) {
	for _, ch := range book.Chapters {
		delete(s.chapters, ch.ID)
		for _, sec := range ch.Sections {
			delete(s.sections, sec.ID)
		}
	}
}

func cloneBook(b domain.QuizBook) domain.QuizBook {
	out := b
	out.Chapters = make([]domain.Chapter, len(b.Chapters))
	for i, ch := range b.Chapters {
		c := ch
		c.Questions = cloneRecords(ch.Questions)
		if ch.Sections != nil {
			c.Sections = make([]domain.Section, len(ch.Sections))
			for j, sec := range ch.Sections {
				sc := sec
				sc.Questions = cloneRecords(sec.Questions)
				c.Sections[j] = sc
			}
		}
		out.Chapters[i] = c
	}
	return out
}

func cloneRecords(recs []domain.QuestionRecord) []domain.QuestionRecord {
	if recs == nil {
		return nil
	}
	out := make([]domain.QuestionRecord, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	return out
}

func cloneRecord(r domain.QuestionRecord) domain.QuestionRecord {
	out := r
	if r.Attempts != nil {
		out.Attempts = append([]domain.Attempt(nil), r.Attempts...)
	}
	return out
}
