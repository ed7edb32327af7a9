package memory

import (
	"context"
	"sync"

	"quizbook-tracker/internal/domain"
)

// StudyHistory keeps the most recent activities per quiz book in memory.
type StudyHistory struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]domain.StudyActivity
}

func NewStudyHistory() *StudyHistory {
	return &StudyHistory{
		limit:   domain.StudyHistoryLimit,
		entries: make(map[string][]domain.StudyActivity),
	}
}

func (h *StudyHistory) RecordActivity(_ context.Context, activity domain.StudyActivity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := activity.OwnerID + "/" + activity.BookID
	list := append([]domain.StudyActivity{activity}, h.entries[key]...)
	if len(list) > h.limit {
		list = list[:h.limit]
	}
	h.entries[key] = list
	return nil
}

// Recent returns the stored activities of a book, newest first.
func (h *StudyHistory) Recent(_ context.Context, ownerID, bookID string) ([]domain.StudyActivity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.entries[ownerID+"/"+bookID]
	return append([]domain.StudyActivity(nil), list...), nil
}
