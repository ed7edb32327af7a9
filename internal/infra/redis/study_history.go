package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quizbook-tracker/internal/domain"
)

// StudyHistory keeps the recent activities of a quiz book in a capped Redis list.
// Entries live at: LPUSH quizbook:history:{ownerID}:{bookID} {activity JSON}
type StudyHistory struct {
	client *redis.Client
	limit  int64
}

func NewStudyHistory(client *redis.Client) *StudyHistory {
	return &StudyHistory{client: client, limit: domain.StudyHistoryLimit}
}

func (h *StudyHistory) RecordActivity(ctx context.Context, activity domain.StudyActivity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	key := h.key(activity.OwnerID, activity.BookID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, h.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recent returns the stored activities of a book, newest first.
func (h *StudyHistory) Recent(ctx context.Context, ownerID, bookID string) ([]domain.StudyActivity, error) {
	raw, err := h.client.LRange(ctx, h.key(ownerID, bookID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	activities := make([]domain.StudyActivity, 0, len(raw))
	for _, item := range raw {
		var a domain.StudyActivity
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("unmarshal activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func (h *StudyHistory) key(ownerID, bookID string) string {
	return "quizbook:history:" + ownerID + ":" + bookID
}
