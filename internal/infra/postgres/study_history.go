package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizbook-tracker/internal/domain"
)

// StudyHistory stores study activities in Postgres and prunes all but the latest per book.
type StudyHistory struct {
	pool  *pgxpool.Pool
	limit int
}

func NewStudyHistory(pool *pgxpool.Pool) *StudyHistory {
	return &StudyHistory{pool: pool, limit: domain.StudyHistoryLimit}
}

func (h *StudyHistory) RecordActivity(ctx context.Context, activity domain.StudyActivity) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activity: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO study_activities (id, owner_id, book_id, chapter_id, studied_at) VALUES ($1, $2, $3, $4, $5)`,
		activity.ID, activity.OwnerID, activity.BookID, activity.ChapterID, activity.At); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM study_activities
		WHERE book_id=$1 AND id NOT IN (
			SELECT id FROM study_activities WHERE book_id=$1 ORDER BY studied_at DESC, id DESC LIMIT $2
		)`, activity.BookID, h.limit); err != nil {
		return fmt.Errorf("prune activities: %w", err)
	}
	return tx.Commit(ctx)
}

// Recent returns the stored activities of a book, newest first.
func (h *StudyHistory) Recent(ctx context.Context, ownerID, bookID string) ([]domain.StudyActivity, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, owner_id, book_id, chapter_id, studied_at FROM study_activities
		WHERE owner_id=$1 AND book_id=$2 ORDER BY studied_at DESC, id DESC`, ownerID, bookID)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	defer rows.Close()

	var out []domain.StudyActivity
	for rows.Next() {
		var a domain.StudyActivity
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.BookID, &a.ChapterID, &a.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
