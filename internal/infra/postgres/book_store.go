package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizbook-tracker/internal/app"
	"quizbook-tracker/internal/domain"
)

// BookStore persists quiz book trees in Postgres. Attempt histories are stored
// as a JSONB array on the question record row.
type BookStore struct {
	pool *pgxpool.Pool
}

func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

// LoadBook reads the whole tree inside one repeatable-read transaction so the
// caller sees a single snapshot.
func (s *BookStore) LoadBook(ctx context.Context, ownerID, bookID string) (domain.QuizBook, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.QuizBook{}, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback(ctx)

	var book domain.QuizBook
	var mode int16
	err = tx.QueryRow(ctx,
		`SELECT id, owner_id, title, current_round, section_mode FROM quiz_books WHERE id=$1 AND owner_id=$2`,
		bookID, ownerID,
	).Scan(&book.ID, &book.OwnerID, &book.Title, &book.CurrentRound, &mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizBook{}, domain.ErrBookNotFound
	}
	if err != nil {
		return domain.QuizBook{}, fmt.Errorf("load book: %w", err)
	}
	book.SectionMode = domain.SectionMode(mode)

	chapterIdx := make(map[string]int)
	rows, err := tx.Query(ctx,
		`SELECT id, number, title, question_count FROM chapters WHERE book_id=$1 ORDER BY number, id`, bookID)
	if err != nil {
		return domain.QuizBook{}, fmt.Errorf("load chapters: %w", err)
	}
	for rows.Next() {
		var ch domain.Chapter
		if err := rows.Scan(&ch.ID, &ch.Number, &ch.Title, &ch.QuestionCount); err != nil {
			rows.Close()
			return domain.QuizBook{}, fmt.Errorf("scan chapter: %w", err)
		}
		chapterIdx[ch.ID] = len(book.Chapters)
		book.Chapters = append(book.Chapters, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.QuizBook{}, fmt.Errorf("load chapters: %w", err)
	}

	type sectionPos struct{ chapter, section int }
	sectionIdx := make(map[string]sectionPos)
	rows, err = tx.Query(ctx, `
		SELECT s.id, s.chapter_id, s.number, s.title, s.question_count
		FROM sections s JOIN chapters c ON c.id = s.chapter_id
		WHERE c.book_id=$1 ORDER BY s.number, s.id`, bookID)
	if err != nil {
		return domain.QuizBook{}, fmt.Errorf("load sections: %w", err)
	}
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.ID, &sec.ChapterID, &sec.Number, &sec.Title, &sec.QuestionCount); err != nil {
			rows.Close()
			return domain.QuizBook{}, fmt.Errorf("scan section: %w", err)
		}
		ci := chapterIdx[sec.ChapterID]
		sectionIdx[sec.ID] = sectionPos{chapter: ci, section: len(book.Chapters[ci].Sections)}
		book.Chapters[ci].Sections = append(book.Chapters[ci].Sections, sec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.QuizBook{}, fmt.Errorf("load sections: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT q.id, q.chapter_id, q.section_id, q.question_number, q.memo, q.bookmarked, q.attempts
		FROM question_records q
		LEFT JOIN sections s ON s.id = q.section_id
		JOIN chapters c ON c.id = COALESCE(q.chapter_id, s.chapter_id)
		WHERE c.book_id=$1 ORDER BY q.question_number`, bookID)
	if err != nil {
		return domain.QuizBook{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec       domain.QuestionRecord
			chapterID *string
			sectionID *string
			raw       []byte
		)
		if err := rows.Scan(&rec.ID, &chapterID, &sectionID, &rec.QuestionNumber, &rec.Memo, &rec.Bookmarked, &raw); err != nil {
			return domain.QuizBook{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Attempts); err != nil {
			return domain.QuizBook{}, fmt.Errorf("unmarshal attempts of %s: %w", rec.ID, err)
		}
		if sectionID != nil {
			pos := sectionIdx[*sectionID]
			sec := &book.Chapters[pos.chapter].Sections[pos.section]
			sec.Questions = append(sec.Questions, rec)
			continue
		}
		ch := &book.Chapters[chapterIdx[*chapterID]]
		ch.Questions = append(ch.Questions, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.QuizBook{}, fmt.Errorf("load questions: %w", err)
	}
	return book, nil
}

// MutateQuestion runs the mutation under a transaction-scoped advisory lock on
// (container, question number), so concurrent edits of one question queue up.
func (s *BookStore) MutateQuestion(ctx context.Context, ownerID string, ref domain.ContainerRef, questionNumber int, mutate app.QuestionMutation) (domain.Placement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Placement{}, fmt.Errorf("begin mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	placement, err := resolveContainer(ctx, tx, ownerID, ref)
	if err != nil {
		return domain.Placement{}, err
	}

	column, containerID := "chapter_id", ref.ChapterID
	if !ref.IsChapter() {
		column, containerID = "section_id", ref.SectionID
	}

	lockKey := column + ":" + containerID + ":" + strconv.Itoa(questionNumber)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return domain.Placement{}, fmt.Errorf("lock question: %w", err)
	}

	rec := domain.QuestionRecord{QuestionNumber: questionNumber}
	var raw []byte
	existed := true
	err = tx.QueryRow(ctx,
		`SELECT id, memo, bookmarked, attempts FROM question_records WHERE `+column+`=$1 AND question_number=$2`,
		containerID, questionNumber,
	).Scan(&rec.ID, &rec.Memo, &rec.Bookmarked, &raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		existed = false
	case err != nil:
		return domain.Placement{}, fmt.Errorf("load question: %w", err)
	default:
		if err := json.Unmarshal(raw, &rec.Attempts); err != nil {
			return domain.Placement{}, fmt.Errorf("unmarshal attempts of %s: %w", rec.ID, err)
		}
	}

	if err := mutate(&rec); err != nil {
		return domain.Placement{}, err
	}

	switch {
	case len(rec.Attempts) == 0 && existed:
		if _, err := tx.Exec(ctx, `DELETE FROM question_records WHERE id=$1`, rec.ID); err != nil {
			return domain.Placement{}, fmt.Errorf("delete question: %w", err)
		}
	case len(rec.Attempts) == 0:
	default:
		data, err := json.Marshal(rec.Attempts)
		if err != nil {
			return domain.Placement{}, fmt.Errorf("marshal attempts: %w", err)
		}
		if existed {
			_, err = tx.Exec(ctx,
				`UPDATE question_records SET attempts=$1::jsonb, memo=$2, bookmarked=$3 WHERE id=$4`,
				string(data), rec.Memo, rec.Bookmarked, rec.ID)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO question_records (id, `+column+`, question_number, memo, bookmarked, attempts) VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
				rec.ID, containerID, questionNumber, rec.Memo, rec.Bookmarked, string(data))
		}
		if err != nil {
			return domain.Placement{}, fmt.Errorf("save question: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Placement{}, fmt.Errorf("commit mutate: %w", err)
	}
	return placement, nil
}

func (s *BookStore) SetCurrentRound(ctx context.Context, ownerID, bookID string, round int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_books SET current_round=$1 WHERE id=$2 AND owner_id=$3`, round, bookID, ownerID)
	if err != nil {
		return fmt.Errorf("set current round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookNotFound
	}
	return nil
}

// CreateBook inserts a whole tree, including any attempt histories it already carries.
func (s *BookStore) CreateBook(ctx context.Context, book domain.QuizBook) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO quiz_books (id, owner_id, title, current_round, section_mode) VALUES ($1, $2, $3, $4, $5)`,
		book.ID, book.OwnerID, book.Title, book.CurrentRound, int16(book.SectionMode)); err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	for _, ch := range book.Chapters {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chapters (id, book_id, number, title, question_count) VALUES ($1, $2, $3, $4, $5)`,
			ch.ID, book.ID, ch.Number, ch.Title, ch.QuestionCount); err != nil {
			return fmt.Errorf("insert chapter %s: %w", ch.ID, err)
		}
		if err := insertRecords(ctx, tx, "chapter_id", ch.ID, ch.Questions); err != nil {
			return err
		}
		for _, sec := range ch.Sections {
			if _, err := tx.Exec(ctx,
				`INSERT INTO sections (id, chapter_id, number, title, question_count) VALUES ($1, $2, $3, $4, $5)`,
				sec.ID, ch.ID, sec.Number, sec.Title, sec.QuestionCount); err != nil {
				return fmt.Errorf("insert section %s: %w", sec.ID, err)
			}
			if err := insertRecords(ctx, tx, "section_id", sec.ID, sec.Questions); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

func insertRecords(ctx context.Context, tx pgx.Tx, column, containerID string, records []domain.QuestionRecord) error {
	for _, rec := range records {
		if len(rec.Attempts) == 0 {
			continue
		}
		data, err := json.Marshal(rec.Attempts)
		if err != nil {
			return fmt.Errorf("marshal attempts: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO question_records (id, `+column+`, question_number, memo, bookmarked, attempts) VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
			rec.ID, containerID, rec.QuestionNumber, rec.Memo, rec.Bookmarked, string(data)); err != nil {
			return fmt.Errorf("insert question %d: %w", rec.QuestionNumber, err)
		}
	}
	return nil
}

func resolveContainer(ctx context.Context, tx pgx.Tx, ownerID string, ref domain.ContainerRef) (domain.Placement, error) {
	var p domain.Placement
	if ref.IsChapter() {
		err := tx.QueryRow(ctx, `
			SELECT c.id, c.book_id FROM chapters c JOIN quiz_books b ON b.id = c.book_id
			WHERE c.id=$1 AND b.owner_id=$2`, ref.ChapterID, ownerID,
		).Scan(&p.ChapterID, &p.BookID)
		if errors.Is(err, pgx.ErrNoRows) {
			return p, domain.ErrChapterNotFound
		}
		if err != nil {
			return p, fmt.Errorf("resolve chapter: %w", err)
		}
		return p, nil
	}

	err := tx.QueryRow(ctx, `
		SELECT s.id, s.chapter_id, c.book_id FROM sections s
		JOIN chapters c ON c.id = s.chapter_id
		JOIN quiz_books b ON b.id = c.book_id
		WHERE s.id=$1 AND b.owner_id=$2`, ref.SectionID, ownerID,
	).Scan(&p.SectionID, &p.ChapterID, &p.BookID)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, domain.ErrSectionNotFound
	}
	if err != nil {
		return p, fmt.Errorf("resolve section: %w", err)
	}
	return p, nil
}
