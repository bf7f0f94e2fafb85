package repository

import (
	"context"
	"errors"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"

	"github.com/jackc/pgx/v5"
)

const questionColumns = `id, title, type, options, COALESCE(category, ''), starts_at, ends_at, display_order, created_at`

type PostgresQuestionRepository struct {
	db *database.PostgresDB
}

func NewQuestionRepository(db *database.PostgresDB) *PostgresQuestionRepository {
	return &PostgresQuestionRepository{db: db}
}

func scanQuestion(row pgx.Row) (*domain.Question, error) {
	var q domain.Question
	err := row.Scan(
		&q.ID,
		&q.Title,
		&q.Type,
		&q.Options,
		&q.Category,
		&q.StartsAt,
		&q.EndsAt,
		&q.DisplayOrder,
		&q.CreatedAt,
	)
	return &q, err
}

// GetByID gets a question by id
func (r *PostgresQuestionRepository) GetByID(ctx context.Context, id string) (*domain.Question, error) {
	q, err := scanQuestion(r.db.Pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuestionNotFound
	}
	if err != nil {
		return nil, storeErr("get question", err)
	}
	return q, nil
}

// ListActive returns questions open at now, ordered for display
func (r *PostgresQuestionRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.Question, error) {
	query := `
		SELECT ` + questionColumns + `
		FROM questions
		WHERE (starts_at IS NULL OR starts_at <= $1)
		  AND (ends_at IS NULL OR ends_at > $1)
		ORDER BY display_order, created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, storeErr("list active questions", err)
	}
	defer rows.Close()

	var questions []*domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, storeErr("scan question", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list active questions", err)
	}
	return questions, nil
}

// Upsert writes a question, used by seeding
func (r *PostgresQuestionRepository) Upsert(ctx context.Context, q *domain.Question) error {
	query := `
		INSERT INTO questions (id, title, type, options, category, starts_at, ends_at, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			options = EXCLUDED.options,
			category = EXCLUDED.category,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			display_order = EXCLUDED.display_order
	`

	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Pool.Exec(ctx, query,
		q.ID,
		q.Title,
		q.Type,
		q.Options,
		q.Category,
		q.StartsAt,
		q.EndsAt,
		q.DisplayOrder,
		q.CreatedAt,
	)
	if err != nil {
		return storeErr("upsert question", err)
	}
	return nil
}
