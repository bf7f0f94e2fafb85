package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"

	"github.com/jackc/pgx/v5"
)

type PostgresVoteRepository struct {
	db *database.PostgresDB
}

func NewVoteRepository(db *database.PostgresDB) *PostgresVoteRepository {
	return &PostgresVoteRepository{db: db}
}

// Insert bumps the voter row first, which serializes a voter's submissions
// on its row lock, then inserts the vote with the new ordinal. A conflict on
// (question_id, voter_id) rolls the bump back.
func (r *PostgresVoteRepository) Insert(ctx context.Context, vote *domain.VoteRecord) error {
	payload, err := json.Marshal(vote.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx,
			`UPDATE voters SET vote_count = vote_count + 1 WHERE id = $1 RETURNING vote_count`,
			vote.VoterID,
		).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrVoterNotFound
		}
		if err != nil {
			return storeErr("bump vote count", err)
		}

		insert := `
			INSERT INTO votes (id, question_id, voter_id, response, voter_seq, origin_address, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (question_id, voter_id) DO NOTHING
			RETURNING created_at
		`
		err = tx.QueryRow(ctx, insert,
			vote.ID,
			vote.QuestionID,
			vote.VoterID,
			payload,
			seq,
			vote.OriginAddress,
			vote.CreatedAt,
		).Scan(&vote.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) || database.IsUniqueViolation(err) {
			return domain.ErrConflict
		}
		if err != nil {
			return storeErr("insert vote", err)
		}

		vote.VoterSeq = seq
		return nil
	})
}

// Get returns a voter's vote on a question, or nil
func (r *PostgresVoteRepository) Get(ctx context.Context, questionID, voterID string) (*domain.VoteRecord, error) {
	query := `
		SELECT id, question_id, voter_id, response, voter_seq, COALESCE(origin_address, ''), created_at
		FROM votes
		WHERE question_id = $1 AND voter_id = $2
	`

	var (
		v       domain.VoteRecord
		payload []byte
	)
	err := r.db.Pool.QueryRow(ctx, query, questionID, voterID).Scan(
		&v.ID,
		&v.QuestionID,
		&v.VoterID,
		&payload,
		&v.VoterSeq,
		&v.OriginAddress,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get vote", err)
	}
	if err := json.Unmarshal(payload, &v.Response); err != nil {
		return nil, fmt.Errorf("decode response of vote %s: %w", v.ID, err)
	}
	return &v, nil
}

// ResponsesForQuestion loads every response for a full recompute
func (r *PostgresVoteRepository) ResponsesForQuestion(ctx context.Context, questionID string) ([]domain.Response, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT response FROM votes WHERE question_id = $1`, questionID)
	if err != nil {
		return nil, storeErr("list responses", err)
	}
	defer rows.Close()

	var responses []domain.Response
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, storeErr("scan response", err)
		}
		var resp domain.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("decode response for question %s: %w", questionID, err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list responses", err)
	}
	return responses, nil
}

// CountAll returns the number of votes
func (r *PostgresVoteRepository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM votes`).Scan(&n); err != nil {
		return 0, storeErr("count votes", err)
	}
	return n, nil
}
