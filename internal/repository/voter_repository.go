package repository

import (
	"context"
	"errors"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"

	"github.com/jackc/pgx/v5"
)

type PostgresVoterRepository struct {
	db *database.PostgresDB
}

func NewVoterRepository(db *database.PostgresDB) *PostgresVoterRepository {
	return &PostgresVoterRepository{db: db}
}

// InsertOrGet relies on the unique token constraint; a concurrent insert of
// the same token falls through to the SELECT and returns the winner's row.
func (r *PostgresVoterRepository) InsertOrGet(ctx context.Context, handle *domain.VoterHandle) (*domain.VoterHandle, bool, error) {
	insert := `
		INSERT INTO voters (id, token, origin_address, vote_count, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (token) DO NOTHING
		RETURNING id, vote_count, created_at
	`

	stored := *handle
	err := r.db.Pool.QueryRow(ctx, insert,
		handle.ID,
		handle.Token,
		handle.OriginAddress,
		handle.CreatedAt,
	).Scan(&stored.ID, &stored.VoteCount, &stored.CreatedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storeErr("insert voter", err)
	}

	existing, err := r.getBy(ctx, "token", handle.Token)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a handle by id
func (r *PostgresVoterRepository) GetByID(ctx context.Context, id string) (*domain.VoterHandle, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PostgresVoterRepository) getBy(ctx context.Context, column, value string) (*domain.VoterHandle, error) {
	query := `
		SELECT id, token, COALESCE(origin_address, ''), vote_count, created_at
		FROM voters
		WHERE ` + column + ` = $1
	`

	var h domain.VoterHandle
	err := r.db.Pool.QueryRow(ctx, query, value).Scan(
		&h.ID,
		&h.Token,
		&h.OriginAddress,
		&h.VoteCount,
		&h.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrVoterNotFound
	}
	if err != nil {
		return nil, storeErr("get voter", err)
	}
	return &h, nil
}

// CountWithVotes returns how many voters have voted at least once
func (r *PostgresVoterRepository) CountWithVotes(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM voters WHERE vote_count > 0`).Scan(&n); err != nil {
		return 0, storeErr("count voters", err)
	}
	return n, nil
}
