package repository

import (
	"context"
	"errors"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"

	"github.com/jackc/pgx/v5"
)

const claimColumns = `id, token, voter_id, email, total_xp, status, expires_at, claimed_at, created_at`

type PostgresClaimRepository struct {
	db *database.PostgresDB
}

func NewClaimRepository(db *database.PostgresDB) *PostgresClaimRepository {
	return &PostgresClaimRepository{db: db}
}

func scanClaim(row pgx.Row) (*domain.XpClaim, error) {
	var c domain.XpClaim
	err := row.Scan(
		&c.ID,
		&c.Token,
		&c.VoterID,
		&c.Email,
		&c.TotalXp,
		&c.Status,
		&c.ExpiresAt,
		&c.ClaimedAt,
		&c.CreatedAt,
	)
	return &c, err
}

// Create stores a new pending claim
func (r *PostgresClaimRepository) Create(ctx context.Context, claim *domain.XpClaim) error {
	query := `
		INSERT INTO xp_claims (id, token, voter_id, email, total_xp, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		claim.ID,
		claim.Token,
		claim.VoterID,
		claim.Email,
		claim.TotalXp,
		claim.Status,
		claim.ExpiresAt,
		claim.CreatedAt,
	)
	if err != nil {
		return storeErr("create claim", err)
	}
	return nil
}

// Redeem performs the pending -> claimed transition as a single conditional
// UPDATE, so concurrent redemptions see exactly one winner.
func (r *PostgresClaimRepository) Redeem(ctx context.Context, token string, now time.Time) (*domain.XpClaim, error) {
	query := `
		UPDATE xp_claims
		SET status = 'claimed', claimed_at = $2
		WHERE token = $1 AND status = 'pending' AND expires_at >= $2
		RETURNING ` + claimColumns

	claim, err := scanClaim(r.db.Pool.QueryRow(ctx, query, token, now))
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("redeem claim", err)
	}

	if err := r.expire(ctx, token, now); err != nil {
		return nil, err
	}
	return nil, domain.ErrClaimInvalid
}

// GetByToken reads a claim, expiring it lazily
func (r *PostgresClaimRepository) GetByToken(ctx context.Context, token string, now time.Time) (*domain.XpClaim, error) {
	if err := r.expire(ctx, token, now); err != nil {
		return nil, err
	}
	claim, err := scanClaim(r.db.Pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM xp_claims WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrClaimInvalid
	}
	if err != nil {
		return nil, storeErr("get claim", err)
	}
	return claim, nil
}

func (r *PostgresClaimRepository) expire(ctx context.Context, token string, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE xp_claims SET status = 'expired'
		WHERE token = $1 AND status = 'pending' AND expires_at < $2
	`, token, now)
	if err != nil {
		return storeErr("expire claim", err)
	}
	return nil
}
