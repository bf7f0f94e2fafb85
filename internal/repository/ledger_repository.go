package repository

import (
	"context"
	"errors"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresLedgerRepository struct {
	db *database.PostgresDB
}

func NewLedgerRepository(db *database.PostgresDB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

const insertLedgerEntry = `
	INSERT INTO xp_ledger (id, voter_id, amount, reason, reference_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (voter_id, reason, reference_id) DO NOTHING
	RETURNING id
`

// Append stores an entry; replays of the same (voter, reason, reference) are ignored
func (r *PostgresLedgerRepository) Append(ctx context.Context, entry *domain.XpLedgerEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var id string
	err := r.db.Pool.QueryRow(ctx, insertLedgerEntry,
		entry.ID,
		entry.VoterID,
		entry.Amount,
		entry.Reason,
		entry.ReferenceID,
		entry.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("append ledger entry", err)
	}
	return true, nil
}

// Balance sums a voter's entries
func (r *PostgresLedgerRepository) Balance(ctx context.Context, voterID string) (int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_ledger WHERE voter_id = $1`, voterID,
	).Scan(&total)
	if err != nil {
		return 0, storeErr("sum ledger", err)
	}
	return total, nil
}

// TotalXp sums all entries
func (r *PostgresLedgerRepository) TotalXp(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM xp_ledger`).Scan(&total); err != nil {
		return 0, storeErr("sum ledger", err)
	}
	return total, nil
}

// CompleteMilestone records completion and the bonus entry in one transaction
func (r *PostgresLedgerRepository) CompleteMilestone(ctx context.Context, voterID string, def domain.MilestoneDefinition, at time.Time) (bool, error) {
	completed := false
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO voter_milestones (voter_id, milestone_id, metric, threshold, completed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (voter_id, milestone_id) DO NOTHING
		`, voterID, def.ID, def.Metric, def.Threshold, at)
		if err != nil {
			return storeErr("complete milestone", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		completed = true
		if def.Reward <= 0 {
			return nil
		}

		var id string
		err = tx.QueryRow(ctx, insertLedgerEntry,
			uuid.NewString(),
			voterID,
			def.Reward,
			domain.ReasonMilestone,
			def.ID,
			at,
		).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return storeErr("append milestone bonus", err)
		}
		return nil
	})
	return completed, err
}

// CompletedMilestones lists a voter's completed milestones
func (r *PostgresLedgerRepository) CompletedMilestones(ctx context.Context, voterID string) (map[string]time.Time, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT milestone_id, completed_at FROM voter_milestones WHERE voter_id = $1`, voterID)
	if err != nil {
		return nil, storeErr("list milestones", err)
	}
	defer rows.Close()

	done := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, storeErr("scan milestone", err)
		}
		done[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list milestones", err)
	}
	return done, nil
}
