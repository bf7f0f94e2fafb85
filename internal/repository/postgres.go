package repository

import (
	"fmt"

	"pulse-api/internal/domain"
	"pulse-api/pkg/database"
)

// NewPostgresRepositories builds every repository over one pool
func NewPostgresRepositories(db *database.PostgresDB) *Repositories {
	return &Repositories{
		Voters:    NewVoterRepository(db),
		Questions: NewQuestionRepository(db),
		Votes:     NewVoteRepository(db),
		Ledger:    NewLedgerRepository(db),
		Claims:    NewClaimRepository(db),
	}
}

// storeErr tags retryable failures so background workers know to retry
func storeErr(op string, err error) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStore, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
