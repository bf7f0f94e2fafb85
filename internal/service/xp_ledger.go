package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"
	"pulse-api/pkg/logger"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// voterQueue holds a voter's pending credits. Only touched inside
// queues.Compute, which locks the voter's entry.
type voterQueue struct {
	jobs    []domain.CreditJob
	running bool
}

// XpLedger turns committed votes into XP entries off the request path.
// Credits for one voter run one at a time in vote order; different voters
// are processed in parallel on the worker pool.
type XpLedger struct {
	ledger     repository.LedgerRepository
	voters     repository.VoterRepository
	tiers      domain.TierSchedule
	milestones []domain.MilestoneDefinition
	retry      RetryPolicy
	pool       pond.Pool
	queues     *xsync.Map[string, *voterQueue]
	ctx        context.Context
	cancel     context.CancelFunc
	now        func() time.Time
	logger     *logger.Logger
}

// XpLedgerConfig configures an XpLedger
type XpLedgerConfig struct {
	Tiers      domain.TierSchedule
	Milestones []domain.MilestoneDefinition
	Workers    int
	Retry      RetryPolicy
}

// NewXpLedger creates a new ledger with its own worker pool
func NewXpLedger(ledger repository.LedgerRepository, voters repository.VoterRepository, cfg XpLedgerConfig, log *logger.Logger) *XpLedger {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &XpLedger{
		ledger:     ledger,
		voters:     voters,
		tiers:      cfg.Tiers,
		milestones: cfg.Milestones,
		retry:      cfg.Retry,
		pool:       pond.NewPool(workers, pond.WithQueueSize(workers*256)),
		queues:     xsync.NewMap[string, *voterQueue](),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		logger:     log.Named("xp_ledger"),
	}
}

// VoteCommitted queues the credit for a committed vote
func (l *XpLedger) VoteCommitted(vote domain.VoteRecord) {
	l.Enqueue(domain.CreditJob{VoterID: vote.VoterID, VoteID: vote.ID, VoterSeq: vote.VoterSeq})
}

// Enqueue adds a credit to the voter's queue, kept sorted by vote ordinal,
// and starts a drain task if none is running for that voter.
func (l *XpLedger) Enqueue(job domain.CreditJob) {
	schedule := false
	l.queues.Compute(job.VoterID, func(q *voterQueue, loaded bool) (*voterQueue, xsync.ComputeOp) {
		if !loaded {
			q = &voterQueue{}
		}
		i := sort.Search(len(q.jobs), func(i int) bool { return q.jobs[i].VoterSeq > job.VoterSeq })
		q.jobs = append(q.jobs, domain.CreditJob{})
		copy(q.jobs[i+1:], q.jobs[i:])
		q.jobs[i] = job
		if !q.running {
			q.running = true
			schedule = true
		}
		return q, xsync.UpdateOp
	})

	if schedule {
		task := l.pool.Submit(func() { l.drain(job.VoterID) })
		go func() {
			if err := task.Wait(); err != nil {
				l.logger.WithError(err).WithField("voter_id", job.VoterID).Error("XP drain task not run")
				l.queues.Delete(job.VoterID)
			}
		}()
	}
}

func (l *XpLedger) drain(voterID string) {
	for {
		var (
			job domain.CreditJob
			ok  bool
		)
		l.queues.Compute(voterID, func(q *voterQueue, loaded bool) (*voterQueue, xsync.ComputeOp) {
			if !loaded || len(q.jobs) == 0 {
				return q, xsync.DeleteOp
			}
			job, q.jobs, ok = q.jobs[0], q.jobs[1:], true
			return q, xsync.UpdateOp
		})
		if !ok {
			return
		}
		l.process(job)
	}
}

func (l *XpLedger) process(job domain.CreditJob) {
	log := l.logger.WithFields(map[string]interface{}{
		"voter_id":  job.VoterID,
		"vote_id":   job.VoteID,
		"voter_seq": job.VoterSeq,
	})

	attempts, err := Retry(l.ctx, l.retry, func(ctx context.Context) error {
		_, err := l.CreditVote(ctx, job)
		if err != nil {
			log.WithError(err).Warn("XP credit attempt failed")
		}
		return err
	})
	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Error("XP credit abandoned")
	}
}

// CreditVote appends the vote's reward and settles any milestones it
// unlocks. Replaying a job appends nothing new.
func (l *XpLedger) CreditVote(ctx context.Context, job domain.CreditJob) (*domain.XpLedgerEntry, error) {
	entry := &domain.XpLedgerEntry{
		VoterID:     job.VoterID,
		Amount:      l.tiers.AmountFor(job.VoterSeq),
		Reason:      domain.ReasonVote,
		ReferenceID: job.VoteID,
		CreatedAt:   l.now().UTC(),
	}
	inserted, err := l.ledger.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("append vote credit: %w", err)
	}
	if inserted {
		l.logger.WithFields(map[string]interface{}{
			"voter_id": job.VoterID,
			"amount":   entry.Amount,
		}).Debug("Vote credited")
	}

	if err := l.settleMilestones(ctx, job.VoterID); err != nil {
		return entry, err
	}
	return entry, nil
}

// settleMilestones completes every milestone the voter's totals now meet.
// A bonus can push XP over another threshold, so it repeats until nothing
// new completes.
func (l *XpLedger) settleMilestones(ctx context.Context, voterID string) error {
	if len(l.milestones) == 0 {
		return nil
	}
	voter, err := l.voters.GetByID(ctx, voterID)
	if err != nil {
		return fmt.Errorf("load voter: %w", err)
	}
	done, err := l.ledger.CompletedMilestones(ctx, voterID)
	if err != nil {
		return fmt.Errorf("load milestones: %w", err)
	}

	for {
		balance, err := l.ledger.Balance(ctx, voterID)
		if err != nil {
			return fmt.Errorf("load balance: %w", err)
		}

		progressed := false
		for _, def := range l.milestones {
			if _, ok := done[def.ID]; ok || !def.MetBy(voter.VoteCount, balance) {
				continue
			}
			at := l.now().UTC()
			completed, err := l.ledger.CompleteMilestone(ctx, voterID, def, at)
			if err != nil {
				return fmt.Errorf("complete milestone %s: %w", def.ID, err)
			}
			done[def.ID] = at
			if completed {
				progressed = progressed || def.Reward > 0
				l.logger.WithFields(map[string]interface{}{
					"voter_id":  voterID,
					"milestone": def.ID,
					"reward":    def.Reward,
				}).Info("Milestone completed")
			}
		}
		if !progressed {
			return nil
		}
	}
}

// Progress returns balance, vote count and milestone state for a voter
func (l *XpLedger) Progress(ctx context.Context, voterID string) (*domain.XpProgress, error) {
	voter, err := l.voters.GetByID(ctx, voterID)
	if err != nil {
		return nil, err
	}
	balance, err := l.ledger.Balance(ctx, voterID)
	if err != nil {
		return nil, err
	}
	done, err := l.ledger.CompletedMilestones(ctx, voterID)
	if err != nil {
		return nil, err
	}

	progress := &domain.XpProgress{
		VoterID:    voterID,
		Balance:    balance,
		VoteCount:  voter.VoteCount,
		Milestones: make([]domain.Milestone, 0, len(l.milestones)),
	}
	for _, def := range l.milestones {
		m := domain.Milestone{MilestoneDefinition: def}
		if at, ok := done[def.ID]; ok {
			completedAt := at
			m.Completed = true
			m.CompletedAt = &completedAt
		}
		progress.Milestones = append(progress.Milestones, m)
	}
	return progress, nil
}

// Pending reports how many voters still have credits queued or running
func (l *XpLedger) Pending() int {
	return l.queues.Size()
}

// Stop waits for queued credits, giving up on retries once ctx ends
func (l *XpLedger) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pool.StopAndWait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}
