package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"
	"pulse-api/pkg/logger"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	globalFlightKey    = "global"
	localSnapshotTTL   = 2 * time.Second
	refreshAllDeadline = 25 * time.Second
	flightTimeout      = 10 * time.Second
)

type cachedSnapshot struct {
	snapshot  *domain.AggregateSnapshot
	fetchedAt time.Time
}

// StatsAggregatorConfig configures a StatsAggregator
type StatsAggregatorConfig struct {
	CacheTTL    time.Duration
	RefreshSpec string
	Workers     int
	Retry       RetryPolicy
}

// StatsAggregator recomputes breakdowns from the vote store. Reactive
// refreshes follow each commit; a cron job recomputes everything on an
// interval to heal missed triggers.
type StatsAggregator struct {
	repos     *repository.Repositories
	cache     *CacheService
	publisher SnapshotPublisher
	cfg       StatsAggregatorConfig
	pool      pond.Pool
	flights   singleflight.Group
	local     *xsync.Map[string, cachedSnapshot]
	cron      *cron.Cron
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	now       func() time.Time
	logger    *logger.Logger
}

// NewStatsAggregator creates a new aggregator. publisher may be nil.
func NewStatsAggregator(repos *repository.Repositories, cache *CacheService, publisher SnapshotPublisher, cfg StatsAggregatorConfig, log *logger.Logger) *StatsAggregator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatsAggregator{
		repos:     repos,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		pool:      pond.NewPool(workers, pond.WithQueueSize(workers*256)),
		local:     xsync.NewMap[string, cachedSnapshot](),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		logger:    log.Named("stats"),
	}
}

// VoteCommitted schedules the daily counters and a fresh recompute of the
// vote's question and the global counters.
func (s *StatsAggregator) VoteCommitted(vote domain.VoteRecord) {
	s.pool.Submit(func() {
		log := s.logger.WithField("question_id", vote.QuestionID)

		if err := s.cache.RecordDailyVote(s.ctx, vote.VoterID, vote.CreatedAt); err != nil {
			log.WithError(err).Warn("Daily counters not updated")
		}

		// Forget so this commit starts a new computation instead of joining
		// one that began before the insert.
		s.flights.Forget(vote.QuestionID)
		s.flights.Forget(globalFlightKey)
		s.Invalidate(vote.QuestionID)
		if err := s.cache.InvalidateGlobal(s.ctx); err != nil {
			log.WithError(err).Debug("Cached global stats not dropped")
		}

		attempts, err := Retry(s.ctx, s.cfg.Retry, func(ctx context.Context) error {
			_, err := s.Refresh(ctx, vote.QuestionID)
			return err
		})
		if err != nil {
			log.WithError(err).WithField("attempts", attempts).Error("Reactive refresh abandoned")
		}

		if _, err := s.refreshGlobal(s.ctx); err != nil {
			log.WithError(err).Warn("Global refresh failed")
		}
	})
}

// Refresh recomputes a question's breakdown from every stored vote, caches
// it and publishes it. Concurrent calls for one question share one
// computation.
func (s *StatsAggregator) Refresh(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	v, err, _ := s.flights.Do(questionID, func() (interface{}, error) {
		fctx, cancel := flightContext(ctx)
		defer cancel()
		return s.recompute(fctx, questionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AggregateSnapshot), nil
}

// flightContext detaches a shared computation from the caller that started
// it. Joined callers would otherwise inherit that caller's cancellation.
func flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
}

func (s *StatsAggregator) recompute(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	q, err := s.repos.Questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	started := s.now()
	responses, err := s.repos.Votes.ResponsesForQuestion(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	snap := domain.BuildSnapshot(q, responses, started)

	s.storeLocal(snap)
	if err := s.cache.StoreSnapshot(ctx, snap, s.cfg.CacheTTL); err != nil {
		s.logger.WithError(err).WithField("question_id", questionID).Debug("Snapshot not cached")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishQuestion(ctx, snap); err != nil {
			s.logger.WithError(err).WithField("question_id", questionID).Warn("Snapshot not published")
		}
	}
	return snap, nil
}

// storeLocal keeps the newest computation; an older one finishing late
// does not overwrite it.
func (s *StatsAggregator) storeLocal(snap *domain.AggregateSnapshot) {
	now := s.now()
	s.local.Compute(snap.QuestionID, func(old cachedSnapshot, loaded bool) (cachedSnapshot, xsync.ComputeOp) {
		if loaded && old.snapshot.LastUpdated.After(snap.LastUpdated) {
			return old, xsync.CancelOp
		}
		return cachedSnapshot{snapshot: snap, fetchedAt: now}, xsync.UpdateOp
	})
}

// Snapshot serves a breakdown from the in-process cache, then Redis, and
// recomputes on a miss.
func (s *StatsAggregator) Snapshot(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	if c, ok := s.local.Load(questionID); ok && s.now().Sub(c.fetchedAt) < localSnapshotTTL {
		return c.snapshot, nil
	}
	if snap, ok := s.cache.GetSnapshot(ctx, questionID); ok {
		s.storeLocal(snap)
		return snap, nil
	}
	return s.Refresh(ctx, questionID)
}

// Invalidate drops the in-process copy of a question's breakdown
func (s *StatsAggregator) Invalidate(questionID string) {
	s.local.Delete(questionID)
}

// GlobalSnapshot returns the community counters, with today's counters
// when includeDaily is set.
func (s *StatsAggregator) GlobalSnapshot(ctx context.Context, includeDaily bool) (*domain.GlobalStats, error) {
	stats, ok := s.cache.GetGlobal(ctx)
	if !ok {
		var err error
		if stats, err = s.computeGlobal(ctx); err != nil {
			return nil, err
		}
	}

	out := *stats
	if includeDaily {
		today, err := s.cache.DailyStats(ctx, s.now())
		if err != nil {
			s.logger.WithError(err).Warn("Daily counters unavailable")
		} else {
			out.Today = today
		}
	}
	return &out, nil
}

func (s *StatsAggregator) computeGlobal(ctx context.Context) (*domain.GlobalStats, error) {
	v, err, _ := s.flights.Do(globalFlightKey, func() (interface{}, error) {
		ctx, cancel := flightContext(ctx)
		defer cancel()
		stats := &domain.GlobalStats{LastUpdated: s.now().UTC()}
		var err error
		if stats.TotalVotes, err = s.repos.Votes.CountAll(ctx); err != nil {
			return nil, err
		}
		if stats.UniqueVoters, err = s.repos.Voters.CountWithVotes(ctx); err != nil {
			return nil, err
		}
		active, err := s.repos.Questions.ListActive(ctx, s.now())
		if err != nil {
			return nil, err
		}
		stats.ActiveQuestions = int64(len(active))
		if stats.TotalXpEarned, err = s.repos.Ledger.TotalXp(ctx); err != nil {
			return nil, err
		}
		if err := s.cache.StoreGlobal(ctx, stats); err != nil {
			s.logger.WithError(err).Debug("Global stats not cached")
		}
		return stats, nil
	})
	if err != nil {
		return nil, fmt.Errorf("compute global stats: %w", err)
	}
	return v.(*domain.GlobalStats), nil
}

// refreshGlobal recomputes the counters and publishes them with today's numbers
func (s *StatsAggregator) refreshGlobal(ctx context.Context) (*domain.GlobalStats, error) {
	stats, err := s.computeGlobal(ctx)
	if err != nil {
		return nil, err
	}
	out := *stats
	if today, err := s.cache.DailyStats(ctx, s.now()); err == nil {
		out.Today = today
	}
	if s.publisher != nil {
		if err := s.publisher.PublishGlobal(ctx, &out); err != nil {
			s.logger.WithError(err).Warn("Global stats not published")
		}
	}
	return &out, nil
}

// RefreshAll recomputes every active question and the global counters.
// It is idempotent and safe to run at any time.
func (s *StatsAggregator) RefreshAll(ctx context.Context) error {
	questions, err := s.repos.Questions.ListActive(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list active questions: %w", err)
	}

	var failed atomic.Int32
	group := s.pool.NewGroupContext(ctx)
	for _, q := range questions {
		id := q.ID
		group.Submit(func() {
			if _, err := s.Refresh(ctx, id); err != nil {
				failed.Add(1)
				s.logger.WithError(err).WithField("question_id", id).Warn("Scheduled refresh failed")
			}
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("refresh questions: %w", err)
	}

	if _, err := s.refreshGlobal(ctx); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d question refreshes failed", n, len(questions))
	}
	return nil
}

// Start schedules the self-healing recompute
func (s *StatsAggregator) Start() error {
	if s.cfg.RefreshSpec == "" {
		return nil
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	_, err := s.cron.AddFunc(s.cfg.RefreshSpec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, refreshAllDeadline)
		defer cancel()
		if err := s.RefreshAll(ctx); err != nil {
			s.logger.WithError(err).Warn("Scheduled stats refresh incomplete")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stats refresh %q: %w", s.cfg.RefreshSpec, err)
	}
	s.cron.Start()
	s.logger.WithField("spec", s.cfg.RefreshSpec).Info("Stats refresh scheduled")
	return nil
}

// Stop halts the schedule and drains pending refreshes
func (s *StatsAggregator) Stop(ctx context.Context) error {
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.stopOnce.Do(s.pool.StopAndWait)
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// cronLogger adapts the service logger to cron's logging interface
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).Sugar().Errorw(msg, keysAndValues...)
}
