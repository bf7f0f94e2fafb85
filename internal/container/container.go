package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulse-api/internal/config"
	"pulse-api/internal/realtime"
	"pulse-api/internal/repository"
	"pulse-api/internal/repository/memory"
	"pulse-api/internal/service"
	"pulse-api/pkg/database"
	"pulse-api/pkg/logger"
	"pulse-api/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	RedisClient  *redis.Client
	DB           *database.PostgresDB // nil with the memory store
	Repositories *repository.Repositories
	Cache        *service.CacheService
	Services     *service.Services
	Hub          *realtime.Hub
	Bus          *realtime.RedisBus

	busCancel context.CancelFunc
	busDone   chan struct{}
	stopOnce  sync.Once
}

// New connects to Redis and the configured store, then wires every service
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	redisClient, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Info("Redis client initialized successfully")

	var (
		db    *database.PostgresDB
		repos *repository.Repositories
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memory.New()
		repos = store.Repositories()
		n, err := repository.Seed(ctx, repos.Questions, time.Now())
		if err != nil {
			_ = redisClient.Close()
			return nil, err
		}
		log.WithField("questions", n).Warn("Using in-memory store, data is lost on restart")
	default:
		db, err = database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		repos = repository.NewPostgresRepositories(db)
		log.Info("Database connection pool initialized successfully")
	}

	c := NewWithDeps(cfg, log, redisClient, repos)
	c.DB = db
	return c, nil
}

// NewWithDeps wires the services over already connected dependencies
func NewWithDeps(cfg *config.Config, log *logger.Logger, redisClient *redis.Client, repos *repository.Repositories) *Container {
	retry := service.RetryPolicy{
		MaxAttempts:    cfg.BackgroundMaxAttempts,
		InitialBackoff: cfg.BackgroundInitialBackoff,
		MaxBackoff:     cfg.BackgroundMaxBackoff,
	}

	cache := service.NewCacheService(redisClient, log.Logger)
	hub := realtime.NewHub()
	bus := realtime.NewRedisBus(redisClient, hub, log)

	identity := service.NewIdentityService(repos.Voters, cfg.VoterTokenSecret, cfg.VoterCookieTTL, log)
	limiter := service.NewRateLimiter(redisClient, service.RateLimitConfig{
		VoterLimit:  cfg.RateLimitVoter,
		OriginLimit: cfg.RateLimitOrigin,
		Window:      cfg.RateLimitWindow,
	})
	votes := service.NewVoteService(repos.Questions, repos.Votes, limiter, cfg.FastPathTimeout, log)
	ledger := service.NewXpLedger(repos.Ledger, repos.Voters, service.XpLedgerConfig{
		Tiers:      cfg.XpTiers,
		Milestones: cfg.Milestones,
		Workers:    cfg.BackgroundWorkers,
		Retry:      retry,
	}, log)
	stats := service.NewStatsAggregator(repos, cache, bus, service.StatsAggregatorConfig{
		CacheTTL:    cfg.StatsCacheTTL,
		RefreshSpec: cfg.StatsRefreshSpec,
		Workers:     cfg.BackgroundWorkers,
		Retry:       retry,
	}, log)
	claims := service.NewClaimService(repos.Claims, repos.Voters, repos.Ledger,
		service.NewLogMailer(log), cfg.PublicBaseURL, cfg.ClaimTTL, log)

	votes.Subscribe(ledger)
	votes.Subscribe(stats)

	return &Container{
		Config:       cfg,
		Logger:       log,
		RedisClient:  redisClient,
		Repositories: repos,
		Cache:        cache,
		Hub:          hub,
		Bus:          bus,
		Services: &service.Services{
			Identity: identity,
			Limiter:  limiter,
			Votes:    votes,
			Ledger:   ledger,
			Stats:    stats,
			Claims:   claims,
		},
	}
}

// Start launches the realtime relay and the scheduled stats refresh
func (c *Container) Start(ctx context.Context) error {
	if err := c.Services.Stats.Start(); err != nil {
		return err
	}

	busCtx, cancel := context.WithCancel(ctx)
	c.busCancel = cancel
	c.busDone = make(chan struct{})
	go func() {
		defer close(c.busDone)
		c.Bus.Run(busCtx)
	}()
	return nil
}

// Shutdown drains background work and closes connections. Safe to call
// more than once.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	c.stopOnce.Do(func() {
		if c.busCancel != nil {
			c.busCancel()
			select {
			case <-c.busDone:
			case <-ctx.Done():
			}
		}

		c.Logger.Info("Draining background work...")
		if err := c.Services.Stats.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stats aggregator: %w", err))
		}
		if err := c.Services.Ledger.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("xp ledger: %w", err))
		}

		healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.RedisClient.Health(healthCtx); err != nil {
			c.Logger.WithError(err).Warn("Redis health check failed before closing")
		}
		cancel()
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}

		if c.DB != nil {
			c.DB.Close()
			c.Logger.Info("Database connection pool closed successfully")
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
	}
	return nil
}
