package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pulse-api/internal/domain"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration values for the application
type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	FrontendURL    string
	PublicBaseURL  string

	DatabaseURL string
	StoreDriver string
	RedisURL    string

	VoterTokenSecret string
	VoterCookieName  string
	VoterCookieTTL   time.Duration

	RateLimitVoter  int
	RateLimitOrigin int
	RateLimitWindow time.Duration
	FastPathTimeout time.Duration

	XpTiers    domain.TierSchedule
	Milestones []domain.MilestoneDefinition
	ClaimTTL   time.Duration

	StatsRefreshSpec string
	StatsCacheTTL    time.Duration

	BackgroundWorkers        int
	BackgroundMaxAttempts    int
	BackgroundInitialBackoff time.Duration
	BackgroundMaxBackoff     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	tiers, err := domain.ParseTierSchedule(getEnv("XP_TIERS", "5:10,20:5,*:2"))
	if err != nil {
		return nil, fmt.Errorf("XP_TIERS: %w", err)
	}
	milestones, err := domain.ParseMilestones(getEnv("MILESTONES", "first_vote:votes:1:5,ten_votes:votes:10:25,xp_100:xp:100:0"))
	if err != nil {
		return nil, fmt.Errorf("MILESTONES: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		RedisURL:    getEnv("REDIS_URL", ""),

		VoterTokenSecret: getEnv("VOTER_TOKEN_SECRET", ""),
		VoterCookieName:  getEnv("VOTER_COOKIE_NAME", "pulse_voter"),
		VoterCookieTTL:   getDurationEnv("VOTER_COOKIE_TTL", 365*24*time.Hour),

		RateLimitVoter:  getIntEnv("RATE_LIMIT_VOTER", 10),
		RateLimitOrigin: getIntEnv("RATE_LIMIT_ORIGIN", 60),
		RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		FastPathTimeout: getDurationEnv("FAST_PATH_TIMEOUT", 2*time.Second),

		XpTiers:    tiers,
		Milestones: milestones,
		ClaimTTL:   getDurationEnv("CLAIM_TTL", 24*time.Hour),

		StatsRefreshSpec: getEnv("STATS_REFRESH_SPEC", "@every 30s"),
		StatsCacheTTL:    getDurationEnv("STATS_CACHE_TTL", 5*time.Minute),

		BackgroundWorkers:        getIntEnv("BACKGROUND_WORKERS", 8),
		BackgroundMaxAttempts:    getIntEnv("BACKGROUND_MAX_ATTEMPTS", 5),
		BackgroundInitialBackoff: getDurationEnv("BACKGROUND_INITIAL_BACKOFF", 200*time.Millisecond),
		BackgroundMaxBackoff:     getDurationEnv("BACKGROUND_MAX_BACKOFF", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if len(c.VoterTokenSecret) < 32 {
		return fmt.Errorf("VOTER_TOKEN_SECRET must be at least 32 bytes")
	}
	if c.RateLimitVoter <= 0 || c.RateLimitOrigin <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limits and window must be positive")
	}
	if c.BackgroundWorkers <= 0 || c.BackgroundMaxAttempts <= 0 {
		return fmt.Errorf("BACKGROUND_WORKERS and BACKGROUND_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// IsDevelopment reports whether the service runs outside production
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
