package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"pulse-api/internal/container"
	"pulse-api/internal/middleware"
	"pulse-api/internal/realtime"
)

// requestTimeout bounds every non-streaming request
const requestTimeout = 30 * time.Second

// NewRouter configures the HTTP surface over a wired container
func NewRouter(c *container.Container, version string) *chi.Mux {
	cfg := c.Config
	log := c.Logger
	svc := c.Services

	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.AllowedOrigins

	r.Use(middleware.CORS(corsConfig, log))
	r.Use(middleware.RequestID())
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	checks := map[string]HealthChecker{"redis": c.RedisClient}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	healthHandler := NewHealthHandler(checks, version, log)
	votingHandler := NewVotingHandler(svc.Votes, log)
	statsHandler := NewStatsHandler(svc.Stats, log)
	identityHandler := NewIdentityHandler(svc.Identity, svc.Ledger, log)
	claimHandler := NewClaimHandler(svc.Claims, cfg.FrontendURL, log)
	wsHandler := realtime.NewHandler(c.Hub, svc.Stats, cfg.AllowedOrigins, log)

	voter := middleware.Voter(svc.Identity, middleware.VoterCookieConfig{
		Name:   cfg.VoterCookieName,
		TTL:    cfg.VoterCookieTTL,
		Secure: !cfg.IsDevelopment(),
	}, log)

	// Long-lived socket; stays outside compression and the request timeout.
	r.Get("/api/v1/ws", wsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Compress(5))
		r.Use(chiMiddleware.Timeout(requestTimeout))

		r.Get("/health", healthHandler.Check)
		r.Get("/claim/{token}", claimHandler.RedeemLink)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/questions/active", votingHandler.ActiveQuestions)
			r.Get("/questions/{questionId}/stats", statsHandler.QuestionStats)
			r.Get("/stats", statsHandler.GlobalStats)
			r.Post("/claims/redeem", claimHandler.Redeem)

			r.Group(func(r chi.Router) {
				r.Use(voter)

				r.Post("/voter", identityHandler.EnsureVoter)
				r.Get("/me/xp", identityHandler.Progress)
				r.Post("/questions/{questionId}/votes", votingHandler.SubmitVote)
				r.Post("/claims", claimHandler.Issue)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"type":"not_found","message":"Endpoint not found"}}`))
	})

	log.Info("Router configured successfully")
	return r
}
