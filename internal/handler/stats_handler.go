package handler

import (
	"net/http"
	"strconv"

	"pulse-api/internal/service"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// StatsHandler serves breakdowns and community counters. Both are the
// polling fallback of the realtime channel.
type StatsHandler struct {
	stats  *service.StatsAggregator
	logger *logger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats *service.StatsAggregator, log *logger.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: log.Named("stats_handler")}
}

// QuestionStats handles GET /api/v1/questions/{questionId}/stats
func (h *StatsHandler) QuestionStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stats.Snapshot(r.Context(), chi.URLParam(r, "questionId"))
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	if notModified(w, r, snap) {
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, snap)
}

// GlobalStats handles GET /api/v1/stats?includeDaily=true
func (h *StatsHandler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	includeDaily := false
	if raw := r.URL.Query().Get("includeDaily"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, r, errors.NewValidationError("includeDaily must be a boolean", nil), h.logger)
			return
		}
		includeDaily = v
	}

	stats, err := h.stats.GlobalSnapshot(r.Context(), includeDaily)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	if notModified(w, r, stats) {
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, stats)
}
