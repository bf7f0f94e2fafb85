package handler

import (
	"net/http"

	"pulse-api/internal/domain"
	"pulse-api/internal/middleware"
	"pulse-api/internal/service"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"
)

// IdentityHandler exposes the caller's anonymous handle and XP progress
type IdentityHandler struct {
	identity *service.IdentityService
	ledger   *service.XpLedger
	logger   *logger.Logger
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(identity *service.IdentityService, ledger *service.XpLedger, log *logger.Logger) *IdentityHandler {
	return &IdentityHandler{identity: identity, ledger: ledger, logger: log.Named("identity_handler")}
}

// EnsureVoter handles POST /api/v1/voter. The Voter middleware already
// resolved or minted the handle; this returns its signed token.
func (h *IdentityHandler) EnsureVoter(w http.ResponseWriter, r *http.Request) {
	voter, ok := middleware.VoterFromContext(r.Context())
	if !ok {
		respondError(w, r, errors.NewInternalError("Voter handle missing", nil), h.logger)
		return
	}
	signed, err := h.identity.EncodeToken(voter.Token)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	created := middleware.VoterCreated(r.Context())
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, domain.VoterResponse{
		VoterID:   voter.ID,
		Token:     signed,
		VoteCount: voter.VoteCount,
		Created:   created,
	})
}

// Progress handles GET /api/v1/me/xp
func (h *IdentityHandler) Progress(w http.ResponseWriter, r *http.Request) {
	voter, ok := middleware.VoterFromContext(r.Context())
	if !ok {
		respondError(w, r, errors.NewInternalError("Voter handle missing", nil), h.logger)
		return
	}
	progress, err := h.ledger.Progress(r.Context(), voter.ID)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, progress)
}
