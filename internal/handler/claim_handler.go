package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pulse-api/internal/domain"
	"pulse-api/internal/middleware"
	"pulse-api/internal/service"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// ClaimHandler issues and redeems XP claims
type ClaimHandler struct {
	claims      *service.ClaimService
	frontendURL string
	logger      *logger.Logger
}

// NewClaimHandler creates a new claim handler. Redeemed links redirect to
// views under frontendURL.
func NewClaimHandler(claims *service.ClaimService, frontendURL string, log *logger.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims:      claims,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      log.Named("claim_handler"),
	}
}

// Issue handles POST /api/v1/claims
func (h *ClaimHandler) Issue(w http.ResponseWriter, r *http.Request) {
	voter, ok := middleware.VoterFromContext(r.Context())
	if !ok {
		respondError(w, r, errors.NewInternalError("Voter handle missing", nil), h.logger)
		return
	}

	var req domain.IssueClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	if _, err := h.claims.IssueClaim(r.Context(), voter.ID, req.Email); err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusAccepted, domain.IssueClaimResponse{Sent: true})
}

// Redeem handles POST /api/v1/claims/redeem
func (h *ClaimHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	res, err := h.claims.Redeem(r.Context(), strings.ToLower(req.Token))
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// RedeemLink handles GET /claim/{token}, the link in the email. It always
// redirects: to the success view with the result or to the invalid view.
func (h *ClaimHandler) RedeemLink(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")

	res, err := h.claims.Redeem(r.Context(), strings.ToLower(chi.URLParam(r, "token")))
	if err != nil {
		appErr := errors.FromDomain(err)
		if appErr.StatusCode >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Claim redemption failed")
			http.Redirect(w, r, h.frontendURL+"/claim/error", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, h.frontendURL+"/claim/invalid", http.StatusSeeOther)
		return
	}

	q := url.Values{}
	q.Set("xp", strconv.Itoa(res.TotalXp))
	q.Set("email", res.Email)
	http.Redirect(w, r, h.frontendURL+"/claim/success?"+q.Encode(), http.StatusSeeOther)
}
