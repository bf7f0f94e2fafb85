package handler

import (
	"net/http"

	"pulse-api/internal/domain"
	"pulse-api/internal/middleware"
	"pulse-api/internal/service"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// VotingHandler serves questions and vote submission
type VotingHandler struct {
	votes  *service.VoteService
	logger *logger.Logger
}

// NewVotingHandler creates a new voting handler
func NewVotingHandler(votes *service.VoteService, log *logger.Logger) *VotingHandler {
	return &VotingHandler{votes: votes, logger: log.Named("voting_handler")}
}

// ActiveQuestions handles GET /api/v1/questions/active
func (h *VotingHandler) ActiveQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.votes.ActiveQuestions(r.Context())
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	if questions == nil {
		questions = []*domain.Question{}
	}
	if notModified(w, r, questions) {
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=30")
	respondJSON(w, http.StatusOK, questions)
}

// SubmitVote handles POST /api/v1/questions/{questionId}/votes
func (h *VotingHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	voter, ok := middleware.VoterFromContext(r.Context())
	if !ok {
		respondError(w, r, errors.NewInternalError("Voter handle missing", nil), h.logger)
		return
	}

	var req domain.VoteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	vote, err := h.votes.Submit(r.Context(), domain.SubmitVoteInput{
		QuestionID:    chi.URLParam(r, "questionId"),
		VoterID:       voter.ID,
		OriginAddress: middleware.ClientIP(r),
		Response:      req.Response,
	})
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	respondJSON(w, http.StatusCreated, domain.VoteResponse{
		Accepted:   true,
		VoteID:     vote.ID,
		QuestionID: vote.QuestionID,
		Timestamp:  vote.CreatedAt,
	})
}
