package domain

import (
	"time"
)

// VoteRecord is one accepted response of a voter to a question.
// (QuestionID, VoterID) is unique.
type VoteRecord struct {
	ID            string    `json:"id"`
	QuestionID    string    `json:"question_id"`
	VoterID       string    `json:"voter_id"`
	Response      Response  `json:"response"`
	VoterSeq      int       `json:"voter_seq"`
	OriginAddress string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubmitVoteInput carries everything the fast path needs
type SubmitVoteInput struct {
	QuestionID    string
	VoterID       string
	OriginAddress string
	Response      Response
}

// VoteRequest is the body of a vote submission
type VoteRequest struct {
	Response Response `json:"response"`
}

// VoteResponse is returned on an accepted vote
type VoteResponse struct {
	Accepted   bool      `json:"accepted"`
	VoteID     string    `json:"vote_id"`
	QuestionID string    `json:"question_id"`
	Timestamp  time.Time `json:"timestamp"`
}
