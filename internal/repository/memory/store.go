// Package memory is an in-process store honoring the same uniqueness and
// atomicity contracts as the Postgres repositories. It backs tests and
// STORE_DRIVER=memory local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/repository"

	"github.com/google/uuid"
)

type voteKey struct {
	questionID string
	voterID    string
}

type ledgerKey struct {
	voterID     string
	reason      domain.LedgerReason
	referenceID string
}

// Store holds every table behind one mutex
type Store struct {
	mu sync.Mutex

	votersByID    map[string]*domain.VoterHandle
	votersByToken map[string]string
	questions     map[string]*domain.Question
	votes         map[voteKey]*domain.VoteRecord
	voteOrder     []voteKey
	ledger        []domain.XpLedgerEntry
	ledgerKeys    map[ledgerKey]struct{}
	milestones    map[string]map[string]time.Time
	claims        map[string]*domain.XpClaim

	// FailNext, when set, is returned once by the next write and cleared.
	FailNext error
}

// New creates an empty store
func New() *Store {
	return &Store{
		votersByID:    make(map[string]*domain.VoterHandle),
		votersByToken: make(map[string]string),
		questions:     make(map[string]*domain.Question),
		votes:         make(map[voteKey]*domain.VoteRecord),
		ledgerKeys:    make(map[ledgerKey]struct{}),
		milestones:    make(map[string]map[string]time.Time),
		claims:        make(map[string]*domain.XpClaim),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Voters:    voters{s},
		Questions: questions{s},
		Votes:     votes{s},
		Ledger:    ledger{s},
		Claims:    claims{s},
	}
}

// must be called with mu held
func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// SetFailNext arms a one-shot failure for the next write
func (s *Store) SetFailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNext = err
}

// LedgerEntries returns a copy of a voter's entries in append order
func (s *Store) LedgerEntries(voterID string) []domain.XpLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.XpLedgerEntry
	for _, e := range s.ledger {
		if e.VoterID == voterID {
			out = append(out, e)
		}
	}
	return out
}

// VoteCount returns the number of stored votes for a question
func (s *Store) VoteCount(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.votes {
		if k.questionID == questionID {
			n++
		}
	}
	return n
}

type voters struct{ s *Store }

func (r voters) InsertOrGet(_ context.Context, handle *domain.VoterHandle) (*domain.VoterHandle, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return nil, false, err
	}
	if id, ok := r.s.votersByToken[handle.Token]; ok {
		existing := *r.s.votersByID[id]
		return &existing, false, nil
	}
	stored := *handle
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	r.s.votersByID[stored.ID] = &stored
	r.s.votersByToken[stored.Token] = stored.ID
	out := stored
	return &out, true, nil
}

func (r voters) GetByID(_ context.Context, id string) (*domain.VoterHandle, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.votersByID[id]
	if !ok {
		return nil, domain.ErrVoterNotFound
	}
	out := *h
	return &out, nil
}

func (r voters) CountWithVotes(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, h := range r.s.votersByID {
		if h.VoteCount > 0 {
			n++
		}
	}
	return n, nil
}

type questions struct{ s *Store }

func (r questions) GetByID(_ context.Context, id string) (*domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.questions[id]
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	out := *q
	return &out, nil
}

func (r questions) ListActive(_ context.Context, now time.Time) ([]*domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Question
	for _, q := range r.s.questions {
		if q.IsActiveAt(now) {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r questions) Upsert(_ context.Context, q *domain.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *q
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.s.questions[cp.ID] = &cp
	return nil
}

type votes struct{ s *Store }

func (r votes) Insert(_ context.Context, vote *domain.VoteRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	voter, ok := r.s.votersByID[vote.VoterID]
	if !ok {
		return domain.ErrVoterNotFound
	}
	key := voteKey{vote.QuestionID, vote.VoterID}
	if _, dup := r.s.votes[key]; dup {
		return domain.ErrConflict
	}
	if vote.ID == "" {
		vote.ID = uuid.NewString()
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}
	voter.VoteCount++
	vote.VoterSeq = voter.VoteCount
	cp := *vote
	r.s.votes[key] = &cp
	r.s.voteOrder = append(r.s.voteOrder, key)
	return nil
}

func (r votes) Get(_ context.Context, questionID, voterID string) (*domain.VoteRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.votes[voteKey{questionID, voterID}]
	if !ok {
		return nil, nil
	}
	out := *v
	return &out, nil
}

func (r votes) ResponsesForQuestion(_ context.Context, questionID string) ([]domain.Response, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Response
	for _, key := range r.s.voteOrder {
		if key.questionID == questionID {
			out = append(out, r.s.votes[key].Response)
		}
	}
	return out, nil
}

func (r votes) CountAll(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.votes)), nil
}

type ledger struct{ s *Store }

// must be called with mu held
func (s *Store) appendLocked(entry *domain.XpLedgerEntry) bool {
	key := ledgerKey{entry.VoterID, entry.Reason, entry.ReferenceID}
	if _, dup := s.ledgerKeys[key]; dup {
		return false
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.ledgerKeys[key] = struct{}{}
	s.ledger = append(s.ledger, *entry)
	return true
}

func (r ledger) Append(_ context.Context, entry *domain.XpLedgerEntry) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return false, err
	}
	return r.s.appendLocked(entry), nil
}

func (r ledger) Balance(_ context.Context, voterID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := 0
	for _, e := range r.s.ledger {
		if e.VoterID == voterID {
			total += e.Amount
		}
	}
	return total, nil
}

func (r ledger) TotalXp(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, e := range r.s.ledger {
		total += int64(e.Amount)
	}
	return total, nil
}

func (r ledger) CompleteMilestone(_ context.Context, voterID string, def domain.MilestoneDefinition, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return false, err
	}
	done := r.s.milestones[voterID]
	if done == nil {
		done = make(map[string]time.Time)
		r.s.milestones[voterID] = done
	}
	if _, ok := done[def.ID]; ok {
		return false, nil
	}
	done[def.ID] = at
	if def.Reward > 0 {
		r.s.appendLocked(&domain.XpLedgerEntry{
			VoterID:     voterID,
			Amount:      def.Reward,
			Reason:      domain.ReasonMilestone,
			ReferenceID: def.ID,
			CreatedAt:   at,
		})
	}
	return true, nil
}

func (r ledger) CompletedMilestones(_ context.Context, voterID string) (map[string]time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]time.Time, len(r.s.milestones[voterID]))
	for id, at := range r.s.milestones[voterID] {
		out[id] = at
	}
	return out, nil
}

type claims struct{ s *Store }

func (r claims) Create(_ context.Context, claim *domain.XpClaim) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure(); err != nil {
		return err
	}
	if _, dup := r.s.claims[claim.Token]; dup {
		return domain.ErrConflict
	}
	cp := *claim
	r.s.claims[claim.Token] = &cp
	return nil
}

// must be called with mu held
func (s *Store) expireLocked(c *domain.XpClaim, now time.Time) {
	if c.Status == domain.ClaimPending && now.After(c.ExpiresAt) {
		c.Status = domain.ClaimExpired
	}
}

func (r claims) Redeem(_ context.Context, token string, now time.Time) (*domain.XpClaim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[token]
	if !ok {
		return nil, domain.ErrClaimInvalid
	}
	r.s.expireLocked(c, now)
	if c.Status != domain.ClaimPending {
		return nil, domain.ErrClaimInvalid
	}
	c.Status = domain.ClaimClaimed
	claimedAt := now
	c.ClaimedAt = &claimedAt
	out := *c
	return &out, nil
}

func (r claims) GetByToken(_ context.Context, token string, now time.Time) (*domain.XpClaim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[token]
	if !ok {
		return nil, domain.ErrClaimInvalid
	}
	r.s.expireLocked(c, now)
	out := *c
	return &out, nil
}
