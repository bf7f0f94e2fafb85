package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LedgerReason tags why an XP entry was appended
type LedgerReason string

const (
	ReasonVote      LedgerReason = "vote"
	ReasonMilestone LedgerReason = "milestone"
	ReasonBonus     LedgerReason = "bonus"
)

// XpLedgerEntry is append-only. (VoterID, Reason, ReferenceID) is unique so
// replays of the same credit are no-ops.
type XpLedgerEntry struct {
	ID          string       `json:"id"`
	VoterID     string       `json:"voter_id"`
	Amount      int          `json:"amount"`
	Reason      LedgerReason `json:"reason"`
	ReferenceID string       `json:"reference_id"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Tier awards Amount XP for each vote whose ordinal is <= UpTo.
// UpTo == 0 marks the open-ended last tier.
type Tier struct {
	UpTo   int `json:"up_to"`
	Amount int `json:"amount"`
}

// TierSchedule is a non-increasing step function of cumulative vote count
type TierSchedule []Tier

// ParseTierSchedule reads "5:10,20:5,*:2": votes 1-5 earn 10, 6-20 earn 5,
// everything after earns 2.
func ParseTierSchedule(raw string) (TierSchedule, error) {
	var tiers TierSchedule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bound, amount, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("tier %q: expected <upTo>:<amount>", part)
		}
		var t Tier
		if strings.TrimSpace(bound) != "*" {
			n, err := strconv.Atoi(strings.TrimSpace(bound))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("tier %q: invalid bound", part)
			}
			t.UpTo = n
		}
		a, err := strconv.Atoi(strings.TrimSpace(amount))
		if err != nil || a < 0 {
			return nil, fmt.Errorf("tier %q: invalid amount", part)
		}
		t.Amount = a
		tiers = append(tiers, t)
	}
	if err := tiers.Validate(); err != nil {
		return nil, err
	}
	return tiers, nil
}

// Validate checks bounds ascend, rewards never increase and only the last
// tier is open-ended.
func (s TierSchedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("tier schedule is empty")
	}
	for i, t := range s {
		if t.UpTo == 0 && i != len(s)-1 {
			return fmt.Errorf("open-ended tier must be last")
		}
		if i == 0 {
			continue
		}
		prev := s[i-1]
		if t.UpTo != 0 && t.UpTo <= prev.UpTo {
			return fmt.Errorf("tier bounds must ascend: %d after %d", t.UpTo, prev.UpTo)
		}
		if t.Amount > prev.Amount {
			return fmt.Errorf("tier rewards must not increase: %d after %d", t.Amount, prev.Amount)
		}
	}
	return nil
}

// AmountFor returns the reward for the voter's n-th vote (1-based).
// Past a bounded last tier the reward is zero.
func (s TierSchedule) AmountFor(n int) int {
	for _, t := range s {
		if t.UpTo == 0 || n <= t.UpTo {
			return t.Amount
		}
	}
	return 0
}

// CumulativeFor is the total XP earned from the first n votes
func (s TierSchedule) CumulativeFor(n int) int {
	total := 0
	for i := 1; i <= n; i++ {
		total += s.AmountFor(i)
	}
	return total
}

// MilestoneMetric is the cumulative value a milestone watches
type MilestoneMetric string

const (
	MetricVotes MilestoneMetric = "votes"
	MetricXp    MilestoneMetric = "xp"
)

// MilestoneDefinition is a named threshold with an optional bonus reward
type MilestoneDefinition struct {
	ID        string          `json:"id"`
	Metric    MilestoneMetric `json:"metric"`
	Threshold int             `json:"threshold"`
	Reward    int             `json:"reward"`
}

// MetBy reports whether the given running totals satisfy the milestone
func (d MilestoneDefinition) MetBy(votes, xp int) bool {
	switch d.Metric {
	case MetricVotes:
		return votes >= d.Threshold
	case MetricXp:
		return xp >= d.Threshold
	}
	return false
}

// ParseMilestones reads "id:metric:threshold:reward" entries separated by commas
func ParseMilestones(raw string) ([]MilestoneDefinition, error) {
	var defs []MilestoneDefinition
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 4 {
			return nil, fmt.Errorf("milestone %q: expected id:metric:threshold:reward", part)
		}
		def := MilestoneDefinition{ID: fields[0], Metric: MilestoneMetric(fields[1])}
		if def.Metric != MetricVotes && def.Metric != MetricXp {
			return nil, fmt.Errorf("milestone %q: unknown metric %q", part, fields[1])
		}
		var err error
		if def.Threshold, err = strconv.Atoi(fields[2]); err != nil || def.Threshold <= 0 {
			return nil, fmt.Errorf("milestone %q: invalid threshold", part)
		}
		if def.Reward, err = strconv.Atoi(fields[3]); err != nil || def.Reward < 0 {
			return nil, fmt.Errorf("milestone %q: invalid reward", part)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("milestone %q defined twice", def.ID)
		}
		seen[def.ID] = struct{}{}
		defs = append(defs, def)
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Threshold < defs[j].Threshold })
	return defs, nil
}

// Milestone is a voter's progress on one definition
type Milestone struct {
	MilestoneDefinition
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// XpProgress is what a client shows on its progress widget
type XpProgress struct {
	VoterID    string      `json:"voter_id"`
	Balance    int         `json:"balance"`
	VoteCount  int         `json:"vote_count"`
	Milestones []Milestone `json:"milestones"`
}

// CreditJob asks the ledger to reward one committed vote
type CreditJob struct {
	VoterID  string
	VoteID   string
	VoterSeq int
}
