package domain

import (
	"math"
	"time"
)

// BreakdownBucket is one option's share of a question's votes
type BreakdownBucket struct {
	OptionKey  string `json:"option_key"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// AggregateSnapshot is derived from VoteRecords and never authored directly
type AggregateSnapshot struct {
	QuestionID  string            `json:"question_id"`
	TotalVotes  int               `json:"total_votes"`
	Breakdown   []BreakdownBucket `json:"breakdown"`
	LastUpdated time.Time         `json:"last_updated"`
}

// DailyStats are today's community counters
type DailyStats struct {
	Date         string `json:"date"`
	Votes        int64  `json:"votes"`
	UniqueVoters int64  `json:"unique_voters"`
}

// GlobalStats feed the public community counters
type GlobalStats struct {
	TotalVotes      int64       `json:"total_votes"`
	UniqueVoters    int64       `json:"unique_voters"`
	ActiveQuestions int64       `json:"active_questions"`
	TotalXpEarned   int64       `json:"total_xp_earned"`
	Today           *DailyStats `json:"today,omitempty"`
	LastUpdated     time.Time   `json:"last_updated"`
}

// BuildSnapshot groups responses into the question's ordered buckets.
// Each bucket's percentage is its count over the number of votes rounded
// to the nearest whole percent, so buckets need not sum to exactly 100.
func BuildSnapshot(q *Question, responses []Response, now time.Time) *AggregateSnapshot {
	layout := BucketLayout(q)
	counts := make(map[string]int, len(layout))
	for i := range responses {
		for _, key := range BucketKeys(q.Type, &responses[i]) {
			counts[key]++
		}
	}

	total := len(responses)
	breakdown := make([]BreakdownBucket, 0, len(layout))
	for _, key := range layout {
		breakdown = append(breakdown, BreakdownBucket{
			OptionKey:  key,
			Count:      counts[key],
			Percentage: Percent(counts[key], total),
		})
	}

	return &AggregateSnapshot{
		QuestionID:  q.ID,
		TotalVotes:  total,
		Breakdown:   breakdown,
		LastUpdated: now.UTC(),
	}
}

// Percent rounds part/total to the nearest whole percent
func Percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}
