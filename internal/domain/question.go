package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType selects which response variant is valid for a question
type QuestionType string

const (
	QuestionBinary      QuestionType = "binary"
	QuestionMultiChoice QuestionType = "multi_choice"
	QuestionRating      QuestionType = "rating"
	QuestionText        QuestionType = "text"
	QuestionRanking     QuestionType = "ranking"
	QuestionABTest      QuestionType = "ab_test"
)

// Valid reports whether t is a known question type
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionBinary, QuestionMultiChoice, QuestionRating, QuestionText, QuestionRanking, QuestionABTest:
		return true
	}
	return false
}

// Option is a selectable key of a question (choice, ranking item or A/B variant)
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// OptionSpec is the type-specific option payload of a question.
// Only the fields relevant to the question's type are populated.
type OptionSpec struct {
	Options       []Option `json:"options,omitempty"`
	MinSelections int      `json:"min_selections,omitempty"`
	MaxSelections int      `json:"max_selections,omitempty"`
	ScaleMin      int      `json:"scale_min,omitempty"`
	ScaleMax      int      `json:"scale_max,omitempty"`
	MaxLength     int      `json:"max_length,omitempty"`
}

// Question is authored externally and read-only to the core
type Question struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Type         QuestionType    `json:"type"`
	Options      json.RawMessage `json:"options"`
	Category     string          `json:"category"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
	DisplayOrder int             `json:"display_order"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsActiveAt reports whether now falls inside the question's window.
// An unset bound is open.
func (q *Question) IsActiveAt(now time.Time) bool {
	if q.StartsAt != nil && now.Before(*q.StartsAt) {
		return false
	}
	if q.EndsAt != nil && !now.Before(*q.EndsAt) {
		return false
	}
	return true
}

// Spec decodes the option payload
func (q *Question) Spec() (*OptionSpec, error) {
	var spec OptionSpec
	if len(q.Options) == 0 {
		return &spec, nil
	}
	if err := json.Unmarshal(q.Options, &spec); err != nil {
		return nil, fmt.Errorf("decode options for question %s: %w", q.ID, err)
	}
	return &spec, nil
}

// HasOption reports whether key is one of the declared option keys
func (s *OptionSpec) HasOption(key string) bool {
	for _, o := range s.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}
