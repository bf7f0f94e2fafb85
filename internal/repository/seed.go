package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse-api/internal/domain"
)

// SampleQuestions returns one open question of every type
func SampleQuestions(now time.Time) []*domain.Question {
	choices := func(keys ...string) []domain.Option {
		opts := make([]domain.Option, 0, len(keys)/2)
		for i := 0; i+1 < len(keys); i += 2 {
			opts = append(opts, domain.Option{Key: keys[i], Label: keys[i+1]})
		}
		return opts
	}

	specs := []struct {
		id, title, category string
		typ                 domain.QuestionType
		spec                domain.OptionSpec
	}{
		{"q-dark-mode", "Should the app default to dark mode?", "product", domain.QuestionBinary,
			domain.OptionSpec{Options: choices("yes", "Yes", "no", "No")}},
		{"q-features", "Which features do you use weekly?", "product", domain.QuestionMultiChoice,
			domain.OptionSpec{Options: choices("search", "Search", "share", "Sharing", "export", "Export", "alerts", "Alerts"), MinSelections: 1, MaxSelections: 3}},
		{"q-onboarding", "How was onboarding?", "experience", domain.QuestionRating,
			domain.OptionSpec{ScaleMin: 1, ScaleMax: 5}},
		{"q-wish", "What one thing should we build next?", "experience", domain.QuestionText,
			domain.OptionSpec{MaxLength: 280}},
		{"q-priorities", "Rank these priorities", "roadmap", domain.QuestionRanking,
			domain.OptionSpec{Options: choices("speed", "Speed", "price", "Price", "design", "Design")}},
		{"q-landing", "Which landing page reads better?", "marketing", domain.QuestionABTest,
			domain.OptionSpec{Options: choices("a", "Variant A", "b", "Variant B")}},
	}

	start := now.Add(-time.Hour).UTC()
	questions := make([]*domain.Question, 0, len(specs))
	for i, s := range specs {
		raw, _ := json.Marshal(s.spec)
		questions = append(questions, &domain.Question{
			ID:           s.id,
			Title:        s.title,
			Type:         s.typ,
			Options:      raw,
			Category:     s.category,
			StartsAt:     &start,
			DisplayOrder: i + 1,
			CreatedAt:    start,
		})
	}
	return questions
}

// Seed upserts the sample questions
func Seed(ctx context.Context, questions QuestionRepository, now time.Time) (int, error) {
	sample := SampleQuestions(now)
	for _, q := range sample {
		if err := questions.Upsert(ctx, q); err != nil {
			return 0, fmt.Errorf("seed %s: %w", q.ID, err)
		}
	}
	return len(sample), nil
}
