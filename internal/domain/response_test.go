package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(t *testing.T, typ QuestionType, spec OptionSpec) *Question {
	t.Helper()
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	return &Question{ID: "q1", Type: typ, Options: raw}
}

func opts(keys ...string) []Option {
	out := make([]Option, 0, len(keys))
	for _, k := range keys {
		out = append(out, Option{Key: k, Label: k})
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestValidateResponse(t *testing.T) {
	binary := question(t, QuestionBinary, OptionSpec{Options: opts("yes", "no")})
	badBinary := question(t, QuestionBinary, OptionSpec{Options: opts("a", "b", "c")})
	abTest := question(t, QuestionABTest, OptionSpec{Options: opts("A", "B")})
	multi := question(t, QuestionMultiChoice, OptionSpec{Options: opts("go", "rust", "zig"), MinSelections: 1, MaxSelections: 2})
	rating := question(t, QuestionRating, OptionSpec{ScaleMin: 1, ScaleMax: 10})
	defaultRating := question(t, QuestionRating, OptionSpec{})
	text := question(t, QuestionText, OptionSpec{MaxLength: 5})
	ranking := question(t, QuestionRanking, OptionSpec{Options: opts("x", "y", "z")})

	tests := []struct {
		name    string
		q       *Question
		r       Response
		wantErr bool
	}{
		{"binary ok", binary, Response{Choice: "yes"}, false},
		{"binary unknown", binary, Response{Choice: "maybe"}, true},
		{"binary missing", binary, Response{}, true},
		{"binary with three options", badBinary, Response{Choice: "a"}, true},
		{"type mismatch", binary, Response{Type: QuestionRating, Value: intPtr(1)}, true},
		{"ab ok", abTest, Response{Type: QuestionABTest, Choice: "B"}, false},
		{"multi ok", multi, Response{Choices: []string{"go", "zig"}}, false},
		{"multi too many", multi, Response{Choices: []string{"go", "rust", "zig"}}, true},
		{"multi none", multi, Response{}, true},
		{"multi duplicate", multi, Response{Choices: []string{"go", "go"}}, true},
		{"multi unknown", multi, Response{Choices: []string{"java"}}, true},
		{"rating ok", rating, Response{Value: intPtr(10)}, false},
		{"rating below", rating, Response{Value: intPtr(0)}, true},
		{"rating missing", rating, Response{}, true},
		{"rating default scale", defaultRating, Response{Value: intPtr(6)}, true},
		{"text ok", text, Response{Text: " hi "}, false},
		{"text blank", text, Response{Text: "   "}, true},
		{"text too long", text, Response{Text: "héllo!"}, true},
		{"ranking ok", ranking, Response{Order: []string{"z", "x", "y"}}, false},
		{"ranking partial", ranking, Response{Order: []string{"z", "x"}}, true},
		{"ranking repeated", ranking, Response{Order: []string{"z", "z", "x"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.r
			err := ValidateResponse(tt.q, &r)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.q.Type, r.Type)
		})
	}
}

func TestValidateResponse_TrimsText(t *testing.T) {
	q := question(t, QuestionText, OptionSpec{})
	r := Response{Text: "  great idea \n"}
	require.NoError(t, ValidateResponse(q, &r))
	assert.Equal(t, "great idea", r.Text)
}

func TestBucketKeys(t *testing.T) {
	assert.Equal(t, []string{"yes"}, BucketKeys(QuestionBinary, &Response{Choice: "yes"}))
	assert.Equal(t, []string{"a", "c"}, BucketKeys(QuestionMultiChoice, &Response{Choices: []string{"a", "c"}}))
	assert.Equal(t, []string{"4"}, BucketKeys(QuestionRating, &Response{Value: intPtr(4)}))
	assert.Equal(t, []string{"z"}, BucketKeys(QuestionRanking, &Response{Order: []string{"z", "x"}}))
	assert.Nil(t, BucketKeys(QuestionText, &Response{Text: "hello"}))
}

func TestBucketLayout(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, BucketLayout(question(t, QuestionRating, OptionSpec{})))
	assert.Equal(t, []string{"b", "a"}, BucketLayout(question(t, QuestionMultiChoice, OptionSpec{Options: opts("b", "a")})))
	assert.Empty(t, BucketLayout(question(t, QuestionText, OptionSpec{})))
}

func TestScale_MalformedBoundsFallBack(t *testing.T) {
	tests := []struct {
		name   string
		spec   OptionSpec
		lo, hi int
	}{
		{"unset", OptionSpec{}, 1, 5},
		{"only min", OptionSpec{ScaleMin: 3}, 1, 5},
		{"inverted", OptionSpec{ScaleMin: 7, ScaleMax: 2}, 1, 5},
		{"only max", OptionSpec{ScaleMax: 3}, 0, 3},
		{"declared", OptionSpec{ScaleMin: 1, ScaleMax: 10}, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := tt.spec.Scale()
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}

	q := &Question{ID: "q1", Type: QuestionRating, Options: json.RawMessage(`{"scale_min":3}`)}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, BucketLayout(q))
	require.NotPanics(t, func() {
		snap := BuildSnapshot(q, nil, time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
		assert.Len(t, snap.Breakdown, 5)
	})
}
