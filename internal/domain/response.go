package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultScaleMin  = 1
	defaultScaleMax  = 5
	defaultMaxLength = 500
)

// Response is the tagged union of per-type answers. Type selects the
// variant; only the matching field is meaningful.
type Response struct {
	Type    QuestionType `json:"type"`
	Choice  string       `json:"choice,omitempty"`
	Choices []string     `json:"choices,omitempty"`
	Value   *int         `json:"value,omitempty"`
	Text    string       `json:"text,omitempty"`
	Order   []string     `json:"order,omitempty"`
}

// PayloadError describes why a response was rejected
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPayload.Error(), e.Reason)
}

func (e *PayloadError) Unwrap() error {
	return ErrInvalidPayload
}

func invalid(format string, args ...interface{}) error {
	return &PayloadError{Reason: fmt.Sprintf(format, args...)}
}

type responseValidator func(spec *OptionSpec, r *Response) error

var validators = map[QuestionType]responseValidator{
	QuestionBinary:      validateSingleOfTwo,
	QuestionABTest:      validateSingleOfTwo,
	QuestionMultiChoice: validateMultiChoice,
	QuestionRating:      validateRating,
	QuestionText:        validateText,
	QuestionRanking:     validateRanking,
}

// ValidateResponse checks r against the question's declared type and options.
// An empty r.Type is taken to mean the question's own type.
func ValidateResponse(q *Question, r *Response) error {
	if r == nil {
		return invalid("response is required")
	}
	if r.Type == "" {
		r.Type = q.Type
	}
	if r.Type != q.Type {
		return invalid("response type %q does not match question type %q", r.Type, q.Type)
	}
	validate, ok := validators[q.Type]
	if !ok {
		return invalid("unsupported question type %q", q.Type)
	}
	spec, err := q.Spec()
	if err != nil {
		return invalid("question options are malformed")
	}
	return validate(spec, r)
}

func validateSingleOfTwo(spec *OptionSpec, r *Response) error {
	if len(spec.Options) != 2 {
		return invalid("question must declare exactly two options")
	}
	if r.Choice == "" {
		return invalid("choice is required")
	}
	if !spec.HasOption(r.Choice) {
		return invalid("unknown option %q", r.Choice)
	}
	return nil
}

func validateMultiChoice(spec *OptionSpec, r *Response) error {
	minSel, maxSel := spec.MinSelections, spec.MaxSelections
	if minSel <= 0 {
		minSel = 1
	}
	if maxSel <= 0 || maxSel > len(spec.Options) {
		maxSel = len(spec.Options)
	}
	if len(r.Choices) < minSel || len(r.Choices) > maxSel {
		return invalid("select between %d and %d options, got %d", minSel, maxSel, len(r.Choices))
	}
	seen := make(map[string]struct{}, len(r.Choices))
	for _, c := range r.Choices {
		if !spec.HasOption(c) {
			return invalid("unknown option %q", c)
		}
		if _, dup := seen[c]; dup {
			return invalid("option %q selected twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Scale returns the rating bounds. Unset or inverted bounds fall back to 1..5.
func (s *OptionSpec) Scale() (int, int) {
	if (s.ScaleMin == 0 && s.ScaleMax == 0) || s.ScaleMax < s.ScaleMin {
		return defaultScaleMin, defaultScaleMax
	}
	return s.ScaleMin, s.ScaleMax
}

func validateRating(spec *OptionSpec, r *Response) error {
	if r.Value == nil {
		return invalid("rating value is required")
	}
	lo, hi := spec.Scale()
	if *r.Value < lo || *r.Value > hi {
		return invalid("rating must be between %d and %d", lo, hi)
	}
	return nil
}

func validateText(spec *OptionSpec, r *Response) error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return invalid("text is required")
	}
	limit := spec.MaxLength
	if limit <= 0 {
		limit = defaultMaxLength
	}
	if utf8.RuneCountInString(text) > limit {
		return invalid("text exceeds %d characters", limit)
	}
	r.Text = text
	return nil
}

func validateRanking(spec *OptionSpec, r *Response) error {
	if len(r.Order) != len(spec.Options) {
		return invalid("ranking must order all %d items", len(spec.Options))
	}
	seen := make(map[string]struct{}, len(r.Order))
	for _, key := range r.Order {
		if !spec.HasOption(key) {
			return invalid("unknown item %q", key)
		}
		if _, dup := seen[key]; dup {
			return invalid("item %q ranked twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// BucketKeys returns the breakdown buckets a single response contributes to.
// Multi-select votes count towards every selected option; rankings count
// towards their first choice; text answers have no buckets.
func BucketKeys(t QuestionType, r *Response) []string {
	switch t {
	case QuestionBinary, QuestionABTest:
		if r.Choice == "" {
			return nil
		}
		return []string{r.Choice}
	case QuestionMultiChoice:
		return r.Choices
	case QuestionRating:
		if r.Value == nil {
			return nil
		}
		return []string{strconv.Itoa(*r.Value)}
	case QuestionRanking:
		if len(r.Order) == 0 {
			return nil
		}
		return r.Order[:1]
	}
	return nil
}

// BucketLayout returns the ordered bucket keys shown for a question,
// so options with zero votes still appear in the breakdown
func BucketLayout(q *Question) []string {
	spec, err := q.Spec()
	if err != nil {
		return nil
	}
	switch q.Type {
	case QuestionRating:
		lo, hi := spec.Scale()
		keys := make([]string, 0, hi-lo+1)
		for v := lo; v <= hi; v++ {
			keys = append(keys, strconv.Itoa(v))
		}
		return keys
	case QuestionText:
		return nil
	}
	keys := make([]string, 0, len(spec.Options))
	for _, o := range spec.Options {
		keys = append(keys, o.Key)
	}
	return keys
}
