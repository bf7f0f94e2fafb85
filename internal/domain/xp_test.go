package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTierSchedule(t *testing.T) {
	s, err := ParseTierSchedule("5:10,20:5,*:2")
	require.NoError(t, err)
	require.Len(t, s, 3)

	tests := []struct {
		n    int
		want int
	}{
		{1, 10}, {5, 10}, {6, 5}, {20, 5}, {21, 2}, {1000, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.AmountFor(tt.n), "vote %d", tt.n)
	}
	assert.Equal(t, 55, s.CumulativeFor(6))
}

func TestParseTierSchedule_Invalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"5:10,*:2,20:1",
		"5:10,20:15",
		"20:10,5:5",
		"x:1",
		"5:-1",
		"5",
	} {
		_, err := ParseTierSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestTierSchedule_BoundedLastTier(t *testing.T) {
	s, err := ParseTierSchedule("3:4")
	require.NoError(t, err)
	assert.Equal(t, 4, s.AmountFor(3))
	assert.Equal(t, 0, s.AmountFor(4))
}

func TestParseMilestones(t *testing.T) {
	defs, err := ParseMilestones("ten_votes:votes:10:25,first_vote:votes:1:5,xp_100:xp:100:0")
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "first_vote", defs[0].ID)
	assert.Equal(t, "ten_votes", defs[1].ID)
	assert.Equal(t, MetricXp, defs[2].Metric)

	assert.True(t, defs[0].MetBy(1, 0))
	assert.False(t, defs[1].MetBy(9, 500))
	assert.True(t, defs[2].MetBy(0, 100))

	_, err = ParseMilestones("a:votes:1:1,a:votes:2:1")
	assert.Error(t, err)
	_, err = ParseMilestones("a:streak:1:1")
	assert.Error(t, err)
	_, err = ParseMilestones("a:votes:0:1")
	assert.Error(t, err)

	empty, err := ParseMilestones("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
