package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	utilsTime := Now()
	standardTime := time.Now().UTC()

	assert.WithinDuration(t, standardTime, utilsTime, 10*time.Millisecond)
	assert.Equal(t, time.UTC, utilsTime.Location())
}

func TestStartOfDay(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)

	tests := []struct {
		name     string
		input    time.Time
		loc      *time.Location
		expected time.Time
	}{
		{
			name:     "utc midday",
			input:    time.Date(2024, 5, 10, 13, 45, 0, 0, time.UTC),
			loc:      nil,
			expected: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "utc early morning is previous local day",
			input:    time.Date(2024, 5, 10, 1, 0, 0, 0, time.UTC),
			loc:      saoPaulo,
			expected: time.Date(2024, 5, 9, 0, 0, 0, 0, saoPaulo),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.expected.Equal(StartOfDay(tc.input, tc.loc)))
		})
	}
}

func TestCeilHours(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected int
	}{
		{name: "exact hours", input: 14 * time.Hour, expected: 14},
		{name: "partial hour rounds up", input: 13*time.Hour + time.Minute, expected: 14},
		{name: "one second", input: time.Second, expected: 1},
		{name: "zero", input: 0, expected: 0},
		{name: "negative", input: -time.Hour, expected: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CeilHours(tc.input))
		})
	}
}

func TestAgeInDays(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, AgeInDays(now.Add(-23*time.Hour), now))
	assert.Equal(t, 6, AgeInDays(now.Add(-6*24*time.Hour-time.Hour), now))
	assert.Equal(t, 7, AgeInDays(now.Add(-7*24*time.Hour), now))
	assert.Equal(t, 0, AgeInDays(now.Add(time.Hour), now))
}

func TestFormatISO8601(t *testing.T) {
	input := time.Date(2021, 1, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*60*60))
	assert.Equal(t, "2021-01-01T05:00:00Z", FormatISO8601(input))
}
