package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssemblyDate(t *testing.T) {
	now := time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		input string
		want  time.Time
	}{
		{"15/02/2025", day(2025, time.February, 15)},
		{"2025-02-15", day(2025, time.February, 15)},
		{"today", day(2025, time.March, 10)},
		{"Yesterday", day(2025, time.March, 9)},
		{"3 days ago", day(2025, time.March, 7)},
		{"1 day ago", day(2025, time.March, 9)},
		{"2 weeks ago", day(2025, time.February, 24)},
		{"29/02/2024", day(2024, time.February, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAssemblyDate(tt.input, now)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
}

func TestParseAssemblyDateEmpty(t *testing.T) {
	got, err := parseAssemblyDate("  ", time.Now())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseAssemblyDateRejects(t *testing.T) {
	now := time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC)

	for _, input := range []string{
		"31/02/2025",
		"11/03/2025", // tomorrow
		"13/13/2025",
		"in 3 days",
		"soon",
		"15/02/1999",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := parseAssemblyDate(input, now)
			assert.Error(t, err)
		})
	}
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "—", FormatDate(nil))
	d := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "05/01/2025", FormatDate(&d))
}
