package durationutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Literals(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":    5 * time.Minute,
		"250ms": 250 * time.Millisecond,
		"30s":   30 * time.Second,
		"2h":    2 * time.Hour,
		"1d":    24 * time.Hour,
		"1w":    7 * 24 * time.Hour,
		"1y":    365 * 24 * time.Hour,
		"1500":  1500 * time.Millisecond,
	}
	for literal, want := range cases {
		got, err := Parse(literal)
		require.NoError(t, err, literal)
		assert.Equal(t, want, got, literal)
	}
}

func TestParse_FiveMinutesEqualsMilliseconds(t *testing.T) {
	d, err := Parse("5m")
	require.NoError(t, err)
	assert.EqualValues(t, 5*60*1000, d.Milliseconds())
}

func TestParse_Invalid(t *testing.T) {
	for _, bad := range []string{"", "abc", "-5m", "5mx", "m5"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}
