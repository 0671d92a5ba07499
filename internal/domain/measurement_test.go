package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSpO2Range(t *testing.T) {
	ts := time.Date(2024, 10, 5, 23, 3, 34, 500_000_000, time.FixedZone("MDT", -6*3600))

	m, err := NewSpO2(ts, 98.6, SourceFitbit)
	require.NoError(t, err)
	require.Equal(t, MetricSpO2, m.Metric)
	require.Equal(t, time.Date(2024, 10, 6, 5, 3, 34, 0, time.UTC), m.Time)
	require.Equal(t, time.UTC, m.Time.Location())

	for _, bad := range []float64{-0.1, 100.1, math.NaN()} {
		_, err := NewSpO2(ts, bad, SourceFitbit)
		require.Error(t, err, "value %v", bad)
	}
	_, err = NewSpO2(ts, 100, SourceFitbit)
	require.NoError(t, err)
}

func TestNewPulse(t *testing.T) {
	m, err := NewPulse(time.Unix(1728190000, 0), 72, SourceEMAY)
	require.NoError(t, err)
	require.Equal(t, MetricPulse, m.Metric)
	require.Equal(t, int64(72), m.IntValue())

	_, err = NewPulse(time.Unix(1728190000, 0), -1, SourceEMAY)
	require.Error(t, err)
}

func TestFitbitSetTokensReplacesPair(t *testing.T) {
	c := &FitbitCredentials{AccessToken: "old-a", RefreshToken: "old-r"}
	c.SetTokens("new-a", "new-r")
	require.Equal(t, "new-a", c.AccessToken)
	require.Equal(t, "new-r", c.RefreshToken)
}
