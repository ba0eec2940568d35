package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := System{}.Now()
	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before))
}

func TestFixedAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	clk := NewFixed(start)
	require.True(t, clk.Now().Equal(start))
	require.Equal(t, time.UTC, clk.Now().Location())

	clk.Advance(time.Minute)
	require.True(t, clk.Now().Equal(start.Add(time.Minute)))
}
