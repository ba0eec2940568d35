package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/metrics"
)

func TestLimiterWaitDelaysSecondToken(t *testing.T) {
	t.Parallel()

	rec, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	// 10 RPS is one token every 100ms; burst 1 starts with a single token.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1}, rec)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1}, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1}, nil)
	require.NoError(t, l.Wait(context.Background(), "https://slow.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com/"))
}

func TestLimiterHostOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1, Hosts: map[string]float64{"fast.com": 1000}}, nil)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://fast.com/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://fast.com/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://x.com/"))
	}
}
