package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

var _ crawler.Hook = (*Limiter)(nil)

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 20, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.test/1"))
	require.NoError(t, l.Wait(ctx, "https://a.test/2"))
	require.NoError(t, l.Wait(ctx, "https://a.test/3"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterTracksHostsIndependently(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.BeforeNavigate(ctx, nil, "https://a.test/"))
	require.NoError(t, l.BeforeNavigate(ctx, nil, "https://B.test/"))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.BeforeNavigate(short, nil, "https://a.test/again"))
	require.NoError(t, l.AfterReady(ctx, nil, "https://a.test/"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://a.test/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, "unknown", hostOf("::bad"))
}
