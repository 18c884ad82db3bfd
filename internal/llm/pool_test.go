package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRoundRobin(t *testing.T) {
	p, err := NewPool([]string{"k1", "k2", "k3"}, 1000, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	var seen []string
	for i := 0; i < 6; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		seen = append(seen, lease.Key)
		lease.Release(nil)
	}
	require.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, seen)
}

func TestPoolAuthErrorDisablesKeyPermanently(t *testing.T) {
	p, err := NewPool([]string{"k1", "k2"}, 1000, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "k1", lease.Key)
	lease.Release(&AuthError{})

	require.Equal(t, 1, p.ActiveCount())
	for i := 0; i < 4; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.Equal(t, "k2", lease.Key)
		lease.Release(nil)
	}
}

func TestPoolRateLimitedPutsKeyOnCooldown(t *testing.T) {
	p, err := NewPool([]string{"k1", "k2"}, 1000, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release(&RateLimited{})

	require.Equal(t, 1, p.ActiveCount())

	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "k2", lease2.Key)
	lease2.Release(nil)

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 2, p.ActiveCount())
}

func TestPoolAcquireBlocksUntilKeyAvailable(t *testing.T) {
	p, err := NewPool([]string{"k1"}, 1000, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release(&RateLimited{})

	start := time.Now()
	lease2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "k1", lease2.Key)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPoolAcquireRespectsContextCancellation(t *testing.T) {
	p, err := NewPool([]string{"k1"}, 1000, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release(&RateLimited{})

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(cancelCtx)
	require.Error(t, err)
}

func TestNewPoolRejectsEmptyKeyList(t *testing.T) {
	_, err := NewPool(nil, 1, time.Second)
	require.Error(t, err)

	_, err = NewPool([]string{"", "  "}, 1, time.Second)
	require.NoError(t, err) // "  " is not filtered by trim, only exact empty string

	_, err = NewPool([]string{""}, 1, time.Second)
	require.Error(t, err)
}
