package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls  atomic.Int32
	limits []RoleLimit
	delay  time.Duration
}

func (l *countingLoader) ActiveLimits(ctx context.Context) ([]RoleLimit, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return l.limits, nil
}

func TestLimitProviderCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := &countingLoader{limits: DefaultLadder()}
	provider := NewLimitProvider(loader, client, time.Minute, DefaultDualControlThreshold, nil)
	ctx := context.Background()

	table, err := provider.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, RoleDirector, table.ResolveRequirement(Units(75000)).Level)
	require.True(t, mr.Exists("approvals:limits:v1"))

	again, err := provider.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, table.Limits(), again.Limits())
	require.Equal(t, int32(1), loader.calls.Load())

	require.NoError(t, provider.Invalidate(ctx))
	_, err = provider.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), loader.calls.Load())
	require.True(t, mr.Exists("approvals:limits:v2"))
	require.Equal(t, time.Minute, mr.TTL("approvals:limits:v2"))
}

func TestLimitProviderFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	loader := &countingLoader{limits: DefaultLadder()}
	provider := NewLimitProvider(loader, client, time.Minute, DefaultDualControlThreshold, nil)
	mr.Close()

	table, err := provider.Load(context.Background())
	require.NoError(t, err)
	require.False(t, table.Empty())
	require.Equal(t, int32(1), loader.calls.Load())
}

func TestLimitProviderCoalescesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{limits: DefaultLadder(), delay: 50 * time.Millisecond}
	provider := NewLimitProvider(loader, nil, time.Minute, DefaultDualControlThreshold, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := provider.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Less(t, loader.calls.Load(), int32(10))
}

func TestLimitProviderDiscardsCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set("approvals:limits:version", "3"))
	require.NoError(t, mr.Set("approvals:limits:v3", "{not json"))
	loader := &countingLoader{limits: DefaultLadder()}
	provider := NewLimitProvider(loader, client, time.Minute, Units(1000), nil)

	table, err := provider.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Units(1000), table.DualControlThreshold())
	require.Equal(t, int32(1), loader.calls.Load())
}
