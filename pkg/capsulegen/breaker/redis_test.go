package breaker

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, keyPrefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, keyPrefix), srv
}

func TestRedisStoreUnseenProviderIsClosed(t *testing.T) {
	store, _ := newRedisStore(t, "")

	snap, err := store.Get(context.Background(), "prov")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.Failures)
}

func TestRedisStoreUpdateRoundTrip(t *testing.T) {
	store, srv := newRedisStore(t, "test:breaker:")
	ctx := context.Background()

	updated, err := store.Update(ctx, "prov", func(s *Snapshot) {
		s.State = StateOpen
		s.Failures = 3
	})
	require.NoError(t, err)
	assert.Equal(t, StateOpen, updated.State)
	assert.Equal(t, 3, updated.Failures)

	// The write landed under the configured prefix.
	assert.True(t, srv.Exists("test:breaker:prov"))

	snap, err := store.Get(ctx, "prov")
	require.NoError(t, err)
	assert.Equal(t, updated, snap)
}

func TestRedisStoreConcurrentUpdates(t *testing.T) {
	// Concurrent writers contend on the same key; the optimistic-lock
	// retry must not lose increments.
	store, _ := newRedisStore(t, "")
	ctx := context.Background()

	const workers = 4
	const perWorker = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := store.Update(ctx, "prov", func(s *Snapshot) {
					s.Failures++
				})
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := store.Get(ctx, "prov")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, snap.Failures)
}

func TestRedisStoreSharedAcrossBreakers(t *testing.T) {
	// Two breaker instances over the same store see the same circuit,
	// the way two service replicas sharing a Redis would.
	store, _ := newRedisStore(t, "")
	ctx := context.Background()

	first := New(store, Config{FailureThreshold: 2})
	second := New(store, Config{FailureThreshold: 2})

	require.NoError(t, first.RecordFailure(ctx, "prov"))
	require.NoError(t, first.RecordFailure(ctx, "prov"))

	d, err := second.Allow(ctx, "prov")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
}
