package breaker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(NewMemoryStore(), DefaultConfig,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold-1; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
		d, err := b.Allow(ctx, "openai")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "still closed after %d failures", i+1)
	}

	require.NoError(t, b.RecordFailure(ctx, "openai"))
	d, err := b.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
	assert.Greater(t, d.RetryIn, time.Duration(0))
	assert.Contains(t, d.Reason, "openai")
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}

	clock.Advance(DefaultConfig.ResetTimeout + time.Second)

	d, err := b.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, StateHalfOpen, d.State)
}

func TestBreakerClosesAfterConsecutiveSuccesses(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}
	clock.Advance(DefaultConfig.ResetTimeout + time.Second)
	_, err := b.Allow(ctx, "openai")
	require.NoError(t, err)

	for i := 0; i < DefaultConfig.SuccessThreshold; i++ {
		require.NoError(t, b.RecordSuccess(ctx, "openai"))
	}

	snap, err := b.Snapshot(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.Failures)
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}
	clock.Advance(DefaultConfig.ResetTimeout + time.Second)
	_, err := b.Allow(ctx, "openai")
	require.NoError(t, err)

	// One success then a single failure: straight back to open.
	require.NoError(t, b.RecordSuccess(ctx, "openai"))
	require.NoError(t, b.RecordFailure(ctx, "openai"))

	d, err := b.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
}

func TestBreakerFailureWindowReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold-1; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}

	// Old failures age out of the window; the next one starts a new count.
	clock.Advance(DefaultConfig.FailureWindow + time.Second)
	require.NoError(t, b.RecordFailure(ctx, "openai"))

	snap, err := b.Snapshot(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 1, snap.Failures)
}

func TestBreakerProvidersIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}

	d, err := b.Allow(ctx, "anthropic")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "failures on one provider must not gate another")
}

func TestBreakerReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}
	require.NoError(t, b.Reset(ctx, "openai"))

	d, err := b.Allow(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, StateClosed, d.State)
}

func TestBreakerTransitionCallback(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var transitions []string
	b := New(NewMemoryStore(), DefaultConfig,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOnTransition(func(provider string, from, to State) {
			transitions = append(transitions, string(from)+"->"+string(to))
		}),
	)

	for i := 0; i < DefaultConfig.FailureThreshold; i++ {
		require.NoError(t, b.RecordFailure(ctx, "openai"))
	}
	clock.Advance(DefaultConfig.ResetTimeout + time.Second)
	_, _ = b.Allow(ctx, "openai")
	require.NoError(t, b.RecordSuccess(ctx, "openai"))
	require.NoError(t, b.RecordSuccess(ctx, "openai"))

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestMemoryStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = store.Update(ctx, "shared", func(s *Snapshot) {
					s.Failures++
				})
			}
		}()
	}
	wg.Wait()

	snap, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, goroutines*100, snap.Failures)
}
