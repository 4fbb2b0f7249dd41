package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to, so token refills are deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestLimiter(perSecond float64, burst int, maxWait time.Duration) (*Limiter, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var slept []time.Duration
	l := New(perSecond, burst, maxWait,
		WithClock(clock.Now),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			clock.Advance(d)
			return nil
		}),
	)
	return l, clock, &slept
}

func TestAcquireWithinBurst(t *testing.T) {
	l, _, slept := newTestLimiter(1, 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "tenant-a"))
	}
	assert.Empty(t, *slept, "burst tokens must not wait")
}

func TestAcquireWaitsForRefill(t *testing.T) {
	l, _, slept := newTestLimiter(1, 1, 2*time.Second)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "tenant-a"))
	require.NoError(t, l.Acquire(ctx, "tenant-a"))

	require.Len(t, *slept, 1)
	assert.Equal(t, time.Second, (*slept)[0])
}

func TestAcquireFailsPastWaitBudget(t *testing.T) {
	l, clock, slept := newTestLimiter(1, 1, 500*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "tenant-a"))

	err := l.Acquire(ctx, "tenant-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Empty(t, *slept, "over-budget waits fail fast instead of sleeping")

	// The failed reservation was cancelled, so after a refill the tenant
	// gets a token without paying twice.
	clock.Advance(time.Second)
	require.NoError(t, l.Acquire(ctx, "tenant-a"))
}

func TestAcquireTenantIsolation(t *testing.T) {
	l, _, slept := newTestLimiter(1, 1, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "tenant-a"))
	// tenant-a's exhausted bucket must not affect tenant-b.
	require.NoError(t, l.Acquire(ctx, "tenant-b"))
	assert.Empty(t, *slept)

	err := l.Acquire(ctx, "tenant-a")
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(ErrRateLimited))
	assert.False(t, IsTransient(base))
	assert.NoError(t, Transient(nil))

	// The wrap stays unwrappable to the original error.
	assert.True(t, errors.Is(Transient(base), base))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("validation failed")
	err := Retry(context.Background(), RetryConfig{Attempts: 5, Base: time.Nanosecond}, func() error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, permanent, err)
}

func TestRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 3, Base: time.Nanosecond, Cap: time.Microsecond}, func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 3, Base: time.Nanosecond}, func() error {
		calls++
		return Transient(errors.New("still flaky"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}
