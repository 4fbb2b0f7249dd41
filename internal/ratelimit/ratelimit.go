// Package ratelimit guards calls to external collaborators (classifier,
// message sender) with a per-tenant token bucket. Callers wait for a token
// up to a bounded budget; past it the call fails with ErrRateLimited and may
// be retried with capped exponential backoff and jitter via Retry.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when no token becomes available within the
// wait budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter maintains one token bucket per tenant.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	maxWait time.Duration

	// now and sleep are injectable so token accounting is deterministic
	// under test.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep overrides how the limiter waits for a token refill.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// New creates a limiter with a sustained per-tenant rate (tokens/second), a
// burst allowance, and a bounded wait budget.
func New(perSecond float64, burst int, maxWait time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		maxWait: maxWait,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) bucket(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[tenantID]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[tenantID] = b
	}
	return b
}

// Acquire takes one token from the tenant's bucket, waiting up to the
// bounded budget for a refill. A wait longer than the budget fails
// immediately with ErrRateLimited; the reservation is returned to the
// bucket so the caller's retry does not pay for it twice.
func (l *Limiter) Acquire(ctx context.Context, tenantID string) error {
	b := l.bucket(tenantID)
	now := l.now()

	res := b.ReserveN(now, 1)
	if !res.OK() {
		return fmt.Errorf("%w: burst %d unavailable for tenant %s", ErrRateLimited, l.burst, tenantID)
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if delay > l.maxWait {
		res.CancelAt(now)
		return fmt.Errorf("%w: next token in %s exceeds wait budget %s", ErrRateLimited, delay, l.maxWait)
	}
	if err := l.sleep(ctx, delay); err != nil {
		res.CancelAt(l.now())
		return err
	}
	return nil
}

// transientError marks an external-call failure as safe to retry.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps an external-call failure so Retry will re-attempt it.
// Domain-mutation failures must never be wrapped: retrying those risks
// duplicate side effects.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is retryable (a Transient wrap or
// ErrRateLimited).
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t) || errors.Is(err, ErrRateLimited)
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	Attempts int           // total attempts including the first
	Base     time.Duration // first backoff
	Cap      time.Duration // backoff ceiling
}

// Retry runs fn with bounded attempts and capped exponential backoff plus
// full jitter. Only transient failures are retried; any other error
// surfaces immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	backoff := cfg.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) || attempt >= cfg.Attempts {
			return err
		}
		jittered := time.Duration(rand.Int63n(int64(backoff) + 1))
		if sleepErr := sleepCtx(ctx, jittered); sleepErr != nil {
			return sleepErr
		}
		backoff *= 2
		if cfg.Cap > 0 && backoff > cfg.Cap {
			backoff = cfg.Cap
		}
	}
}
