// Package retry wraps network-bound calls in exponential backoff with jitter.
// Local subprocess calls are not meant to go through it.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type Jitter int

const (
	// FullJitter sleeps a uniform random duration in [0, delay).
	FullJitter Jitter = iota
	NoJitter
)

type Policy struct {
	MaxAttempts   int
	StartingDelay time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	Jitter        Jitter

	// OnRetry, if set, is called before each sleep.
	OnRetry func(attempt int, err error, wait time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
	rand  func(n int64) int64
}

// Default is the policy used for story fetch, narration, image and media
// download calls.
func Default() Policy {
	return Policy{
		MaxAttempts:   5,
		StartingDelay: time.Second,
		Multiplier:    3,
		MaxDelay:      30 * time.Second,
		Jitter:        FullJitter,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions returning a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if attempt == attempts {
			break
		}
		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := p.doSleep(ctx, wait); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, lastErr
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.StartingDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		base *= mult
		if p.MaxDelay > 0 && base >= float64(p.MaxDelay) {
			base = float64(p.MaxDelay)
			break
		}
	}
	d := time.Duration(base)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter == FullJitter && d > 0 {
		rnd := p.rand
		if rnd == nil {
			rnd = rand.Int64N
		}
		d = time.Duration(rnd(int64(d)))
	}
	return d
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Immediate returns a copy of p that never sleeps. Meant for tests.
func (p Policy) Immediate() Policy {
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}
