// Package throttle enforces a minimum wall-clock interval between the starts
// of successive polling cycles, bounding the request rate against the
// instrument regardless of how fast each cycle runs.
package throttle

import (
	"context"
	"time"
)

// Clock supplies time to the throttle and the decision loop. Sleep returns
// ctx.Err() if the context ends first.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Throttle tracks the start of the previous cycle. It is owned by a single
// loop and is not safe for concurrent use.
type Throttle struct {
	interval time.Duration
	clock    Clock
	last     time.Time
	started  bool
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(t *Throttle) { t.clock = c }
}

// New returns a Throttle enforcing interval between cycle starts. A
// non-positive interval disables waiting.
func New(interval time.Duration, opts ...Option) *Throttle {
	t := &Throttle{
		interval: interval,
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Interval returns the configured minimum spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Wait suspends until at least the interval has elapsed since the previous
// cycle start, then records and returns the new cycle start. The first call
// never waits. On cancellation no start is recorded.
func (t *Throttle) Wait(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if t.started {
		if remaining := t.interval - t.clock.Now().Sub(t.last); remaining > 0 {
			if err := t.clock.Sleep(ctx, remaining); err != nil {
				return time.Time{}, err
			}
		}
	}
	return t.record(), nil
}

// WaitUntil is Wait bounded by deadline. When the next start would fall at
// or after deadline it sleeps only until deadline, records nothing and
// reports false.
func (t *Throttle) WaitUntil(ctx context.Context, deadline time.Time) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	now := t.clock.Now()
	left := deadline.Sub(now)
	if left <= 0 {
		return time.Time{}, false, nil
	}

	if t.started {
		if remaining := t.interval - now.Sub(t.last); remaining > 0 {
			if remaining >= left {
				if err := t.clock.Sleep(ctx, left); err != nil {
					return time.Time{}, false, err
				}
				return time.Time{}, false, nil
			}
			if err := t.clock.Sleep(ctx, remaining); err != nil {
				return time.Time{}, false, err
			}
		}
	}
	return t.record(), true, nil
}

func (t *Throttle) record() time.Time {
	now := t.clock.Now()
	if t.started && now.Before(t.last) {
		// Keep recorded starts non-decreasing if the clock steps backwards.
		now = t.last
	}
	t.last = now
	t.started = true
	return now
}
