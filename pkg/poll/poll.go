// Package poll runs a bounded, fixed-interval polling loop.
package poll

import (
	"context"
	"errors"
	"time"
)

var ErrExhausted = errors.New("poll attempts exhausted")

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy polls every Interval, at most MaxAttempts times.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// Until sleeps, then calls fn with the 1-based attempt number, until fn
// reports done, fn fails, ctx ends, or the attempts run out.
func (p Policy) Until(ctx context.Context, fn func(ctx context.Context, attempt int) (bool, error)) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
