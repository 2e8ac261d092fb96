// Package attempt implements bounded retry loops.
package attempt

import (
	"context"
	"time"
)

// Strategy represents a retry strategy. An attempt is made at least Min
// times and until Total has elapsed, sleeping Delay between attempts.
type Strategy struct {
	Total time.Duration
	Delay time.Duration
	Min   int
}

// Attempt tracks the progress of a Strategy.
type Attempt struct {
	strategy Strategy
	last     time.Time
	end      time.Time
	force    bool
	count    int
}

// Start begins a new sequence of attempts for the given strategy.
func (s Strategy) Start() *Attempt {
	now := time.Now()
	return &Attempt{
		strategy: s,
		last:     now,
		end:      now.Add(s.Total),
		force:    true,
	}
}

// Next waits until it is time to perform the next attempt or returns
// false if it is time to stop trying.
func (a *Attempt) Next() bool {
	now := time.Now()
	sleep := a.nextSleep(now)
	if !a.force && !now.Add(sleep).Before(a.end) && a.strategy.Min <= a.count {
		return false
	}
	a.force = false
	if sleep > 0 && a.count > 0 {
		time.Sleep(sleep)
		now = time.Now()
	}
	a.count++
	a.last = now
	return true
}

func (a *Attempt) nextSleep(now time.Time) time.Duration {
	sleep := a.strategy.Delay - now.Sub(a.last)
	if sleep < 0 {
		return 0
	}
	return sleep
}

// HasNext returns whether another attempt will be made if the current
// one fails.
func (a *Attempt) HasNext() bool {
	if a.force || a.strategy.Min > a.count {
		return true
	}
	now := time.Now()
	if now.Add(a.nextSleep(now)).Before(a.end) {
		a.force = true
		return true
	}
	return false
}

// Count returns the number of attempts made so far.
func (a *Attempt) Count() int { return a.count }

// Run calls f until it returns nil or the strategy is exhausted, returning
// the last error.
func (s Strategy) Run(f func() error) error {
	return s.RunContext(context.Background(), f)
}

// RunContext is like Run but stops early when ctx is done.
func (s Strategy) RunContext(ctx context.Context, f func() error) (err error) {
	for a := s.Start(); a.Next(); {
		if err = f(); err == nil {
			return nil
		}
		if !a.HasNext() {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return err
}
