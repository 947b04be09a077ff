package workflow

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// PollPolicy controls the poll loop cadence and its overall ceiling.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
}

// NewPollPolicy creates a policy using the real clock.
func NewPollPolicy(interval, timeout time.Duration) PollPolicy {
	return PollPolicy{
		Interval: interval,
		Timeout:  timeout,
		Clock:    clockwork.NewRealClock(),
	}
}

func (p PollPolicy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// Expired reports whether more than Timeout has elapsed since start.
// Elapsed time equal to Timeout is still within bounds.
func (p PollPolicy) Expired(start time.Time) bool {
	return p.clock().Since(start) > p.Timeout
}

// Wait blocks for one interval or until ctx is done.
func (p PollPolicy) Wait(ctx context.Context) error {
	select {
	case <-p.clock().After(p.Interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bound is the longest the poll loop may run: the timeout plus one interval.
func (p PollPolicy) Bound() time.Duration {
	return p.Timeout + p.Interval
}
