package util

import (
	"context"
	"time"
)

// Clock abstracts time for components that sleep between simulation
// steps, so tests can drive them at full speed.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// Sleep blocks for d or until ctx is cancelled. Returns false when the
// context ended the wait early.
func Sleep(ctx context.Context, clock Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
