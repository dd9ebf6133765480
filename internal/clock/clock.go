package clock

import (
	"context"
	"sync"
	"time"
)

// Clock schedules continuations. Wait blocks until d has elapsed or ctx is done,
// whichever comes first, and returns ctx.Err() in the latter case.
type Clock interface {
	Now() time.Time
	Wait(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by time.Timer
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a Clock that returns from Wait immediately, advancing its own time.
// It records every requested delay.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration

	// OnWait, if set, runs inside Wait before it returns. Tests use it to mutate the page
	// or cancel the session while the automation is suspended.
	OnWait func(d time.Duration)
}

// NewFake returns a Fake starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.waits = append(f.waits, d)
	hook := f.OnWait
	f.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// Waits returns the delays requested so far
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}
