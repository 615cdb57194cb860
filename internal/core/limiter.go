package core

// limiter.go bounds how many external engine subprocesses run at once.
//
// Jobs themselves are unbounded; only the OS-level processes they spawn are
// gated. When every slot is taken, Acquire waits up to maxWait and then
// fails with ErrTooManyProcesses.

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultMaxProcesses is used when the configured limit is not positive.
const DefaultMaxProcesses = 4

// DefaultMaxWait is used when the configured wait is not positive.
const DefaultMaxWait = 5 * time.Minute

// ProcessLimiter is a counting semaphore for engine subprocesses.
type ProcessLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewProcessLimiter allows at most maxProcesses concurrent holders.
func NewProcessLimiter(maxProcesses int, maxWait time.Duration) *ProcessLimiter {
	if maxProcesses <= 0 {
		maxProcesses = DefaultMaxProcesses
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &ProcessLimiter{
		slots:   make(chan struct{}, maxProcesses),
		maxWait: maxWait,
	}
}

// Acquire blocks until a slot is free, ctx is done or maxWait elapses.
// Callers must Release exactly once after a nil return.
func (l *ProcessLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyProcesses
	}
}

// TryAcquire takes a slot without blocking.
func (l *ProcessLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *ProcessLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// WaitForDrain blocks until no slot is held or ctx is done.
func (l *ProcessLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a snapshot of a ProcessLimiter.
type LimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Max       int `json:"max"`
}

// Status returns the current limiter state for monitoring.
func (l *ProcessLimiter) Status() LimiterStatus {
	active := int(l.active.Load())
	return LimiterStatus{
		Active:    active,
		Available: cap(l.slots) - len(l.slots),
		Max:       cap(l.slots),
	}
}
