// Package clock provides the time source behind every suspension point of the
// stage: interpreter waits, settle delays and the collision tick.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done. A non-positive d returns
	// immediately (after checking ctx).
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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

// Manual is a test clock that only moves when Advance is called.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	until time.Time
	ch    chan struct{}
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	m.mu.Lock()
	w := &waiter{until: m.now.Add(d), ch: make(chan struct{})}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		m.remove(w)
		return ctx.Err()
	}
}

// Advance moves the clock forward and wakes every sleeper whose deadline has
// passed, earliest first.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due, keep []*waiter
	for _, w := range m.waiters {
		if !w.until.After(m.now) {
			due = append(due, w)
		} else {
			keep = append(keep, w)
		}
	}
	m.waiters = keep
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].until.Before(due[j].until) })
	for _, w := range due {
		close(w.ch)
	}
}

// Waiters reports how many goroutines are currently blocked in Sleep.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// BlockUntil waits (in real time, up to timeout) until at least n goroutines
// are sleeping on the clock.
func (m *Manual) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.Waiters() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *Manual) remove(target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}
