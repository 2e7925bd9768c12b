// Package hostclock supplies host time to the engine. Core packages never
// call time.Now directly; they take a Clock so tests and deterministic
// replays can pin or step time.
package hostclock

import (
	"sync"
	"time"
)

// Clock yields the current host time.
type Clock interface {
	Now() time.Time
}

// Wall is the production clock backed by time.Now.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Useful for tests that assert
// exact timestamps.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }

// Manual is a steppable clock for tests and simulations. The zero value
// starts at the Unix epoch.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a steppable clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new reading.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set pins the clock to the given instant.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
