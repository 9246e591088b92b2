package timetrack

import (
	"sync"
	"time"
)

// Clock provides the current time to the accumulator.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides a settable time for testing.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Set moves the test clock to ts.
func (t *TestClock) Set(ts time.Time) {
	t.mu.Lock()
	t.CurrentTime = ts
	t.mu.Unlock()
}

// Advance moves the test clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.CurrentTime = t.CurrentTime.Add(d)
	t.mu.Unlock()
}
