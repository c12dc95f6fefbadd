package clock

import (
	"sync"
	"time"
)

// Mock is a manipulable clock for tests where we need control over time.
type Mock interface {
	Clock

	// Set sets the current time of the mock
	Set(t time.Time)

	// Add moves the mock forward (or back) by the passed in duration
	Add(d time.Duration)
}

// NewMock creates a new mock clock initialized to the passed in time
func NewMock(t time.Time) Mock {
	return &mockClock{
		now: t,
	}
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *mockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = t
}

func (m *mockClock) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
}
