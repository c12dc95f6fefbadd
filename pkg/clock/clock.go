package clock

import (
	"sync"
	"time"
)

// Clock is our interface for a type that can be used to tell the time.
type Clock interface {
	// Now returns the current time
	Now() time.Time
}

// New returns a new real Clock instance.
func New() Clock {
	return &realClock{}
}

type realClock struct{}

// Now returns the result of time.Now in UTC.
func (r *realClock) Now() time.Time {
	return time.Now().UTC()
}

// NewStrict wraps the given clock so that successive calls to Now never return
// the same or an earlier instant. When the wrapped clock stalls or steps back,
// the previous value plus one microsecond is returned instead. Microseconds
// are the resolution Postgres keeps for timestamps.
func NewStrict(c Clock) Clock {
	return &strictClock{clock: c}
}

type strictClock struct {
	clock Clock

	mu   sync.Mutex
	last time.Time
}

func (s *strictClock) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}

	s.last = now

	return now
}
